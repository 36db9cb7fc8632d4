package trust

import (
	"time"
)

// CheckName identifies one check in the evaluation battery.
type CheckName string

const (
	CheckWhitelist        CheckName = "whitelist"
	CheckBlacklist        CheckName = "blacklist"
	CheckProtocolSecurity CheckName = "protocol_security"
	CheckSchemaValidation CheckName = "schema_validation"
	CheckIPReputation     CheckName = "ip_reputation"
)

// CheckResult is the immutable outcome of a single check.
type CheckResult struct {
	CheckName CheckName              `json:"checkName"`
	Passed    bool                   `json:"passed"`
	Score     int                    `json:"score"` // 0-100
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ComplianceStatus is the coarse bucket derived from the trust score.
// StatusBlocked is produced both for blacklisted sources and for very low
// scores; callers must not read it as "blacklisted".
type ComplianceStatus string

const (
	StatusCompliant    ComplianceStatus = "compliant"
	StatusNonCompliant ComplianceStatus = "non_compliant"
	StatusSuspicious   ComplianceStatus = "suspicious"
	StatusBlocked      ComplianceStatus = "blocked"
	StatusPending      ComplianceStatus = "pending"
)

// AlertLevel is totally ordered by severity: Info < Warning < High < Critical < Emergency.
type AlertLevel int

const (
	AlertInfo AlertLevel = iota
	AlertWarning
	AlertHigh
	AlertCritical
	AlertEmergency
)

func (l AlertLevel) String() string {
	switch l {
	case AlertInfo:
		return "info"
	case AlertWarning:
		return "warning"
	case AlertHigh:
		return "high"
	case AlertCritical:
		return "critical"
	case AlertEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

func (l AlertLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *AlertLevel) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info":
		*l = AlertInfo
	case "warning":
		*l = AlertWarning
	case "high":
		*l = AlertHigh
	case "critical":
		*l = AlertCritical
	case "emergency":
		*l = AlertEmergency
	default:
		return &UnknownAlertLevelError{Level: string(b)}
	}
	return nil
}

type UnknownAlertLevelError struct {
	Level string
}

func (e *UnknownAlertLevelError) Error() string {
	return "unknown alert level: " + e.Level
}

// Alert actions attached to score-derived alerts.
const (
	ActionRejectInput  = "REJECT_INPUT"
	ActionManualReview = "MANUAL_REVIEW"
	ActionMonitor      = "MONITOR"
)

type Alert struct {
	Level     AlertLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	Action    string     `json:"action,omitempty"`
}

// AuditOutcome reports what happened to the audit write of one evaluation.
// The evaluation is returned regardless of Err.
type AuditOutcome struct {
	Attempted bool
	EventID   string
	Err       error
}

// TrustEvaluation is the result of one Evaluate call.
type TrustEvaluation struct {
	SourceSystem     string           `json:"sourceSystem"`
	Protocol         string           `json:"protocol"`
	TrustScore       int              `json:"trustScore"`
	ComplianceStatus ComplianceStatus `json:"complianceStatus"`
	Checks           []CheckResult    `json:"checks"`
	FailedChecks     []CheckName      `json:"failedChecks"`
	Alerts           []Alert          `json:"alerts"`
	Recommendations  []string         `json:"recommendations"`
	EvaluatedAt      time.Time        `json:"evaluatedAt"`

	Audit AuditOutcome `json:"-"`
}

// HighestAlert returns the most severe alert, or false when there are none.
func (e *TrustEvaluation) HighestAlert() (Alert, bool) {
	if len(e.Alerts) == 0 {
		return Alert{}, false
	}
	top := e.Alerts[0]
	for _, a := range e.Alerts[1:] {
		if a.Level > top.Level {
			top = a
		}
	}
	return top, true
}

// SourceConfig is reference data describing one external source.
type SourceConfig struct {
	SourceSystem     string            `yaml:"source_system" json:"sourceSystem"`
	Whitelisted      bool              `yaml:"whitelisted" json:"whitelisted"`
	Blacklisted      bool              `yaml:"blacklisted" json:"blacklisted"`
	TrustLevel       string            `yaml:"trust_level" json:"trustLevel,omitempty"`
	AllowedProtocols []string          `yaml:"allowed_protocols" json:"allowedProtocols,omitempty"`
	Metadata         map[string]string `yaml:"metadata" json:"metadata,omitempty"`
}

// profile strips list membership, which the registry tracks separately.
func (c SourceConfig) profile() SourceConfig {
	c.Whitelisted = false
	c.Blacklisted = false
	return c
}
