package trust

import (
	"math"
	"time"
)

var checkWeights = map[CheckName]float64{
	CheckBlacklist:        3.0,
	CheckWhitelist:        2.0,
	CheckProtocolSecurity: 2.0,
	CheckSchemaValidation: 1.5,
	CheckIPReputation:     1.0,
}

const whitelistBonus = 10

// calculateTrustScore returns the weighted average of the check scores.
// A blacklisted source scores 0 no matter what the other checks say.
func calculateTrustScore(checks []CheckResult, whitelisted, blacklisted bool) int {
	if blacklisted {
		return 0
	}

	var sum, weights float64
	for _, c := range checks {
		w, ok := checkWeights[c.CheckName]
		if !ok {
			w = 1.0
		}
		sum += float64(c.Score) * w
		weights += w
	}
	if weights == 0 {
		return 0
	}

	score := math.Round(sum / weights)
	if whitelisted {
		score += whitelistBonus
	}
	return int(math.Max(0, math.Min(100, score)))
}

// determineComplianceStatus buckets a score for admission decisions.
func determineComplianceStatus(score int, blacklisted bool) ComplianceStatus {
	switch {
	case blacklisted:
		return StatusBlocked
	case score >= 80:
		return StatusCompliant
	case score >= 50:
		return StatusNonCompliant
	case score >= 30:
		return StatusSuspicious
	default:
		return StatusBlocked
	}
}

// alertsForScore raises at most one alert tier from the score. The cutoffs
// are maintained separately from determineComplianceStatus.
func alertsForScore(score int, sourceSystem string, now time.Time) []Alert {
	switch {
	case score < 30:
		return []Alert{{
			Level:     AlertCritical,
			Message:   "Critical trust violation from " + sourceSystem + ": input rejected",
			Timestamp: now,
			Action:    ActionRejectInput,
		}}
	case score < 50:
		return []Alert{{
			Level:     AlertHigh,
			Message:   "Low trust score from " + sourceSystem + ": manual review required",
			Timestamp: now,
			Action:    ActionManualReview,
		}}
	case score < 70:
		return []Alert{{
			Level:     AlertWarning,
			Message:   "Reduced trust score from " + sourceSystem,
			Timestamp: now,
			Action:    ActionMonitor,
		}}
	}
	return nil
}

func recommendationsFor(checks []CheckResult, status ComplianceStatus) []string {
	var recs []string
	for _, c := range checks {
		if c.Passed {
			continue
		}
		switch c.CheckName {
		case CheckWhitelist:
			recs = append(recs, "Verify source identity before adding it to the whitelist")
		case CheckBlacklist:
			recs = append(recs, "Reject all traffic from this source")
		case CheckProtocolSecurity:
			recs = append(recs, "Switch to a trusted protocol")
		case CheckSchemaValidation:
			recs = append(recs, "Fix payload: "+c.Message)
		case CheckIPReputation:
			recs = append(recs, "Investigate source IP reputation")
		}
	}
	if status == StatusBlocked {
		recs = append(recs, "Escalate to the security officer on watch")
	}
	return recs
}
