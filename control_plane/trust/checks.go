package trust

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/itskum47/fleetops/control_plane/protocol"
)

// protocolScores holds the security tier of protocols that are not scored
// at the default. Military links sit at the top, maritime broadcast at the
// bottom.
var protocolScores = map[string]int{
	protocol.STANAG: 100,
	protocol.Link16: 100,
	protocol.MQTT:   80,
	protocol.GMDSS:  70,
	protocol.NMEA:   65,
	protocol.AIS:    60,
}

const defaultProtocolScore = 100

// trustedProtocols is the set accepted by the protocol security check.
var trustedProtocols = func() map[string]bool {
	m := make(map[string]bool, len(protocol.Supported))
	for _, p := range protocol.Supported {
		m[p] = true
	}
	return m
}()

// reservedPrefixes are documentation and reserved ranges that should never
// originate real traffic. This is a heuristic, not a threat-intel lookup.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
}

func checkWhitelist(listed bool, lookupErr error) CheckResult {
	if lookupErr != nil {
		return CheckResult{
			CheckName: CheckWhitelist,
			Passed:    false,
			Score:     50,
			Message:   "Whitelist lookup failed; treating source as unlisted",
			Details:   map[string]interface{}{"error": lookupErr.Error()},
		}
	}
	if listed {
		return CheckResult{CheckName: CheckWhitelist, Passed: true, Score: 100, Message: "Source is whitelisted"}
	}
	return CheckResult{
		CheckName: CheckWhitelist,
		Passed:    false,
		Score:     50,
		Message:   "Source not whitelisted - requires additional verification",
	}
}

func checkBlacklist(listed bool, lookupErr error) CheckResult {
	if lookupErr != nil {
		return CheckResult{
			CheckName: CheckBlacklist,
			Passed:    false,
			Score:     50,
			Message:   "Blacklist lookup failed; source could not be cleared",
			Details:   map[string]interface{}{"error": lookupErr.Error()},
		}
	}
	if listed {
		return CheckResult{
			CheckName: CheckBlacklist,
			Passed:    false,
			Score:     0,
			Message:   "Source is blacklisted",
			Details:   map[string]interface{}{"blacklisted": true},
		}
	}
	return CheckResult{CheckName: CheckBlacklist, Passed: true, Score: 100, Message: "Source not blacklisted"}
}

func checkProtocolSecurity(protocolTag string) CheckResult {
	if !trustedProtocols[protocolTag] {
		return CheckResult{
			CheckName: CheckProtocolSecurity,
			Passed:    false,
			Score:     0,
			Message:   fmt.Sprintf("Protocol %q is not trusted", protocolTag),
		}
	}
	score, ok := protocolScores[protocolTag]
	if !ok {
		score = defaultProtocolScore
	}
	return CheckResult{
		CheckName: CheckProtocolSecurity,
		Passed:    true,
		Score:     score,
		Message:   fmt.Sprintf("Protocol %s is trusted", protocolTag),
		Details:   map[string]interface{}{"securityScore": score},
	}
}

func checkSchema(protocolTag string, payload map[string]interface{}) CheckResult {
	missing := validatorFor(protocolTag).Missing(payload)
	if len(missing) == 0 {
		return CheckResult{CheckName: CheckSchemaValidation, Passed: true, Score: 100, Message: "Payload matches protocol schema"}
	}
	score := 100 - missingFieldPenalty*len(missing)
	if score < 0 {
		score = 0
	}
	return CheckResult{
		CheckName: CheckSchemaValidation,
		Passed:    false,
		Score:     score,
		Message:   "Missing or invalid fields: " + strings.Join(missing, ", "),
		Details:   map[string]interface{}{"missingFields": missing},
	}
}

func checkIPReputation(sourceIP string) CheckResult {
	addr, err := netip.ParseAddr(strings.TrimSpace(sourceIP))
	if err != nil {
		return CheckResult{
			CheckName: CheckIPReputation,
			Passed:    false,
			Score:     0,
			Message:   fmt.Sprintf("Unparseable source IP %q", sourceIP),
		}
	}
	addr = addr.Unmap()
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return CheckResult{
				CheckName: CheckIPReputation,
				Passed:    false,
				Score:     20,
				Message:   fmt.Sprintf("Source IP %s is in reserved range %s", addr, p),
				Details:   map[string]interface{}{"range": p.String()},
			}
		}
	}
	return CheckResult{CheckName: CheckIPReputation, Passed: true, Score: 100, Message: "Source IP reputation OK"}
}
