package trust

import (
	"github.com/itskum47/fleetops/control_plane/protocol"
)

// missingFieldPenalty is subtracted from the schema score per missing field.
const missingFieldPenalty = 40

// SchemaValidator checks the payload shape for one protocol and returns the
// names of missing or invalid required fields.
type SchemaValidator interface {
	Missing(payload map[string]interface{}) []string
}

// requiredFields is a SchemaValidator that only checks presence. Each entry
// lists accepted spellings; the first one is reported when all are absent.
type requiredFields [][]string

func (r requiredFields) Missing(payload map[string]interface{}) []string {
	var missing []string
	for _, names := range r {
		found := false
		for _, name := range names {
			if present(payload, name) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, names[0])
		}
	}
	return missing
}

type jsonRPCValidator struct{}

func (jsonRPCValidator) Missing(payload map[string]interface{}) []string {
	var missing []string
	if v, _ := payload["jsonrpc"].(string); v != "2.0" {
		missing = append(missing, "jsonrpc")
	}
	if m, _ := payload["method"].(string); m == "" {
		missing = append(missing, "method")
	}
	return missing
}

// passthrough accepts any payload; used for protocols without a known schema.
type passthrough struct{}

func (passthrough) Missing(map[string]interface{}) []string { return nil }

var schemaValidators = map[string]SchemaValidator{
	protocol.JSONRPC: jsonRPCValidator{},
	protocol.AIS: requiredFields{
		{"mmsi"},
		{"latitude", "lat"},
		{"longitude", "lon", "lng"},
	},
	protocol.GMDSS: requiredFields{
		{"mmsi"},
		{"category"},
	},
	protocol.NMEA: requiredFields{
		{"sentence"},
	},
	protocol.STANAG: requiredFields{
		{"messageId", "message_id"},
		{"classification"},
		{"priority"},
	},
	protocol.Link16: requiredFields{
		{"trackNumber", "track_number"},
		{"classification"},
	},
}

func validatorFor(protocolTag string) SchemaValidator {
	if v, ok := schemaValidators[protocolTag]; ok {
		return v
	}
	return passthrough{}
}

func present(payload map[string]interface{}, key string) bool {
	v, ok := payload[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && s == "" {
		return false
	}
	return true
}
