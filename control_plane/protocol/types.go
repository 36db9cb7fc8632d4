package protocol

import (
	"context"
)

// Supported protocol tags.
const (
	JSONRPC = "json-rpc"
	GRPC    = "grpc"
	MQTT    = "mqtt"
	HTTPS   = "https"
	AIS     = "ais"
	NMEA    = "nmea"
	GMDSS   = "gmdss"
	STANAG  = "stanag"
	Link16  = "link16"
)

// Supported lists every tag an adapter can be registered for.
var Supported = []string{JSONRPC, GRPC, MQTT, HTTPS, AIS, NMEA, GMDSS, STANAG, Link16}

// IsSupported reports whether tag is a known protocol.
func IsSupported(tag string) bool {
	for _, p := range Supported {
		if p == tag {
			return true
		}
	}
	return false
}

// Direction of a message relative to this system.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Message is the transport-neutral envelope handed to an Adapter.
// Wire encoding is the adapter's concern.
type Message struct {
	Protocol     string                 `json:"protocol"`
	Direction    Direction              `json:"direction"`
	SourceSystem string                 `json:"sourceSystem"`
	TargetSystem string                 `json:"targetSystem"`
	Payload      map[string]interface{} `json:"payload"`

	// Endpoint is the target's address when the transport needs one.
	Endpoint string `json:"-"`
}

// Result is the adapter's verdict on one message. A transport-level failure
// may be reported either as Success=false or as a returned error.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Adapter delivers protocol messages to external systems.
type Adapter interface {
	ProcessMessage(ctx context.Context, msg Message) (Result, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, msg Message) (Result, error)

func (f AdapterFunc) ProcessMessage(ctx context.Context, msg Message) (Result, error) {
	return f(ctx, msg)
}
