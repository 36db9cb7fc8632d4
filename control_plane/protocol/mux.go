package protocol

import (
	"context"
	"fmt"
	"sync"
)

// Mux routes each message to the adapter registered for its protocol tag.
type Mux struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	fallback Adapter
}

// NewMux creates a Mux. fallback may be nil, in which case unrouted
// protocols are rejected.
func NewMux(fallback Adapter) *Mux {
	return &Mux{adapters: make(map[string]Adapter), fallback: fallback}
}

// Handle registers adapter for a protocol tag, replacing any previous one.
func (m *Mux) Handle(protocol string, adapter Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[protocol] = adapter
}

func (m *Mux) ProcessMessage(ctx context.Context, msg Message) (Result, error) {
	m.mu.RLock()
	adapter, ok := m.adapters[msg.Protocol]
	if !ok {
		adapter = m.fallback
	}
	m.mu.RUnlock()

	if adapter == nil {
		return Result{Success: false, Error: fmt.Sprintf("no adapter for protocol %q", msg.Protocol)}, nil
	}
	return adapter.ProcessMessage(ctx, msg)
}

// ByEndpoint sends messages that carry an endpoint through direct and the
// rest through fallback.
func ByEndpoint(direct, fallback Adapter) Adapter {
	return AdapterFunc(func(ctx context.Context, msg Message) (Result, error) {
		if msg.Endpoint != "" {
			return direct.ProcessMessage(ctx, msg)
		}
		return fallback.ProcessMessage(ctx, msg)
	})
}
