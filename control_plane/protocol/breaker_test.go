package protocol

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTransitions(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	assert.True(t, cb.ShouldAdmit("vessel-1"))
	cb.RecordFailure("vessel-1")
	assert.Equal(t, CircuitClosed, cb.State("vessel-1"))
	cb.RecordFailure("vessel-1")
	assert.Equal(t, CircuitOpen, cb.State("vessel-1"))
	assert.False(t, cb.ShouldAdmit("vessel-1"))

	// Other targets are unaffected.
	assert.True(t, cb.ShouldAdmit("vessel-2"))

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.ShouldAdmit("vessel-1"), "one trial after cooldown")
	assert.Equal(t, CircuitHalfOpen, cb.State("vessel-1"))
	assert.False(t, cb.ShouldAdmit("vessel-1"), "only one trial in flight")

	cb.RecordFailure("vessel-1")
	assert.Equal(t, CircuitOpen, cb.State("vessel-1"))

	now = now.Add(2 * time.Minute)
	require.True(t, cb.ShouldAdmit("vessel-1"))
	cb.RecordSuccess("vessel-1")
	assert.Equal(t, CircuitClosed, cb.State("vessel-1"))
	assert.Equal(t, "closed", cb.State("vessel-1").String())
}

func TestHTTPAdapterOpensCircuitOnTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close() // every request now fails to connect

	a := NewHTTPAdapter(time.Second, nil).WithCircuitBreaker(NewCircuitBreaker(2, time.Hour))
	msg := Message{TargetSystem: "vessel-1", Protocol: JSONRPC, Endpoint: endpoint}

	for i := 0; i < 2; i++ {
		_, err := a.ProcessMessage(context.Background(), msg)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}

	_, err := a.ProcessMessage(context.Background(), msg)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
