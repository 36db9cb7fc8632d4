package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/fleetops/control_plane/streaming"
)

func TestHTTPAdapterDelivers(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, STANAG, r.Header.Get("X-Fleetops-Protocol"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(2*time.Second, nil)
	res, err := a.ProcessMessage(context.Background(), Message{
		Protocol:     STANAG,
		Direction:    Outbound,
		SourceSystem: "joint-tasking",
		TargetSystem: "unit-7",
		Endpoint:     srv.URL,
		Payload:      map[string]interface{}{"missionId": "m-1"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "unit-7", got.TargetSystem)
	assert.Equal(t, "m-1", got.Payload["missionId"])
	assert.Empty(t, got.Endpoint, "endpoint is not part of the wire envelope")
}

func TestHTTPAdapterReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unit offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res, err := NewHTTPAdapter(time.Second, nil).ProcessMessage(context.Background(), Message{
		TargetSystem: "unit-7",
		Endpoint:     srv.URL,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "503")
	assert.Contains(t, res.Error, "unit offline")
}

func TestHTTPAdapterHonoursResultBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{Success: false, Error: "schema rejected"})
	}))
	defer srv.Close()

	res, err := NewHTTPAdapter(time.Second, nil).ProcessMessage(context.Background(), Message{
		TargetSystem: "unit-7",
		Endpoint:     srv.URL,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "schema rejected", res.Error)
}

func TestHTTPAdapterRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPAdapter(time.Second, nil).ProcessMessage(context.Background(), Message{TargetSystem: "x"})
	assert.True(t, errors.Is(err, ErrNoEndpoint))
}

func TestHTTPAdapterRateLimitsPerTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	a := NewHTTPAdapter(time.Second, NewTokenBucketLimiter(0.001, 1))
	msg := Message{TargetSystem: "unit-1", Endpoint: srv.URL}

	first, err := a.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := a.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Contains(t, second.Error, "rate limit")

	msg.TargetSystem = "unit-2"
	other, err := a.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, other.Success, "buckets are per target")
}

func TestMuxRouting(t *testing.T) {
	var routed []string
	record := func(name string) Adapter {
		return AdapterFunc(func(ctx context.Context, msg Message) (Result, error) {
			routed = append(routed, name)
			return Result{Success: true}, nil
		})
	}

	m := NewMux(record("fallback"))
	m.Handle(AIS, record("ais"))

	_, _ = m.ProcessMessage(context.Background(), Message{Protocol: AIS})
	_, _ = m.ProcessMessage(context.Background(), Message{Protocol: MQTT})
	assert.Equal(t, []string{"ais", "fallback"}, routed)

	strict := NewMux(nil)
	res, err := strict.ProcessMessage(context.Background(), Message{Protocol: GMDSS})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestLogAdapterPublishes(t *testing.T) {
	b := streaming.NewBroker()
	var events []streaming.Event
	_, err := b.Subscribe(streaming.TopicProtocolOut, func(e streaming.Event) { events = append(events, e) })
	require.NoError(t, err)

	res, err := NewLogAdapter(b).ProcessMessage(context.Background(), Message{Protocol: NMEA, TargetSystem: "v-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, events, 1)
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported(JSONRPC))
	assert.True(t, IsSupported(Link16))
	assert.False(t, IsSupported("carrier-pigeon"))
}

func TestByEndpointRouting(t *testing.T) {
	var direct, fallback int
	a := ByEndpoint(
		AdapterFunc(func(ctx context.Context, msg Message) (Result, error) { direct++; return Result{Success: true}, nil }),
		AdapterFunc(func(ctx context.Context, msg Message) (Result, error) { fallback++; return Result{Success: true}, nil }),
	)

	_, _ = a.ProcessMessage(context.Background(), Message{Endpoint: "http://vessel.local/inbox"})
	_, _ = a.ProcessMessage(context.Background(), Message{})

	assert.Equal(t, 1, direct)
	assert.Equal(t, 1, fallback)
}
