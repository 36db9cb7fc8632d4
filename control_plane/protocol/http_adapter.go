package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/itskum47/fleetops/control_plane/observability"
)

var (
	ErrNoEndpoint  = errors.New("target has no endpoint")
	ErrCircuitOpen = errors.New("circuit open")
)

// HTTPAdapter POSTs the message as JSON to Message.Endpoint.
// Messages over the per-target rate are refused, not queued. With a circuit
// breaker attached, only transport errors count as failures; a non-2xx reply
// is a rejection from a reachable target.
type HTTPAdapter struct {
	client  *http.Client
	limiter *TokenBucketLimiter
	breaker *CircuitBreaker
}

// NewHTTPAdapter creates an adapter with the given per-request timeout and
// per-target rate limit. A nil limiter disables rate limiting.
func NewHTTPAdapter(timeout time.Duration, limiter *TokenBucketLimiter) *HTTPAdapter {
	return &HTTPAdapter{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// WithCircuitBreaker refuses dispatch to targets whose circuit is open.
func (a *HTTPAdapter) WithCircuitBreaker(cb *CircuitBreaker) *HTTPAdapter {
	a.breaker = cb
	return a
}

func (a *HTTPAdapter) ProcessMessage(ctx context.Context, msg Message) (Result, error) {
	if msg.Endpoint == "" {
		return Result{}, fmt.Errorf("%s: %w", msg.TargetSystem, ErrNoEndpoint)
	}
	if a.limiter != nil && !a.limiter.Allow(msg.TargetSystem) {
		observability.DispatchRateLimited.WithLabelValues(msg.TargetSystem).Inc()
		return Result{Success: false, Error: "rate limit exceeded for " + msg.TargetSystem}, nil
	}
	if a.breaker == nil {
		return a.post(ctx, msg)
	}
	if !a.breaker.ShouldAdmit(msg.TargetSystem) {
		observability.DispatchCircuitOpen.WithLabelValues(msg.TargetSystem).Inc()
		return Result{}, fmt.Errorf("%s: %w", msg.TargetSystem, ErrCircuitOpen)
	}
	res, err := a.post(ctx, msg)
	if err != nil {
		a.breaker.RecordFailure(msg.TargetSystem)
	} else {
		a.breaker.RecordSuccess(msg.TargetSystem)
	}
	return res, err
}

func (a *HTTPAdapter) post(ctx context.Context, msg Message) (Result, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fleetops-Protocol", msg.Protocol)

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{
			Success: false,
			Error:   fmt.Sprintf("%s responded %d: %s", msg.TargetSystem, resp.StatusCode, bytes.TrimSpace(snippet)),
		}, nil
	}

	// A JSON Result body overrides the status code verdict.
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && (result.Success || result.Error != "") {
		return result, nil
	}
	return Result{Success: true}, nil
}
