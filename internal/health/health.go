package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loykin/sidewatch/internal/config"
	"github.com/loykin/sidewatch/internal/metrics"
)

// ProbeTimeout bounds a single health request, distinct from the overall
// startup deadline.
const ProbeTimeout = 2 * time.Second

// Status is the decoded body of a successful GET /health.
type Status struct {
	Status           string `json:"status"`
	Ready            bool   `json:"ready"`
	UptimeMs         uint64 `json:"uptime_ms"`
	DBStatus         string `json:"db_status"`
	DBResponseTimeMs uint64 `json:"db_response_time_ms"`
}

// TimeoutError reports that no healthy probe arrived within the wait window.
type TimeoutError struct {
	Wait time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend did not become healthy within %s; check backend logs for startup errors", e.Wait)
}

// UnhealthyError reports a non-2xx health response.
type UnhealthyError struct {
	StatusCode int
	Body       string
}

func (e *UnhealthyError) Error() string {
	return fmt.Sprintf("backend returned unhealthy status %d: %s", e.StatusCode, e.Body)
}

// NetworkError reports a connect/transport failure; the backend may not be running.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error reaching backend: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Checker performs bounded HTTP health probes against the backend.
// The zero value is not usable; construct with NewChecker.
type Checker struct {
	client *http.Client

	// test seams; production uses the defaults
	sleep   func(ctx context.Context, d time.Duration) bool
	backoff func(attempt int) time.Duration
}

func NewChecker() *Checker {
	return &Checker{
		client:  &http.Client{Timeout: ProbeTimeout},
		sleep:   sleepCtx,
		backoff: backoffDelay,
	}
}

// ProbeOnce issues one GET /health and classifies the outcome. A 2xx
// response with ready=false is a successful probe that is not yet healthy;
// callers must check Ready themselves.
func (c *Checker) ProbeOnce(ctx context.Context, cfg config.Config) (Status, error) {
	start := time.Now()
	st, err := c.probe(ctx, cfg)
	metrics.ObserveProbe(cfg.Name, time.Since(start).Seconds(), err == nil)
	return st, err
}

func (c *Checker) probe(ctx context.Context, cfg config.Config) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.HealthURL(), nil)
	if err != nil {
		return Status{}, fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Status{}, &TimeoutError{Wait: ProbeTimeout}
		}
		return Status{}, &NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Status{}, &UnhealthyError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		// Malformed body is treated conservatively as a failed probe.
		return Status{}, fmt.Errorf("decode health response: %w", err)
	}
	return st, nil
}

// WaitUntilHealthy loops ProbeOnce until a probe reports ready=true or the
// elapsed time exceeds cfg.StartupTimeout. The same policy serves the
// initial startup wait and steady-state re-checks.
//
// Backoff between attempts is max(2, 2^min(attempt/3, 3)) seconds: 2s for
// early attempts, escalating to a ceiling of 8s from attempt 9 on. This
// caps retry storms while reacting quickly to fast-starting backends.
func (c *Checker) WaitUntilHealthy(ctx context.Context, cfg config.Config) (Status, error) {
	deadline := time.Now().Add(cfg.StartupTimeout)
	attempt := 0
	for {
		attempt++
		st, err := c.ProbeOnce(ctx, cfg)
		if err == nil && st.Ready {
			return st, nil
		}

		if ctx.Err() != nil {
			return Status{}, ctx.Err()
		}
		if time.Now().After(deadline) || time.Now().Equal(deadline) {
			return Status{}, &TimeoutError{Wait: cfg.StartupTimeout}
		}
		if !c.sleep(ctx, c.backoff(attempt)) {
			return Status{}, ctx.Err()
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	exp := attempt / 3
	if exp > 3 {
		exp = 3
	}
	secs := 1 << exp
	if secs < 2 {
		secs = 2
	}
	return time.Duration(secs) * time.Second
}

// sleepCtx sleeps for d unless ctx is cancelled first; reports whether the
// full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	for e := err; e != nil; {
		if te, ok := e.(timeout); ok && te.Timeout() {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
