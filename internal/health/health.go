// Package health aggregates component checks into liveness and readiness
// responses for the analysis server.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 5 * time.Second

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"durationNs"`
}

// Check performs one health check.
type Check func(ctx context.Context) CheckResult

type component struct {
	name     string
	critical bool
	check    Check
	timeout  time.Duration
}

// Checker runs registered checks.
type Checker struct {
	mu         sync.RWMutex
	components []component
	startTime  time.Time
	now        func() time.Time
}

// NewChecker creates a Checker with no components.
func NewChecker() *Checker {
	return &Checker{startTime: time.Now(), now: time.Now}
}

// Register adds a check. A failing critical check makes the overall status
// unhealthy; a failing non-critical one only degrades it.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component{
		name:     name,
		critical: critical,
		check:    check,
		timeout:  DefaultTimeout,
	})
}

// Check runs every component concurrently and returns results by name.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make([]component, len(c.components))
	copy(components, c.components)
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(components))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, comp := range components {
		comp := comp
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := run(ctx, comp)
			mu.Lock()
			results[comp.name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func run(ctx context.Context, comp component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.check(ctx)
	}()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	result.Duration = time.Since(start)
	return result
}

// Overall folds component results into one status.
func (c *Checker) Overall(results map[string]CheckResult) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusHealthy
	for _, comp := range c.components {
		r, ok := results[comp.name]
		if !ok || r.Status == StatusHealthy {
			continue
		}
		if comp.critical && r.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		status = StatusDegraded
	}
	return status
}

// Response is the readiness payload.
type Response struct {
	Status     Status                 `json:"status"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Report runs all checks and builds the readiness payload.
func (c *Checker) Report(ctx context.Context) Response {
	results := c.Check(ctx)
	now := c.now()
	return Response{
		Status:     c.Overall(results),
		Uptime:     now.Sub(c.startTime).Truncate(time.Second).String(),
		Components: results,
		Timestamp:  now,
	}
}

// ReadinessHandler serves the readiness payload, answering 503 when the
// overall status is unhealthy.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := c.Report(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(resp)
	})
}

// DatabaseCheck reports database connectivity through ping.
func DatabaseCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "database connection failed",
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "database connection ok"}
	}
}
