package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"signal-tracker/internal/clock"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  HealthStatus  `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// HealthCheck reports the health of one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// HealthMonitor aggregates component checks on demand.
type HealthMonitor struct {
	mu         sync.RWMutex
	clock      clock.Clock
	startTime  time.Time
	components map[string]HealthCheck
	timeout    time.Duration
}

// NewHealthMonitor creates a health monitor with no registered components.
func NewHealthMonitor(clk clock.Clock) *HealthMonitor {
	if clk == nil {
		clk = clock.New()
	}
	return &HealthMonitor{
		clock:      clk,
		startTime:  clk.Now(),
		components: make(map[string]HealthCheck),
		timeout:    5 * time.Second,
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// SystemHealth represents overall system health.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     string            `json:"uptime"`
	Components []ComponentHealth `json:"components"`
	Goroutines int               `json:"goroutines"`
}

// Check runs every registered check and aggregates the result. The overall
// status is the worst component status.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(m.components))
	for k, v := range m.components {
		checks[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	results := make([]ComponentHealth, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = ComponentHealth{
						Name:    name,
						Status:  HealthStatusUnhealthy,
						Message: fmt.Sprintf("check panicked: %v", r),
					}
				}
			}()
			start := m.clock.Now()
			h := checks[name](ctx)
			h.Name = name
			if h.Latency == 0 {
				h.Latency = m.clock.Now().Sub(start)
			}
			results[i] = h
		}(i, name)
	}
	wg.Wait()

	status := HealthStatusHealthy
	for _, h := range results {
		switch h.Status {
		case HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if status == HealthStatusHealthy {
				status = HealthStatusDegraded
			}
		}
	}

	return SystemHealth{
		Status:     status,
		Uptime:     m.clock.Now().Sub(m.startTime).Round(time.Second).String(),
		Components: results,
		Goroutines: runtime.NumGoroutine(),
	}
}

// HealthHTTPHandler serves the aggregated health as JSON. Degraded is still
// reported as 200.
func (m *HealthMonitor) HealthHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := m.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	}
}

// LivenessHTTPHandler always reports alive.
func (m *HealthMonitor) LivenessHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	}
}

// DatabaseHealthCheck reports the store as unhealthy when ping fails.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		h := ComponentHealth{Latency: time.Since(start)}
		if err != nil {
			h.Status = HealthStatusUnhealthy
			h.Message = fmt.Sprintf("ping failed: %v", err)
			return h
		}
		h.Status = HealthStatusHealthy
		return h
	}
}

// BreakerHealthCheck reports an open circuit as degraded: cycles keep running
// and the breaker probes on its own.
func BreakerHealthCheck(cb *CircuitBreaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := cb.Stats()
		h := ComponentHealth{Status: HealthStatusHealthy}
		if stats.State != CircuitClosed {
			h.Status = HealthStatusDegraded
			h.Message = fmt.Sprintf("circuit %s (%d rejected, %.0f%% of calls failed)", stats.State, stats.TotalRejected, stats.FailureRate())
		}
		return h
	}
}

// FreshnessHealthCheck reports a component as degraded when its last
// heartbeat is older than maxAge. A zero heartbeat means it has not run yet.
func FreshnessHealthCheck(clk clock.Clock, last func() time.Time, maxAge time.Duration) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		t := last()
		if t.IsZero() {
			return ComponentHealth{Status: HealthStatusDegraded, Message: "not run yet"}
		}
		age := clk.Now().Sub(t)
		if age > maxAge {
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("last run %v ago", age.Round(time.Second)),
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy}
	}
}
