package observability

import (
	"context"
	"maps"
	"sync"
	"time"
)

// HealthStatus is the state of one dependency or of the whole process.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// severity orders statuses from best to worst.
func (s HealthStatus) severity() int {
	switch s {
	case HealthStatusHealthy:
		return 0
	case HealthStatusDegraded:
		return 1
	default:
		return 2
	}
}

// HealthCheckResult is the outcome of one check.
type HealthCheckResult struct {
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthChecker checks one dependency.
type HealthChecker func(ctx context.Context) HealthCheckResult

// Ping turns a connectivity probe into a checker. A failing probe reports
// failure, which is HealthStatusUnhealthy for dependencies the service cannot
// run without and HealthStatusDegraded otherwise.
func Ping(component string, failure HealthStatus, probe func(context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		if err := probe(ctx); err != nil {
			return HealthCheckResult{Status: failure, Message: component + " unreachable: " + err.Error()}
		}
		return HealthCheckResult{Status: HealthStatusHealthy, Message: component + " reachable"}
	}
}

// WithDetails attaches details to every result of checker.
func WithDetails(checker HealthChecker, details map[string]any) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		result := checker(ctx)
		if result.Details == nil {
			result.Details = make(map[string]any, len(details))
		}
		maps.Copy(result.Details, details)
		return result
	}
}

// HealthRegistry holds the checkers of a process by name.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthRegistry returns an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checkers: make(map[string]HealthChecker)}
}

// Register sets the checker for name.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	r.checkers[name] = checker
	r.mu.Unlock()
}

// Check runs every checker concurrently.
func (r *HealthRegistry) Check(ctx context.Context) map[string]HealthCheckResult {
	r.mu.RLock()
	checkers := maps.Clone(r.checkers)
	r.mu.RUnlock()

	type named struct {
		name   string
		result HealthCheckResult
	}
	out := make(chan named, len(checkers))
	for name, check := range checkers {
		go func() {
			start := time.Now()
			result := check(ctx)
			result.Duration = time.Since(start)
			result.Timestamp = time.Now()
			out <- named{name, result}
		}()
	}

	results := make(map[string]HealthCheckResult, len(checkers))
	for range checkers {
		n := <-out
		results[n.name] = n.result
	}
	return results
}

// OverallHealth is the report served by the health endpoints.
type OverallHealth struct {
	Status    HealthStatus                 `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Checks    map[string]HealthCheckResult `json:"checks"`
}

// GetOverallHealth runs every check. The overall status is the worst one
// reported, or healthy when nothing is registered.
func (r *HealthRegistry) GetOverallHealth(ctx context.Context) OverallHealth {
	checks := r.Check(ctx)
	status := HealthStatusHealthy
	for _, c := range checks {
		if c.Status.severity() > status.severity() {
			status = c.Status
		}
	}
	return OverallHealth{Status: status, Timestamp: time.Now(), Checks: checks}
}
