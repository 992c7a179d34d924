package observability

import "time"

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
	Checks    map[string]bool        `json:"checks"`
}

// NewHealthStatus builds a report whose status is healthy only when every
// check passed.
func NewHealthStatus(version string, started time.Time, checks map[string]bool) HealthStatus {
	now := time.Now()
	status := StatusHealthy
	for _, ok := range checks {
		if !ok {
			status = StatusUnhealthy
			break
		}
	}
	if checks == nil {
		checks = map[string]bool{}
	}
	return HealthStatus{
		Status:    status,
		Timestamp: now,
		Version:   version,
		Uptime:    now.Sub(started).Truncate(time.Second).String(),
		Checks:    checks,
	}
}

func (h HealthStatus) Healthy() bool {
	return h.Status == StatusHealthy
}
