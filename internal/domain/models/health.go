package models

import "time"

// HealthStatus is the verdict for a single service or the whole system.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusDown     HealthStatus = "down"
)

// ProbeResult is what a health probe reports back.
type ProbeResult struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

// ServiceHealth is the per-service snapshot produced by one monitoring cycle.
type ServiceHealth struct {
	Name          string       `json:"name"`
	Status        HealthStatus `json:"status"`
	Critical      bool         `json:"critical"`
	LatencyMs     int64        `json:"latency_ms"`
	LastCheckedAt time.Time    `json:"last_checked_at"`
	ErrorRate     float64      `json:"error_rate"`
	CircuitState  string       `json:"circuit_state,omitempty"`
	Message       string       `json:"message,omitempty"`
}

// SystemHealth is the derived system-wide verdict. Never persisted.
type SystemHealth struct {
	Status          HealthStatus    `json:"status"`
	Services        []ServiceHealth `json:"services"`
	Timestamp       time.Time       `json:"timestamp"`
	Recommendations []string        `json:"recommendations"`
}
