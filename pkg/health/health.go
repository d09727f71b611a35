package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy bool

	// Unreachable is set when the endpoint could not be contacted at all
	// (connection refused, DNS failure, timeout) as opposed to answering badly
	Unreachable bool

	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Status counts consecutive unhealthy verdicts for one lineage
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed evaluations
	ConsecutiveFailures int

	// Healthy is false once failures reached the threshold
	Healthy bool
}

// NewStatus creates a Status that starts healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update records one evaluation outcome against threshold consecutive failures
func (s *Status) Update(healthy bool, threshold int) {
	if healthy {
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= threshold {
		s.Healthy = false
	}
}
