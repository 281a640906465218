package session

import (
	"time"
)

// State is the lifecycle state of a security session. Terminated and
// Completed are terminal; no transition leaves them.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateMonitoring   State = "monitoring"
	StateWarned       State = "warned"
	StateTerminating  State = "terminating"
	StateTerminated   State = "terminated"
	StateCompleted    State = "completed"
)

// Terminal reports whether no further transitions may leave the state.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateCompleted
}

// SecuritySession tracks one assessment attempt. It is mutated only by the
// aggregator; detectors and telemetry read the immutable policy snapshot and
// never write back.
type SecuritySession struct {
	ID             string    `json:"id"`
	State          State     `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
	ViolationCount int       `json:"violation_count"`
	SuspicionScore float64   `json:"suspicion_score"`
}

func NewSecuritySession(id string) *SecuritySession {
	return &SecuritySession{
		ID:        id,
		State:     StateIdle,
		StartedAt: time.Now(),
	}
}
