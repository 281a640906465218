package session

import (
	"time"

	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
)

// DetectorStatus values mirror detectoriface statuses; kept as plain strings
// so the report stays serializable without pulling the detector layer in.
const (
	DetectorArmed       = "armed"
	DetectorDisarmed    = "disarmed"
	DetectorUnavailable = "unavailable"
)

// Report is the host-facing summary of a session: every recorded violation,
// the cumulative suspicion score, and the availability of each detector.
// Violations are in detection order.
type Report struct {
	SessionID      string                  `json:"session_id"`
	State          State                   `json:"state"`
	SuspicionScore float64                 `json:"suspicion_score"`
	ViolationCount int                     `json:"violation_count"`
	Violations     []secevent.SecurityEvent `json:"violations"`
	DetectorStatus map[string]string       `json:"detector_status"`
	StartedAt      time.Time               `json:"started_at"`
	EndedAt        time.Time               `json:"ended_at,omitempty"`
}
