package secevent

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ExamTrust/ProctorGate/pkg/domain/signal"
	"github.com/google/uuid"
)

// Metadata is free-form audit context carried with an event. Stored as a
// JSON column.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(Metadata{})
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("could not convert value %v to []byte", value)
	}
	return json.Unmarshal(bytes, m)
}

// SecurityEvent is the persisted form of a signal: the signal itself plus the
// session state it resulted in and the cumulative score at that point.
// Append-only; replay ordering is by DetectedAt, never by arrival order
// (delivery under fallback tiers may reorder).
type SecurityEvent struct {
	ID              uuid.UUID   `json:"id" gorm:"primaryKey"`
	SessionID       string      `json:"session_id" gorm:"column:session_id;index"`
	Kind            signal.Kind `json:"event_kind" gorm:"column:event_kind"`
	Severity        float64     `json:"severity" gorm:"column:severity"`
	Metadata        Metadata    `json:"metadata" gorm:"column:metadata;type:jsonb"`
	DetectedAt      time.Time   `json:"detected_at" gorm:"column:detected_at;index"`
	ResultingState  string      `json:"resulting_state" gorm:"column:resulting_state"`
	CumulativeScore float64     `json:"cumulative_score" gorm:"column:cumulative_score"`
}

func (SecurityEvent) TableName() string {
	return "security_events"
}

// FromSignal wraps a consumed signal into its persisted form.
func FromSignal(sessionID string, sig signal.Signal, resultingState string, cumulativeScore float64) SecurityEvent {
	return SecurityEvent{
		ID:              uuid.New(),
		SessionID:       sessionID,
		Kind:            sig.Kind,
		Severity:        sig.Severity,
		Metadata:        Metadata(sig.Metadata),
		DetectedAt:      sig.DetectedAt,
		ResultingState:  resultingState,
		CumulativeScore: cumulativeScore,
	}
}
