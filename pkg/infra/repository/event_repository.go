package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) secevent.Repository {
	return &EventRepository{
		db: db,
	}
}

func (r *EventRepository) Save(ctx context.Context, event secevent.SecurityEvent) error {
	result := r.db.WithContext(ctx).Create(&event)
	if result.Error != nil {
		return fmt.Errorf("security event: %w", result.Error)
	}
	return nil
}

// ListBySession returns the violation trail for a session in detection
// order, which is what the replay and report paths expect.
func (r *EventRepository) ListBySession(ctx context.Context, sessionID string) ([]secevent.SecurityEvent, error) {
	var events []secevent.SecurityEvent
	result := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("detected_at asc").
		Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("security events: %w", result.Error)
	}
	return events, nil
}
