package secevent

import (
	"context"
)

// Repository is the direct persistence tier of the telemetry sink and the
// audit replay surface.
type Repository interface {
	Save(ctx context.Context, event SecurityEvent) error
	// ListBySession returns every stored event for a session ordered by
	// detected_at ascending, regardless of the order events arrived in.
	ListBySession(ctx context.Context, sessionID string) ([]SecurityEvent, error)
}
