package telemetry

import (
	"context"

	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
)

// Exporter is the primary delivery channel of the telemetry sink. Handle must
// return an error on any transport or endpoint failure so the sink can fall
// through to the next tier.
type Exporter interface {
	Name() string
	ValidateConfig(settings map[string]interface{}) error
	WithSettings(settings map[string]interface{}) (Exporter, error)
	Handle(ctx context.Context, evt secevent.SecurityEvent) error
	Close()
}
