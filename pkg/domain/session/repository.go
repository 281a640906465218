package session

import (
	"context"
)

// ReportRepository persists the final integrity report of a session so audit
// tooling can fetch it after the attempt ended.
type ReportRepository interface {
	SaveReport(ctx context.Context, report *Report) error
	GetReport(ctx context.Context, sessionID string) (*Report, error)
}
