package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ExamTrust/ProctorGate/pkg/cache"
	"github.com/ExamTrust/ProctorGate/pkg/domain/session"
)

const (
	ReportKeyPattern = "report:%s"

	reportTTL = 24 * time.Hour
)

type ReportRepository struct {
	cache *cache.Cache
}

func NewReportRepository(cache *cache.Cache) session.ReportRepository {
	return &ReportRepository{
		cache: cache,
	}
}

func (r *ReportRepository) SaveReport(ctx context.Context, report *session.Report) error {
	reportKey := fmt.Sprintf(ReportKeyPattern, report.SessionID)

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	return r.cache.Set(ctx, reportKey, string(reportJSON), reportTTL)
}

func (r *ReportRepository) GetReport(ctx context.Context, sessionID string) (*session.Report, error) {
	reportKey := fmt.Sprintf(ReportKeyPattern, sessionID)

	reportJSON, err := r.cache.Get(ctx, reportKey)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", sessionID, err)
	}

	var report session.Report
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return &report, nil
}
