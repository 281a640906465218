package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ExamTrust/ProctorGate/pkg/browser"
	"github.com/ExamTrust/ProctorGate/pkg/cache"
	"github.com/ExamTrust/ProctorGate/pkg/config"
	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
	"github.com/ExamTrust/ProctorGate/pkg/domain/session"
	domaintelemetry "github.com/ExamTrust/ProctorGate/pkg/domain/telemetry"
	"github.com/ExamTrust/ProctorGate/pkg/infra/database"
	"github.com/ExamTrust/ProctorGate/pkg/infra/httpx"
	"github.com/ExamTrust/ProctorGate/pkg/infra/repository"
	"github.com/ExamTrust/ProctorGate/pkg/infra/telemetry"
	"github.com/ExamTrust/ProctorGate/pkg/infra/telemetry/httplog"
	"github.com/ExamTrust/ProctorGate/pkg/sink"
)

// Bootstrap assembles the monitor with every configured backing service:
// the remote log exporter, the audit database fallback and the redis report
// store. Each backing service is optional; a missing one degrades the
// corresponding telemetry tier rather than failing construction.
type Bootstrap struct {
	Monitor *Monitor

	exporter  domaintelemetry.Exporter
	eventRepo secevent.Repository
	db        *database.DB
	redis     *cache.Cache
	sink      sink.Sink
	logger    *logrus.Logger
}

func NewFromConfig(logger *logrus.Logger, caps browser.Capabilities, cfg *config.Config) (*Bootstrap, error) {
	b := &Bootstrap{logger: logger}

	if cfg.Telemetry.Exporter != "" {
		locator := telemetry.NewExporterLocator(
			telemetry.WithExporter(httplog.ExporterName, httplog.NewHTTPLogExporter(logger, nil)),
		)
		exporter, err := locator.GetExporter(telemetry.ExporterConfig{
			Name:     cfg.Telemetry.Exporter,
			Settings: cfg.Telemetry.Settings,
		})
		if err != nil {
			return nil, err
		}
		b.exporter = exporter
	}

	if cfg.Database.Host != "" {
		db, err := database.NewDB(logger, &cfg.Database)
		if err != nil {
			b.close()
			return nil, err
		}
		b.db = db
		b.eventRepo = repository.NewEventRepository(db.DB)
	}

	var reportRepo session.ReportRepository
	if cfg.Redis.Host != "" {
		redisCache, err := cache.NewCache(cfg.Redis)
		if err != nil {
			b.close()
			return nil, err
		}
		b.redis = redisCache
		reportRepo = repository.NewReportRepository(redisCache)
	}

	breaker := httpx.NewCircuitBreaker("telemetry", 30*time.Second, 5)
	b.sink = sink.NewSink(logger, b.exporter, b.eventRepo, breaker, cfg.Telemetry.BufferSize)
	b.Monitor = New(logger, caps, b.sink, reportRepo, cfg.Detectors)

	return b, nil
}

// ReplayEvents loads a past session's violation trail from the audit store
// in detection order.
func (b *Bootstrap) ReplayEvents(ctx context.Context, sessionID string) ([]secevent.SecurityEvent, error) {
	if b.eventRepo == nil {
		return nil, errors.New("no audit database configured")
	}
	return b.eventRepo.ListBySession(ctx, sessionID)
}

// Close flushes the sink and releases every backing connection.
func (b *Bootstrap) Close() {
	if b.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		b.sink.Flush(ctx)
		cancel()
		b.sink.Shutdown()
	}
	b.close()
}

func (b *Bootstrap) close() {
	if b.exporter != nil {
		b.exporter.Close()
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			b.logger.WithError(err).Warn("failed to close audit database")
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			b.logger.WithError(err).Warn("failed to close redis connection")
		}
	}
}
