// Package monitor owns the session lifecycle: it assembles the detector
// suite, aggregator, actuator and telemetry sink for a session and exposes
// the host-facing start/complete/stop surface.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ExamTrust/ProctorGate/pkg/aggregator"
	"github.com/ExamTrust/ProctorGate/pkg/browser"
	"github.com/ExamTrust/ProctorGate/pkg/detectors"
	"github.com/ExamTrust/ProctorGate/pkg/domain/session"
	"github.com/ExamTrust/ProctorGate/pkg/enforcement"
	"github.com/ExamTrust/ProctorGate/pkg/infra/prometheus"
	"github.com/ExamTrust/ProctorGate/pkg/policy"
	"github.com/ExamTrust/ProctorGate/pkg/sink"
)

// Callbacks are the host's enforcement hooks.
type Callbacks = enforcement.Callbacks

var (
	ErrSessionActive = errors.New("a session is already active")
	ErrNoSession     = errors.New("no active session")
)

type Monitor struct {
	logger           *logrus.Logger
	caps             browser.Capabilities
	sink             sink.Sink
	reportRepo       session.ReportRepository
	detectorSettings map[string]map[string]interface{}

	mu        sync.Mutex
	agg       *aggregator.Aggregator
	mgr       detectors.Manager
	act       *enforcement.Actuator
	finalized bool
}

// New builds a monitor bound to one browser context. The report repository
// may be nil; reports are then only available in memory.
func New(
	logger *logrus.Logger,
	caps browser.Capabilities,
	eventSink sink.Sink,
	reportRepo session.ReportRepository,
	detectorSettings map[string]map[string]interface{},
) *Monitor {
	return &Monitor{
		logger:           logger,
		caps:             caps,
		sink:             eventSink,
		reportRepo:       reportRepo,
		detectorSettings: detectorSettings,
	}
}

// Start arms the full detector suite and begins monitoring. It fails fast on
// an invalid policy and refuses to run two sessions at once; individual
// detector failures degrade to unavailable status instead of failing Start.
func (m *Monitor) Start(ctx context.Context, sessionID string, pol policy.Config, cb Callbacks) (session.SecuritySession, error) {
	if err := pol.Validate(); err != nil {
		return session.SecuritySession{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.agg != nil {
		if !m.agg.Snapshot().State.Terminal() && !m.finalized {
			return session.SecuritySession{}, ErrSessionActive
		}
		// The terminate path leaves the old dispatch loop running so tail
		// signals still get recorded; stop it before letting go of the
		// aggregator, or it blocks on its channel forever.
		m.agg.Halt()
	}

	agg := aggregator.New(m.logger, sessionID, pol, m.sink)
	mgr := detectors.NewStandardManager(m.logger, m.caps, agg, m.detectorSettings)
	act := enforcement.NewActuator(m.logger, m.caps, mgr, cb, pol, func() session.Report {
		return m.buildReport(agg, mgr)
	})
	agg.SetEnforcer(act)
	agg.SetTerminalHook(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.finalize(agg, mgr)
	})

	m.agg = agg
	m.mgr = mgr
	m.act = act
	m.finalized = false

	if err := agg.Begin(); err != nil {
		return session.SecuritySession{}, err
	}

	m.logger.WithField("session_id", sessionID).Info("Arming security detectors")
	mgr.ArmAll(ctx)
	agg.BeginMonitoring()
	prometheus.ActiveSessions.Inc()

	return agg.Snapshot(), nil
}

// Complete ends the session as a normal finish. Violations recorded so far
// stay in the report; the state becomes Completed rather than Terminated.
func (m *Monitor) Complete(ctx context.Context) (*session.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.agg == nil {
		return nil, ErrNoSession
	}
	if m.agg.Complete() {
		m.act.Cleanup()
		m.finalize(m.agg, m.mgr)
	}
	r := m.buildReport(m.agg, m.mgr)
	return &r, nil
}

// Stop abandons the session without claiming a terminal state: detectors are
// disarmed, telemetry is flushed and the report persisted as-is. Idempotent,
// and safe to call from inside an enforcement callback.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.agg == nil {
		return
	}
	m.agg.Halt()
	m.act.Cleanup()
	m.finalize(m.agg, m.mgr)
}

// Report returns a point-in-time snapshot of the active or finished session.
func (m *Monitor) Report() (session.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.agg == nil {
		return session.Report{}, ErrNoSession
	}
	return m.buildReport(m.agg, m.mgr), nil
}

// GetReport loads a persisted report for a past session.
func (m *Monitor) GetReport(ctx context.Context, sessionID string) (*session.Report, error) {
	if m.reportRepo == nil {
		return nil, errors.New("no report repository configured")
	}
	return m.reportRepo.GetReport(ctx, sessionID)
}

func (m *Monitor) buildReport(agg *aggregator.Aggregator, mgr detectors.Manager) session.Report {
	sess := agg.Snapshot()
	state := sess.State
	// Termination is committed the moment it is in flight; reports never
	// surface the transient state.
	if state == session.StateTerminating {
		state = session.StateTerminated
	}

	statuses := make(map[string]string)
	for name, st := range mgr.Statuses() {
		statuses[name] = string(st)
	}

	return session.Report{
		SessionID:      sess.ID,
		State:          state,
		SuspicionScore: sess.SuspicionScore,
		ViolationCount: sess.ViolationCount,
		Violations:     agg.Events(),
		DetectorStatus: statuses,
		StartedAt:      sess.StartedAt,
		EndedAt:        sess.EndedAt,
	}
}

// finalize flushes telemetry and persists the report. Caller holds m.mu.
func (m *Monitor) finalize(agg *aggregator.Aggregator, mgr detectors.Manager) {
	if m.finalized {
		return
	}
	m.finalized = true
	prometheus.ActiveSessions.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.sink.Flush(ctx)

	if m.reportRepo != nil {
		report := m.buildReport(agg, mgr)
		if err := m.reportRepo.SaveReport(ctx, &report); err != nil {
			m.logger.WithError(err).Error("Failed to persist session report")
		}
	}
}
