package sink_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
	"github.com/ExamTrust/ProctorGate/pkg/domain/telemetry"
	"github.com/ExamTrust/ProctorGate/pkg/infra/httpx"
	"github.com/ExamTrust/ProctorGate/pkg/infra/logger"
	"github.com/ExamTrust/ProctorGate/pkg/sink"
)

type mockExporter struct {
	mu      sync.Mutex
	err     error
	handled []secevent.SecurityEvent
}

func (m *mockExporter) Name() string { return "mock" }

func (m *mockExporter) ValidateConfig(settings map[string]interface{}) error { return nil }

func (m *mockExporter) WithSettings(settings map[string]interface{}) (telemetry.Exporter, error) {
	return m, nil
}

func (m *mockExporter) Handle(ctx context.Context, evt secevent.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.handled = append(m.handled, evt)
	return nil
}

func (m *mockExporter) Close() {}

func (m *mockExporter) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockExporter) handledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handled)
}

type mockRepo struct {
	mu    sync.Mutex
	err   error
	saved []secevent.SecurityEvent
}

func (m *mockRepo) Save(ctx context.Context, event secevent.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, event)
	return nil
}

func (m *mockRepo) ListBySession(ctx context.Context, sessionID string) ([]secevent.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]secevent.SecurityEvent(nil), m.saved...), nil
}

func (m *mockRepo) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockRepo) savedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func newBreaker() httpx.CircuitBreaker {
	return httpx.NewCircuitBreaker("test", time.Minute, 1000)
}

func event(sessionID string) secevent.SecurityEvent {
	return secevent.SecurityEvent{SessionID: sessionID, Kind: "tab_switch"}
}

func TestSink_DeliversThroughPrimary(t *testing.T) {
	exporter := &mockExporter{}
	repo := &mockRepo{}
	s := sink.NewSink(logger.NewNopLogger(), exporter, repo, newBreaker(), 10)
	defer s.Shutdown()

	s.Record(event("s1"))

	require.Eventually(t, func() bool {
		return exporter.handledCount() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, repo.savedCount())
}

func TestSink_FallsBackToRepositoryWhenPrimaryFails(t *testing.T) {
	exporter := &mockExporter{}
	exporter.setErr(errors.New("endpoint down"))
	repo := &mockRepo{}
	s := sink.NewSink(logger.NewNopLogger(), exporter, repo, newBreaker(), 10)
	defer s.Shutdown()

	s.Record(event("s1"))

	require.Eventually(t, func() bool {
		return repo.savedCount() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, exporter.handledCount())
}

func TestSink_NilExporterSkipsToFallback(t *testing.T) {
	repo := &mockRepo{}
	s := sink.NewSink(logger.NewNopLogger(), nil, repo, newBreaker(), 10)
	defer s.Shutdown()

	s.Record(event("s1"))

	require.Eventually(t, func() bool {
		return repo.savedCount() == 1
	}, time.Second, time.Millisecond)
}

func TestSink_BuffersWhenAllTiersFail(t *testing.T) {
	exporter := &mockExporter{}
	exporter.setErr(errors.New("endpoint down"))
	repo := &mockRepo{}
	repo.setErr(errors.New("db down"))
	s := sink.NewSink(logger.NewNopLogger(), exporter, repo, newBreaker(), 10)
	defer s.Shutdown()

	s.Record(event("s1"))
	s.Record(event("s2"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, exporter.handledCount())

	// Once the endpoint recovers, Flush replays the buffered backlog.
	exporter.setErr(nil)
	s.Flush(context.Background())

	assert.Equal(t, 2, exporter.handledCount())
}

func TestSink_SuccessfulDeliveryRetriesBacklog(t *testing.T) {
	exporter := &mockExporter{}
	exporter.setErr(errors.New("endpoint down"))
	s := sink.NewSink(logger.NewNopLogger(), exporter, nil, newBreaker(), 10)
	defer s.Shutdown()

	s.Record(event("s1"))
	s.Record(event("s2"))
	// Both attempts must fail and land in the buffer before the endpoint
	// recovers, or the retry proves nothing.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, exporter.handledCount())

	exporter.setErr(nil)
	s.Record(event("s3"))

	require.Eventually(t, func() bool {
		return exporter.handledCount() == 3
	}, time.Second, time.Millisecond)
}

func TestSink_ShutdownDrainsQueuedEvents(t *testing.T) {
	exporter := &mockExporter{}
	s := sink.NewSink(logger.NewNopLogger(), exporter, nil, newBreaker(), 10)

	for i := 0; i < 5; i++ {
		s.Record(event("s1"))
	}
	s.Shutdown()

	assert.Equal(t, 5, exporter.handledCount())
}

func TestSink_RecordAfterShutdownDoesNotPanic(t *testing.T) {
	exporter := &mockExporter{}
	s := sink.NewSink(logger.NewNopLogger(), exporter, nil, newBreaker(), 10)
	s.Shutdown()

	assert.NotPanics(t, func() {
		s.Record(event("s1"))
	})
}
