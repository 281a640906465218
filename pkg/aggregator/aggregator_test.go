package aggregator_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExamTrust/ProctorGate/pkg/aggregator"
	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
	"github.com/ExamTrust/ProctorGate/pkg/domain/session"
	"github.com/ExamTrust/ProctorGate/pkg/domain/signal"
	"github.com/ExamTrust/ProctorGate/pkg/infra/logger"
	"github.com/ExamTrust/ProctorGate/pkg/policy"
)

type mockEnforcer struct {
	mu      sync.Mutex
	actions []policy.Action
	events  []secevent.SecurityEvent
}

func (m *mockEnforcer) Enforce(action policy.Action, sess session.SecuritySession, evt secevent.SecurityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
	m.events = append(m.events, evt)
}

func (m *mockEnforcer) Actions() []policy.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]policy.Action(nil), m.actions...)
}

func (m *mockEnforcer) terminalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.actions {
		if a == policy.ActionTerminate || a == policy.ActionAutoSubmit {
			n++
		}
	}
	return n
}

type mockRecorder struct {
	mu     sync.Mutex
	events []secevent.SecurityEvent
}

func (m *mockRecorder) Record(evt secevent.SecurityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockRecorder) Events() []secevent.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]secevent.SecurityEvent(nil), m.events...)
}

func newRunning(t *testing.T, pol policy.Config) (*aggregator.Aggregator, *mockEnforcer, *mockRecorder) {
	t.Helper()
	enforcer := &mockEnforcer{}
	recorder := &mockRecorder{}
	agg := aggregator.New(logger.NewNopLogger(), "session-1", pol, recorder)
	agg.SetEnforcer(enforcer)
	require.NoError(t, agg.Begin())
	agg.BeginMonitoring()
	t.Cleanup(agg.Halt)
	return agg, enforcer, recorder
}

func waitForState(t *testing.T, agg *aggregator.Aggregator, want session.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return agg.Snapshot().State == want
	}, time.Second, time.Millisecond, "expected state %s, got %s", want, agg.Snapshot().State)
}

func TestAggregator_Begin(t *testing.T) {
	agg := aggregator.New(logger.NewNopLogger(), "session-1", policy.ZeroTolerance(), &mockRecorder{})
	agg.SetEnforcer(&mockEnforcer{})

	assert.Equal(t, session.StateIdle, agg.Snapshot().State)
	require.NoError(t, agg.Begin())
	assert.Equal(t, session.StateInitializing, agg.Snapshot().State)
	assert.ErrorIs(t, agg.Begin(), aggregator.ErrNotIdle)
}

func TestAggregator_ZeroToleranceTerminatesOnFirstSignal(t *testing.T) {
	agg, enforcer, _ := newRunning(t, policy.ZeroTolerance())

	agg.Emit(signal.New(signal.KindTabSwitch, 20, nil))

	waitForState(t, agg, session.StateTerminated)
	sess := agg.Snapshot()
	assert.Equal(t, 1, sess.ViolationCount)
	assert.Equal(t, float64(20), sess.SuspicionScore)
	assert.False(t, sess.EndedAt.IsZero())
	assert.Equal(t, []policy.Action{policy.ActionTerminate}, enforcer.Actions())
}

func TestAggregator_ConcurrentSignalsTerminateExactlyOnce(t *testing.T) {
	agg, enforcer, _ := newRunning(t, policy.ZeroTolerance())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Emit(signal.New(signal.KindCopyAttempt, 10, nil))
		}()
	}
	wg.Wait()

	waitForState(t, agg, session.StateTerminated)
	require.Eventually(t, func() bool {
		return len(agg.Events()) == 20
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, enforcer.terminalCount())
	assert.Equal(t, 1, agg.Snapshot().ViolationCount)
}

func TestAggregator_SignalsAfterTerminationAreRecordedWithoutTransition(t *testing.T) {
	agg, enforcer, recorder := newRunning(t, policy.ZeroTolerance())

	agg.Emit(signal.New(signal.KindTabSwitch, 20, nil))
	waitForState(t, agg, session.StateTerminated)

	agg.Emit(signal.New(signal.KindFullscreenExit, 25, nil))
	require.Eventually(t, func() bool {
		return len(recorder.Events()) == 2
	}, time.Second, time.Millisecond)

	sess := agg.Snapshot()
	assert.Equal(t, session.StateTerminated, sess.State)
	assert.Equal(t, 1, sess.ViolationCount)
	assert.Equal(t, float64(20), sess.SuspicionScore)
	assert.Equal(t, 1, enforcer.terminalCount())

	tail := recorder.Events()[1]
	assert.Equal(t, signal.KindFullscreenExit, tail.Kind)
	assert.Equal(t, string(session.StateTerminated), tail.ResultingState)
}

func TestAggregator_GraduatedPolicy(t *testing.T) {
	pol := policy.Config{
		MaxViolations: 3,
		ScoreThresholds: []policy.Threshold{
			{Score: 50, Action: policy.ActionWarn},
			{Score: 90, Action: policy.ActionTerminate},
		},
	}
	agg, enforcer, recorder := newRunning(t, pol)

	agg.Emit(signal.New(signal.KindTabSwitch, 20, nil))
	agg.Emit(signal.New(signal.KindTabSwitch, 20, nil))
	require.Eventually(t, func() bool {
		return len(recorder.Events()) == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, session.StateMonitoring, agg.Snapshot().State)
	assert.Empty(t, enforcer.Actions())

	// Third violation reaches max_violations.
	agg.Emit(signal.New(signal.KindTabSwitch, 20, nil))
	waitForState(t, agg, session.StateTerminated)

	sess := agg.Snapshot()
	assert.Equal(t, 3, sess.ViolationCount)
	assert.Equal(t, float64(60), sess.SuspicionScore)
	assert.Equal(t, []policy.Action{policy.ActionTerminate}, enforcer.Actions())
}

func TestAggregator_WarnedSessionEscalatesOnNextSignal(t *testing.T) {
	pol := policy.Config{
		MaxViolations: 100,
		ScoreThresholds: []policy.Threshold{
			{Score: 30, Action: policy.ActionWarn},
		},
	}
	agg, enforcer, _ := newRunning(t, pol)

	agg.Emit(signal.New(signal.KindDevToolsOpen, 30, nil))
	waitForState(t, agg, session.StateWarned)
	assert.Equal(t, []policy.Action{policy.ActionWarn}, enforcer.Actions())

	// No second warning: the next violation terminates even though no
	// further threshold is crossed.
	agg.Emit(signal.New(signal.KindRightClick, 5, nil))
	waitForState(t, agg, session.StateTerminated)
	assert.Equal(t, []policy.Action{policy.ActionWarn, policy.ActionTerminate}, enforcer.Actions())
}

func TestAggregator_ScoreIsCappedAtHundred(t *testing.T) {
	pol := policy.Config{MaxViolations: 100}
	agg, _, recorder := newRunning(t, pol)

	for i := 0; i < 4; i++ {
		agg.Emit(signal.New(signal.KindAutomationDetected, 40, nil))
	}
	require.Eventually(t, func() bool {
		return len(recorder.Events()) == 4
	}, time.Second, time.Millisecond)

	assert.Equal(t, float64(100), agg.Snapshot().SuspicionScore)
}

func TestAggregator_Complete(t *testing.T) {
	pol := policy.Config{MaxViolations: 100}
	agg, _, _ := newRunning(t, pol)

	agg.Emit(signal.New(signal.KindTabSwitch, 20, nil))
	require.Eventually(t, func() bool {
		return len(agg.Events()) == 1
	}, time.Second, time.Millisecond)

	assert.True(t, agg.Complete())
	sess := agg.Snapshot()
	assert.Equal(t, session.StateCompleted, sess.State)
	assert.Equal(t, 1, sess.ViolationCount)
	assert.False(t, sess.EndedAt.IsZero())

	// Completing twice is a no-op.
	assert.False(t, agg.Complete())
}

func TestAggregator_CompleteAfterTerminationIsNoOp(t *testing.T) {
	agg, _, _ := newRunning(t, policy.ZeroTolerance())

	agg.Emit(signal.New(signal.KindTabSwitch, 20, nil))
	waitForState(t, agg, session.StateTerminated)

	assert.False(t, agg.Complete())
	assert.Equal(t, session.StateTerminated, agg.Snapshot().State)
}

func TestAggregator_EmitAfterHaltIsDropped(t *testing.T) {
	pol := policy.Config{MaxViolations: 100}
	agg, _, recorder := newRunning(t, pol)

	agg.Halt()
	agg.Emit(signal.New(signal.KindTabSwitch, 20, nil))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, recorder.Events())
	assert.Equal(t, 0, agg.Snapshot().ViolationCount)
}

func TestAggregator_TerminalHookFiresOnce(t *testing.T) {
	enforcer := &mockEnforcer{}
	recorder := &mockRecorder{}
	agg := aggregator.New(logger.NewNopLogger(), "session-1", policy.ZeroTolerance(), recorder)
	agg.SetEnforcer(enforcer)

	var mu sync.Mutex
	fired := 0
	agg.SetTerminalHook(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	require.NoError(t, agg.Begin())
	agg.BeginMonitoring()
	t.Cleanup(agg.Halt)

	agg.Emit(signal.New(signal.KindTabSwitch, 20, nil))
	agg.Emit(signal.New(signal.KindTabSwitch, 20, nil))
	waitForState(t, agg, session.StateTerminated)
	require.Eventually(t, func() bool {
		return len(recorder.Events()) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired)
}
