// Package aggregator is the single authority over session state. It consumes
// the shared signal channel in one dispatch goroutine, so signals are
// processed in arrival order; the terminal-state check doubles as the
// re-entrancy guard that makes double-termination impossible.
package aggregator

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
	"github.com/ExamTrust/ProctorGate/pkg/domain/session"
	"github.com/ExamTrust/ProctorGate/pkg/domain/signal"
	"github.com/ExamTrust/ProctorGate/pkg/infra/prometheus"
	"github.com/ExamTrust/ProctorGate/pkg/policy"
)

// Enforcer executes the action decided for a signal. Called synchronously
// from the dispatch goroutine, never while the aggregator lock is held, so
// an enforcement callback may safely re-enter Complete or Halt.
type Enforcer interface {
	Enforce(action policy.Action, sess session.SecuritySession, evt secevent.SecurityEvent)
}

// Recorder is the telemetry boundary; Record must be fire-and-forget.
type Recorder interface {
	Record(evt secevent.SecurityEvent)
}

var ErrNotIdle = errors.New("session already started")

type Aggregator struct {
	logger     *logrus.Logger
	pol        policy.Config
	enforcer   Enforcer
	recorder   Recorder
	onTerminal func()

	mu     sync.Mutex
	sess   *session.SecuritySession
	events []secevent.SecurityEvent

	signals   chan signal.Signal
	accepting atomic.Bool
	done      chan struct{}
	stopOnce  sync.Once
}

func New(logger *logrus.Logger, sessionID string, pol policy.Config, recorder Recorder) *Aggregator {
	return &Aggregator{
		logger:   logger,
		pol:      pol,
		recorder: recorder,
		sess:     session.NewSecuritySession(sessionID),
		signals:  make(chan signal.Signal, 128),
		done:     make(chan struct{}),
	}
}

// SetEnforcer wires the actuator in after construction; the actuator's
// report closure needs the aggregator so the two cannot be built in one
// step. Must be called before Begin.
func (a *Aggregator) SetEnforcer(e Enforcer) {
	a.enforcer = e
}

// SetTerminalHook registers a function invoked once the session has fully
// transitioned to Terminated, after enforcement has run. The host uses it
// to persist the report and flush telemetry. Must be called before Begin.
func (a *Aggregator) SetTerminalHook(fn func()) {
	a.onTerminal = fn
}

// Begin moves Idle -> Initializing and opens the signal intake so detectors
// probing during arm can already emit; emitted signals queue until
// BeginMonitoring starts the dispatch loop.
func (a *Aggregator) Begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess.State != session.StateIdle {
		return ErrNotIdle
	}
	a.sess.State = session.StateInitializing
	a.accepting.Store(true)
	return nil
}

// BeginMonitoring moves Initializing -> Monitoring once every detector has
// been armed, and starts processing signals.
func (a *Aggregator) BeginMonitoring() {
	a.mu.Lock()
	if a.sess.State == session.StateInitializing {
		a.sess.State = session.StateMonitoring
	}
	a.mu.Unlock()
	go a.dispatch()
}

// Emit implements signal.Emitter. Non-blocking: when intake is closed or the
// queue is saturated the signal is dropped with a log line rather than
// stalling a browser event handler.
func (a *Aggregator) Emit(sig signal.Signal) {
	if !a.accepting.Load() {
		a.logger.WithField("kind", sig.Kind).Debug("signal dropped, session no longer accepting")
		return
	}
	select {
	case a.signals <- sig:
	default:
		a.logger.WithField("kind", sig.Kind).Warn("signal queue saturated, signal dropped")
	}
}

// Complete is the host's normal-finish hook: Monitoring/Warned -> Completed.
// Safe to call from any state and from inside an enforcement callback.
func (a *Aggregator) Complete() bool {
	a.mu.Lock()
	st := a.sess.State
	if st != session.StateMonitoring && st != session.StateWarned {
		a.mu.Unlock()
		return false
	}
	a.sess.State = session.StateCompleted
	a.sess.EndedAt = time.Now()
	a.mu.Unlock()

	a.accepting.Store(false)
	a.stopDispatch()
	return true
}

// Halt closes the signal intake and stops dispatch without claiming a
// terminal state; used by Stop when the host abandons the attempt.
// Idempotent, callable from any state including inside callbacks.
func (a *Aggregator) Halt() {
	a.accepting.Store(false)
	a.stopDispatch()
}

// Snapshot returns a copy of the session for reporting.
func (a *Aggregator) Snapshot() session.SecuritySession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.sess
}

// Events returns the recorded violations in detection order.
func (a *Aggregator) Events() []secevent.SecurityEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]secevent.SecurityEvent(nil), a.events...)
}

func (a *Aggregator) stopDispatch() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
}

func (a *Aggregator) dispatch() {
	for {
		select {
		case <-a.done:
			return
		case sig := <-a.signals:
			a.handleSignal(sig)
		}
	}
}

func (a *Aggregator) handleSignal(sig signal.Signal) {
	prometheus.SignalsTotal.WithLabelValues(string(sig.Kind)).Inc()

	a.mu.Lock()
	st := a.sess.State

	// Idempotent tail: once termination is in flight or the session ended,
	// signals are recorded for audit but cause no further transition. The
	// first signal to observe Terminating wins; this check is the
	// re-entrancy guard.
	if st == session.StateTerminating || st.Terminal() {
		evt := secevent.FromSignal(a.sess.ID, sig, string(st), a.sess.SuspicionScore)
		a.events = append(a.events, evt)
		a.mu.Unlock()
		a.logger.WithFields(logrus.Fields{
			"kind":  sig.Kind,
			"state": st,
		}).Debug("signal in terminal state recorded without transition")
		a.recorder.Record(evt)
		return
	}

	a.sess.ViolationCount++
	score := a.sess.SuspicionScore + sig.Severity
	if score > 100 {
		score = 100
	}
	a.sess.SuspicionScore = score

	action := policy.Evaluate(a.pol, score, a.sess.ViolationCount)
	// A warned session gets no second warning: the next violation
	// escalates to termination.
	if st == session.StateWarned && sig.Severity > 0 &&
		(action == policy.ActionNone || action == policy.ActionWarn) {
		action = policy.ActionTerminate
	}

	switch action {
	case policy.ActionNone:
		evt := secevent.FromSignal(a.sess.ID, sig, string(st), score)
		a.events = append(a.events, evt)
		a.mu.Unlock()
		a.recorder.Record(evt)

	case policy.ActionWarn:
		a.sess.State = session.StateWarned
		evt := secevent.FromSignal(a.sess.ID, sig, string(session.StateWarned), score)
		a.events = append(a.events, evt)
		sessCopy := *a.sess
		a.mu.Unlock()
		a.recorder.Record(evt)
		a.enforcer.Enforce(policy.ActionWarn, sessCopy, evt)

	case policy.ActionAutoSubmit, policy.ActionTerminate:
		a.sess.State = session.StateTerminating
		evt := secevent.FromSignal(a.sess.ID, sig, string(session.StateTerminated), score)
		a.events = append(a.events, evt)
		sessCopy := *a.sess
		a.mu.Unlock()

		a.recorder.Record(evt)
		a.enforcer.Enforce(action, sessCopy, evt)

		a.mu.Lock()
		terminated := false
		if a.sess.State == session.StateTerminating {
			a.sess.State = session.StateTerminated
			a.sess.EndedAt = time.Now()
			terminated = true
		}
		a.mu.Unlock()

		if terminated && a.onTerminal != nil {
			a.onTerminal()
		}
	}
}
