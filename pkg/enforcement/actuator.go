// Package enforcement executes the actions the policy engine decides on:
// surfacing warnings, auto-submitting the assessment, or terminating the
// session outright. Side-effect failures during cleanup are swallowed; a
// broken fullscreen API must never prevent a termination from completing.
package enforcement

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ExamTrust/ProctorGate/pkg/browser"
	"github.com/ExamTrust/ProctorGate/pkg/detectors"
	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
	"github.com/ExamTrust/ProctorGate/pkg/domain/session"
	"github.com/ExamTrust/ProctorGate/pkg/infra/prometheus"
	"github.com/ExamTrust/ProctorGate/pkg/policy"
)

// WarningNotice is handed to the host's OnWarn callback; it carries enough
// context to render a non-blocking banner.
type WarningNotice struct {
	Reason              string  `json:"reason"`
	ViolationCount      int     `json:"violation_count"`
	SuspicionScore      float64 `json:"suspicion_score"`
	RemainingViolations int     `json:"remaining_violations"`
}

// Callbacks are the host-provided hooks. Each may be nil; a nil hook is
// skipped. OnSubmit must be safe to call with an incomplete answer buffer on
// the host side.
type Callbacks struct {
	OnSubmit    func(report session.Report)
	OnTerminate func(reason string, report session.Report)
	OnWarn      func(notice WarningNotice)
}

// Actuator runs enforcement actions against the host and performs terminal
// cleanup. The host callback for a terminal action fires at most once per
// session regardless of how many signals race past the aggregator's guard.
type Actuator struct {
	logger    *logrus.Logger
	caps      browser.Capabilities
	detectors detectors.Manager
	callbacks Callbacks
	pol       policy.Config
	reportFn  func() session.Report

	terminalFired bool
}

func NewActuator(
	logger *logrus.Logger,
	caps browser.Capabilities,
	manager detectors.Manager,
	callbacks Callbacks,
	pol policy.Config,
	reportFn func() session.Report,
) *Actuator {
	return &Actuator{
		logger:    logger,
		caps:      caps,
		detectors: manager,
		callbacks: callbacks,
		pol:       pol,
		reportFn:  reportFn,
	}
}

// Enforce executes one action. It is called synchronously from the
// aggregator's dispatch goroutine, so no internal locking is needed; the
// terminalFired flag only backs up the aggregator's re-entrancy guard.
func (a *Actuator) Enforce(action policy.Action, sess session.SecuritySession, evt secevent.SecurityEvent) {
	prometheus.EnforcementActionsTotal.WithLabelValues(string(action)).Inc()

	switch action {
	case policy.ActionWarn:
		a.warn(sess, evt)
	case policy.ActionAutoSubmit:
		a.terminal(evt, true)
	case policy.ActionTerminate:
		a.terminal(evt, a.pol.AutoSubmitOnViolation)
	case policy.ActionNone:
	}
}

// Cleanup disarms every detector and attempts a safe fullscreen exit.
// Failures are logged and swallowed.
func (a *Actuator) Cleanup() {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithField("panic", r).Warn("enforcement cleanup panicked")
		}
	}()

	a.detectors.DisarmAll()

	fs, err := a.caps.Fullscreen()
	if err != nil {
		return
	}
	if !fs.Active() {
		return
	}
	if err := fs.Exit(); err != nil {
		a.logger.WithError(err).Warn("fullscreen exit failed during cleanup")
	}
}

func (a *Actuator) warn(sess session.SecuritySession, evt secevent.SecurityEvent) {
	if a.callbacks.OnWarn == nil {
		return
	}
	remaining := a.pol.MaxViolations - sess.ViolationCount
	if remaining < 0 {
		remaining = 0
	}
	a.callbacks.OnWarn(WarningNotice{
		Reason:              violationReason(evt),
		ViolationCount:      sess.ViolationCount,
		SuspicionScore:      sess.SuspicionScore,
		RemainingViolations: remaining,
	})
}

func (a *Actuator) terminal(evt secevent.SecurityEvent, submit bool) {
	if a.terminalFired {
		a.logger.Debug("terminal enforcement already executed, skipping")
		return
	}
	a.terminalFired = true

	report := a.reportFn()
	if submit {
		if a.callbacks.OnSubmit != nil {
			a.callbacks.OnSubmit(report)
		}
	} else {
		if a.callbacks.OnTerminate != nil {
			a.callbacks.OnTerminate(violationReason(evt), report)
		}
	}

	a.Cleanup()
}

func violationReason(evt secevent.SecurityEvent) string {
	return fmt.Sprintf("security violation: %s", evt.Kind)
}
