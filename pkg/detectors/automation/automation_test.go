package automation_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExamTrust/ProctorGate/pkg/browser/browsertest"
	"github.com/ExamTrust/ProctorGate/pkg/detectoriface"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/automation"
	"github.com/ExamTrust/ProctorGate/pkg/domain/signal"
	"github.com/ExamTrust/ProctorGate/pkg/infra/logger"
)

type captureEmitter struct {
	mu      sync.Mutex
	signals []signal.Signal
}

func (e *captureEmitter) Emit(sig signal.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signals = append(e.signals, sig)
}

func (e *captureEmitter) Signals() []signal.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]signal.Signal(nil), e.signals...)
}

func TestAutomationDetector_EmitsWhenFlagged(t *testing.T) {
	fake := browsertest.New()
	fake.ProbeState().Automation = true
	emitter := &captureEmitter{}
	d, err := automation.NewAutomationDetector(logger.NewNopLogger(), fake, emitter, nil)
	require.NoError(t, err)

	require.NoError(t, d.Arm(context.Background()))

	signals := emitter.Signals()
	require.Len(t, signals, 1)
	assert.Equal(t, signal.KindAutomationDetected, signals[0].Kind)
	assert.Equal(t, float64(40), signals[0].Severity)
}

func TestAutomationDetector_SilentWhenClean(t *testing.T) {
	fake := browsertest.New()
	emitter := &captureEmitter{}
	d, err := automation.NewAutomationDetector(logger.NewNopLogger(), fake, emitter, nil)
	require.NoError(t, err)

	require.NoError(t, d.Arm(context.Background()))
	assert.Equal(t, detectoriface.StatusArmed, d.Status())
	assert.Empty(t, emitter.Signals())
}

func TestAutomationDetector_UnavailableWhenProbesUnsupported(t *testing.T) {
	fake := browsertest.New()
	fake.ProbesUnsupported = true
	d, err := automation.NewAutomationDetector(logger.NewNopLogger(), fake, &captureEmitter{}, nil)
	require.NoError(t, err)

	require.NoError(t, d.Arm(context.Background()))
	assert.Equal(t, detectoriface.StatusUnavailable, d.Status())
}
