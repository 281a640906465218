package screencapture_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExamTrust/ProctorGate/pkg/browser/browsertest"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/screencapture"
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

func TestScreenCaptureDetector_EmitsOnActivation(t *testing.T) {
	fake := browsertest.New()
	emitter := &captureEmitter{}
	d, err := screencapture.NewScreenCaptureDetector(logger.NewNopLogger(), fake, emitter, nil)
	require.NoError(t, err)
	require.NoError(t, d.Arm(context.Background()))
	t.Cleanup(d.Disarm)

	ticker := fake.ClockState().Tickers()[0]

	ticker.Tick()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, emitter.Signals())

	fake.ProbeState().SetCaptureActive(true)
	ticker.Tick()
	require.Eventually(t, func() bool {
		return len(emitter.Signals()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, signal.KindScreenCaptureDetected, emitter.Signals()[0].Kind)
	assert.Equal(t, float64(35), emitter.Signals()[0].Severity)

	// An ongoing capture is one violation, not one per poll.
	ticker.Tick()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, emitter.Signals(), 1)
}

func TestScreenCaptureDetector_TickAfterDisarmDoesNotEmit(t *testing.T) {
	fake := browsertest.New()
	fake.ProbeState().SetCaptureActive(true)
	emitter := &captureEmitter{}
	d, err := screencapture.NewScreenCaptureDetector(logger.NewNopLogger(), fake, emitter, nil)
	require.NoError(t, err)
	require.NoError(t, d.Arm(context.Background()))

	d.Disarm()
	fake.ClockState().Tickers()[0].Tick()
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, emitter.Signals())
}
