package multiwindow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExamTrust/ProctorGate/pkg/browser/browsertest"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/multiwindow"
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

func TestMultiWindowDetector_EmitsOnceWhileBreached(t *testing.T) {
	fake := browsertest.New()
	fake.ProbeState().WindowCount = 1
	emitter := &captureEmitter{}
	d, err := multiwindow.NewMultiWindowDetector(logger.NewNopLogger(), fake, emitter, nil)
	require.NoError(t, err)
	require.NoError(t, d.Arm(context.Background()))
	t.Cleanup(d.Disarm)

	ticker := fake.ClockState().Tickers()[0]

	ticker.Tick()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, emitter.Signals())

	fake.ProbeState().SetWindowCount(3)
	ticker.Tick()
	require.Eventually(t, func() bool {
		return len(emitter.Signals()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, signal.KindMultiWindow, emitter.Signals()[0].Kind)
	assert.Equal(t, "3", emitter.Signals()[0].Metadata["window_count"])

	// Still breached: a sustained condition is one violation, not one per
	// poll.
	ticker.Tick()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, emitter.Signals(), 1)

	// Back to one window and breached again fires a second time.
	fake.ProbeState().SetWindowCount(1)
	ticker.Tick()
	time.Sleep(20 * time.Millisecond)
	fake.ProbeState().SetWindowCount(2)
	ticker.Tick()
	require.Eventually(t, func() bool {
		return len(emitter.Signals()) == 2
	}, time.Second, time.Millisecond)
}
