package detectors_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExamTrust/ProctorGate/pkg/browser/browsertest"
	"github.com/ExamTrust/ProctorGate/pkg/detectoriface"
	"github.com/ExamTrust/ProctorGate/pkg/detectors"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/visibility"
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

func TestNewStandardManager_RegistersFullSuite(t *testing.T) {
	mgr := detectors.NewStandardManager(logger.NewNopLogger(), browsertest.New(), &captureEmitter{}, nil)

	statuses := mgr.Statuses()
	assert.Len(t, statuses, len(detectors.StandardNames()))
	for _, name := range detectors.StandardNames() {
		assert.Contains(t, statuses, name)
		assert.Equal(t, detectoriface.StatusDisarmed, statuses[name])
	}
}

func TestNewStandardManager_SkipsMisconfiguredDetector(t *testing.T) {
	settings := map[string]map[string]interface{}{
		visibility.DetectorName: {"debounce_ms": "soon"},
	}
	mgr := detectors.NewStandardManager(logger.NewNopLogger(), browsertest.New(), &captureEmitter{}, settings)

	statuses := mgr.Statuses()
	assert.Len(t, statuses, len(detectors.StandardNames())-1)
	assert.NotContains(t, statuses, visibility.DetectorName)
}

func TestManager_ArmAllAndDisarmAll(t *testing.T) {
	mgr := detectors.NewStandardManager(logger.NewNopLogger(), browsertest.New(), &captureEmitter{}, nil)

	mgr.ArmAll(context.Background())
	for name, status := range mgr.Statuses() {
		assert.Equal(t, detectoriface.StatusArmed, status, "detector %s", name)
	}

	mgr.DisarmAll()
	for name, status := range mgr.Statuses() {
		assert.Equal(t, detectoriface.StatusDisarmed, status, "detector %s", name)
	}
}

func TestManager_DegradedCapabilitiesYieldUnavailable(t *testing.T) {
	fake := browsertest.New()
	fake.ProbesUnsupported = true
	mgr := detectors.NewStandardManager(logger.NewNopLogger(), fake, &captureEmitter{}, nil)

	mgr.ArmAll(context.Background())
	statuses := mgr.Statuses()

	// Probe-backed detectors degrade; event-backed ones still arm.
	assert.Equal(t, detectoriface.StatusUnavailable, statuses["devtools"])
	assert.Equal(t, detectoriface.StatusUnavailable, statuses["automation"])
	assert.Equal(t, detectoriface.StatusUnavailable, statuses["incognito"])
	assert.Equal(t, detectoriface.StatusUnavailable, statuses["multi_window"])
	assert.Equal(t, detectoriface.StatusUnavailable, statuses["screen_capture"])
	assert.Equal(t, detectoriface.StatusArmed, statuses["visibility"])
	assert.Equal(t, detectoriface.StatusArmed, statuses["fullscreen"])
	assert.Equal(t, detectoriface.StatusArmed, statuses["clipboard"])
}

func TestManager_RejectsDuplicateRegistration(t *testing.T) {
	mgr := detectors.NewManager(logger.NewNopLogger())
	d, err := visibility.NewVisibilityDetector(logger.NewNopLogger(), browsertest.New(), &captureEmitter{}, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Register(d))
	assert.Error(t, mgr.Register(d))
}

func TestManager_Get(t *testing.T) {
	mgr := detectors.NewStandardManager(logger.NewNopLogger(), browsertest.New(), &captureEmitter{}, nil)

	assert.NotNil(t, mgr.Get(visibility.DetectorName))
	assert.Nil(t, mgr.Get("keystroke"))
}
