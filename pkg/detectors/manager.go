package detectors

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ExamTrust/ProctorGate/pkg/browser"
	"github.com/ExamTrust/ProctorGate/pkg/detectoriface"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/automation"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/clipboard"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/devtools"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/fullscreen"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/incognito"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/multiwindow"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/screencapture"
	"github.com/ExamTrust/ProctorGate/pkg/detectors/visibility"
	"github.com/ExamTrust/ProctorGate/pkg/domain/signal"
)

// Manager owns the detector registry for one session: arming, disarming and
// status reporting. DisarmAll is idempotent and is the terminal authority a
// leaked timer or listener is checked against.
type Manager interface {
	Register(d detectoriface.Detector) error
	ArmAll(ctx context.Context)
	DisarmAll()
	Statuses() map[string]detectoriface.Status
	Get(name string) detectoriface.Detector
}

type manager struct {
	mu        sync.RWMutex
	logger    *logrus.Logger
	detectors map[string]detectoriface.Detector
	order     []string
}

// Builder constructs one detector from the shared capability set, emitter
// and its settings map.
type Builder func(
	logger *logrus.Logger,
	caps browser.Capabilities,
	emitter signal.Emitter,
	settings map[string]interface{},
) (detectoriface.Detector, error)

func standardBuilders() map[string]Builder {
	return map[string]Builder{
		visibility.DetectorName:    visibility.NewVisibilityDetector,
		fullscreen.DetectorName:    fullscreen.NewFullscreenDetector,
		clipboard.DetectorName:     clipboard.NewClipboardDetector,
		devtools.DetectorName:      devtools.NewDevToolsDetector,
		multiwindow.DetectorName:   multiwindow.NewMultiWindowDetector,
		automation.DetectorName:    automation.NewAutomationDetector,
		screencapture.DetectorName: screencapture.NewScreenCaptureDetector,
		incognito.DetectorName:     incognito.NewIncognitoDetector,
	}
}

// StandardNames lists every built-in detector in a stable order.
func StandardNames() []string {
	return []string{
		visibility.DetectorName,
		fullscreen.DetectorName,
		clipboard.DetectorName,
		devtools.DetectorName,
		multiwindow.DetectorName,
		automation.DetectorName,
		screencapture.DetectorName,
		incognito.DetectorName,
	}
}

func NewManager(logger *logrus.Logger) Manager {
	return &manager{
		logger:    logger,
		detectors: make(map[string]detectoriface.Detector),
	}
}

// NewStandardManager builds the full built-in detector suite. A detector
// whose settings fail to decode is skipped with an error log; one detector's
// misconfiguration must never block the others.
func NewStandardManager(
	logger *logrus.Logger,
	caps browser.Capabilities,
	emitter signal.Emitter,
	settings map[string]map[string]interface{},
) Manager {
	m := NewManager(logger)
	builders := standardBuilders()
	for _, name := range StandardNames() {
		d, err := builders[name](logger, caps, emitter, settings[name])
		if err != nil {
			logger.WithError(err).Errorf("Failed to build %s detector", name)
			continue
		}
		if err := m.Register(d); err != nil {
			logger.WithError(err).Errorf("Failed to register %s detector", name)
		}
	}
	return m
}

func (m *manager) Register(d detectoriface.Detector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := d.Name()
	if _, exists := m.detectors[name]; exists {
		return fmt.Errorf("detector %s already registered", name)
	}
	m.detectors[name] = d
	m.order = append(m.order, name)
	return nil
}

// ArmAll arms every registered detector. A detector that cannot arm degrades
// to unavailable on its own; an outright arm error is logged and the rest of
// the suite still arms.
func (m *manager) ArmAll(ctx context.Context) {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range names {
		d := m.Get(name)
		if d == nil {
			continue
		}
		if err := d.Arm(ctx); err != nil {
			m.logger.WithError(err).Errorf("Failed to arm %s detector", name)
		}
	}
}

func (m *manager) DisarmAll() {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range names {
		if d := m.Get(name); d != nil {
			d.Disarm()
		}
	}
}

func (m *manager) Statuses() map[string]detectoriface.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	statuses := make(map[string]detectoriface.Status, len(m.detectors))
	for name, d := range m.detectors {
		statuses[name] = d.Status()
	}
	return statuses
}

func (m *manager) Get(name string) detectoriface.Detector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detectors[name]
}
