package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/ExamTrust/ProctorGate/pkg/browser"
	"github.com/ExamTrust/ProctorGate/pkg/detectoriface"
	"github.com/ExamTrust/ProctorGate/pkg/domain/signal"
)

const DetectorName = "automation"

type Config struct {
	Severity float64 `mapstructure:"severity"`
}

// AutomationDetector probes navigator-level automation markers once at arm
// time. The result is heuristic: frameworks can scrub the flags, and some
// accessibility tooling sets them legitimately.
type AutomationDetector struct {
	logger  *logrus.Logger
	caps    browser.Capabilities
	emitter signal.Emitter
	cfg     Config
	clock   browser.Clock

	armed atomic.Bool

	mu     sync.Mutex
	status detectoriface.Status
}

func NewAutomationDetector(
	logger *logrus.Logger,
	caps browser.Capabilities,
	emitter signal.Emitter,
	settings map[string]interface{},
) (detectoriface.Detector, error) {
	var cfg Config
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config for %q: %w", DetectorName, err)
	}
	if cfg.Severity == 0 {
		cfg.Severity = 40
	}
	return &AutomationDetector{
		logger:  logger,
		caps:    caps,
		emitter: emitter,
		cfg:     cfg,
		clock:   caps.Clock(),
		status:  detectoriface.StatusDisarmed,
	}, nil
}

func (d *AutomationDetector) Name() string {
	return DetectorName
}

func (d *AutomationDetector) Arm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == detectoriface.StatusArmed {
		return nil
	}

	probes, err := d.caps.Probes()
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			d.status = detectoriface.StatusUnavailable
			d.logger.WithField("detector", DetectorName).Warn("environment probes unavailable, detector disabled")
			return nil
		}
		return fmt.Errorf("failed to acquire probe capability: %w", err)
	}

	d.status = detectoriface.StatusArmed
	d.armed.Store(true)

	flagged, err := probes.AutomationFlagged(ctx)
	if err != nil {
		d.logger.WithField("detector", DetectorName).WithError(err).Debug("automation probe failed")
		return nil
	}
	if flagged && d.armed.Load() {
		d.emitter.Emit(signal.Signal{
			Kind:       signal.KindAutomationDetected,
			DetectedAt: d.clock.Now(),
			Severity:   d.cfg.Severity,
			Metadata:   map[string]string{"probe": "navigator_flags"},
		})
	}
	return nil
}

func (d *AutomationDetector) Disarm() {
	d.armed.Store(false)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == detectoriface.StatusArmed {
		d.status = detectoriface.StatusDisarmed
	}
}

func (d *AutomationDetector) Status() detectoriface.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
