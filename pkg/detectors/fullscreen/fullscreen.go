package fullscreen

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

const DetectorName = "fullscreen"

type Config struct {
	Severity float64 `mapstructure:"severity"`
	// Reenter controls the best-effort re-entry attempt after an
	// unrequested exit. Re-entry never blocks or suppresses the violation.
	Reenter bool `mapstructure:"reenter"`
}

// FullscreenDetector requests fullscreen on arm and emits FullscreenExit
// exactly once per unrequested exit. Arming must be sequenced after an
// explicit user gesture; that is the caller's contract, not checked here.
type FullscreenDetector struct {
	logger  *logrus.Logger
	caps    browser.Capabilities
	emitter signal.Emitter
	cfg     Config
	clock   browser.Clock

	armed atomic.Bool

	mu         sync.Mutex
	status     detectoriface.Status
	cancel     browser.CancelFunc
	fs         browser.Fullscreen
	wasActive  bool
}

func NewFullscreenDetector(
	logger *logrus.Logger,
	caps browser.Capabilities,
	emitter signal.Emitter,
	settings map[string]interface{},
) (detectoriface.Detector, error) {
	var cfg Config
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config for %q: %w", DetectorName, err)
	}
	defineDefaults(&cfg, settings)
	return &FullscreenDetector{
		logger:  logger,
		caps:    caps,
		emitter: emitter,
		cfg:     cfg,
		clock:   caps.Clock(),
		status:  detectoriface.StatusDisarmed,
	}, nil
}

func (d *FullscreenDetector) Name() string {
	return DetectorName
}

func (d *FullscreenDetector) Arm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == detectoriface.StatusArmed {
		return nil
	}

	fs, err := d.caps.Fullscreen()
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			d.status = detectoriface.StatusUnavailable
			d.logger.WithField("detector", DetectorName).Warn("fullscreen API unavailable, detector disabled")
			return nil
		}
		return fmt.Errorf("failed to acquire fullscreen capability: %w", err)
	}

	cancel, err := fs.OnChange(d.onFullscreenChange)
	if err != nil {
		d.status = detectoriface.StatusUnavailable
		d.logger.WithField("detector", DetectorName).WithError(err).Warn("cannot listen for fullscreen changes, detector disabled")
		return nil
	}

	if err := fs.Request(); err != nil {
		// Entry can be denied (gesture expired, iframe policy). Keep
		// listening: an exit from a later manual entry still counts.
		d.logger.WithField("detector", DetectorName).WithError(err).Warn("fullscreen request denied")
	}

	d.fs = fs
	d.cancel = cancel
	d.wasActive = fs.Active()
	d.status = detectoriface.StatusArmed
	d.armed.Store(true)
	return nil
}

func (d *FullscreenDetector) Disarm() {
	d.armed.Store(false)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.fs = nil
	if d.status == detectoriface.StatusArmed {
		d.status = detectoriface.StatusDisarmed
	}
}

func (d *FullscreenDetector) Status() detectoriface.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *FullscreenDetector) onFullscreenChange(active bool) {
	if !d.armed.Load() {
		return
	}

	d.mu.Lock()
	exited := d.wasActive && !active
	d.wasActive = active
	fs := d.fs
	d.mu.Unlock()

	if !exited {
		return
	}

	d.emitter.Emit(signal.Signal{
		Kind:       signal.KindFullscreenExit,
		DetectedAt: d.clock.Now(),
		Severity:   d.cfg.Severity,
		Metadata:   map[string]string{"requested": "false"},
	})

	if d.cfg.Reenter && fs != nil {
		if err := fs.Request(); err != nil {
			d.logger.WithField("detector", DetectorName).WithError(err).Debug("fullscreen re-entry attempt failed")
		}
	}
}

func defineDefaults(cfg *Config, settings map[string]interface{}) {
	if cfg.Severity == 0 {
		cfg.Severity = 25
	}
	// Re-entry is opt-out. mapstructure cannot tell an absent key from an
	// explicit false, so key presence decides.
	if _, ok := settings["reenter"]; !ok {
		cfg.Reenter = true
	}
}
