package visibility

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/ExamTrust/ProctorGate/pkg/browser"
	"github.com/ExamTrust/ProctorGate/pkg/detectoriface"
	"github.com/ExamTrust/ProctorGate/pkg/domain/signal"
)

const DetectorName = "visibility"

type Config struct {
	// DebounceMs is the minimum dwell between two counted hidden
	// transitions; OS-level animations flip visibility rapidly and must not
	// double-count.
	DebounceMs int     `mapstructure:"debounce_ms"`
	Severity   float64 `mapstructure:"severity"`
}

type VisibilityDetector struct {
	logger  *logrus.Logger
	caps    browser.Capabilities
	emitter signal.Emitter
	cfg     Config
	clock   browser.Clock

	armed atomic.Bool

	mu         sync.Mutex
	status     detectoriface.Status
	cancel     browser.CancelFunc
	lastHidden time.Time
}

func NewVisibilityDetector(
	logger *logrus.Logger,
	caps browser.Capabilities,
	emitter signal.Emitter,
	settings map[string]interface{},
) (detectoriface.Detector, error) {
	var cfg Config
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config for %q: %w", DetectorName, err)
	}
	defineDefaults(&cfg)
	return &VisibilityDetector{
		logger:  logger,
		caps:    caps,
		emitter: emitter,
		cfg:     cfg,
		clock:   caps.Clock(),
		status:  detectoriface.StatusDisarmed,
	}, nil
}

func (d *VisibilityDetector) Name() string {
	return DetectorName
}

func (d *VisibilityDetector) Arm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == detectoriface.StatusArmed {
		return nil
	}

	page, err := d.caps.Page()
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			d.status = detectoriface.StatusUnavailable
			d.logger.WithField("detector", DetectorName).Warn("visibility API unavailable, detector disabled")
			return nil
		}
		return fmt.Errorf("failed to acquire page capability: %w", err)
	}

	cancel, err := page.OnVisibilityChange(d.onVisibilityChange)
	if err != nil {
		d.status = detectoriface.StatusUnavailable
		d.logger.WithField("detector", DetectorName).WithError(err).Warn("cannot listen for visibility changes, detector disabled")
		return nil
	}

	d.cancel = cancel
	d.lastHidden = time.Time{}
	d.status = detectoriface.StatusArmed
	d.armed.Store(true)
	return nil
}

func (d *VisibilityDetector) Disarm() {
	d.armed.Store(false)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.status == detectoriface.StatusArmed {
		d.status = detectoriface.StatusDisarmed
	}
}

func (d *VisibilityDetector) Status() detectoriface.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *VisibilityDetector) onVisibilityChange(hidden bool) {
	if !d.armed.Load() {
		return
	}
	if !hidden {
		return
	}

	now := d.clock.Now()

	d.mu.Lock()
	if !d.lastHidden.IsZero() && now.Sub(d.lastHidden) < time.Duration(d.cfg.DebounceMs)*time.Millisecond {
		d.mu.Unlock()
		return
	}
	d.lastHidden = now
	d.mu.Unlock()

	d.emitter.Emit(signal.Signal{
		Kind:       signal.KindTabSwitch,
		DetectedAt: now,
		Severity:   d.cfg.Severity,
		Metadata:   map[string]string{"transition": "hidden"},
	})
}

func defineDefaults(cfg *Config) {
	if cfg.DebounceMs == 0 {
		cfg.DebounceMs = 200
	}
	if cfg.Severity == 0 {
		cfg.Severity = 20
	}
}
