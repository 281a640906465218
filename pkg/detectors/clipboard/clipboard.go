package clipboard

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

const DetectorName = "clipboard"

type Config struct {
	CopySeverity        float64 `mapstructure:"copy_severity"`
	PasteSeverity       float64 `mapstructure:"paste_severity"`
	ContextMenuSeverity float64 `mapstructure:"context_menu_severity"`
}

// ClipboardDetector intercepts copy, paste and context-menu interactions.
// The capability layer suppresses the default action before the handler
// runs; the detector only classifies and emits.
type ClipboardDetector struct {
	logger  *logrus.Logger
	caps    browser.Capabilities
	emitter signal.Emitter
	cfg     Config
	clock   browser.Clock

	armed atomic.Bool

	mu      sync.Mutex
	status  detectoriface.Status
	cancels []browser.CancelFunc
}

func NewClipboardDetector(
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
	return &ClipboardDetector{
		logger:  logger,
		caps:    caps,
		emitter: emitter,
		cfg:     cfg,
		clock:   caps.Clock(),
		status:  detectoriface.StatusDisarmed,
	}, nil
}

func (d *ClipboardDetector) Name() string {
	return DetectorName
}

func (d *ClipboardDetector) Arm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == detectoriface.StatusArmed {
		return nil
	}

	cb, err := d.caps.Clipboard()
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			d.status = detectoriface.StatusUnavailable
			d.logger.WithField("detector", DetectorName).Warn("clipboard interception unavailable, detector disabled")
			return nil
		}
		return fmt.Errorf("failed to acquire clipboard capability: %w", err)
	}

	registrations := []struct {
		register func(func(map[string]string)) (browser.CancelFunc, error)
		kind     signal.Kind
		severity float64
	}{
		{cb.OnCopy, signal.KindCopyAttempt, d.cfg.CopySeverity},
		{cb.OnPaste, signal.KindPasteAttempt, d.cfg.PasteSeverity},
		{cb.OnContextMenu, signal.KindRightClick, d.cfg.ContextMenuSeverity},
	}

	var cancels []browser.CancelFunc
	for _, reg := range registrations {
		kind, severity := reg.kind, reg.severity
		cancel, err := reg.register(func(meta map[string]string) {
			d.onIntercept(kind, severity, meta)
		})
		if err != nil {
			for _, c := range cancels {
				c()
			}
			d.status = detectoriface.StatusUnavailable
			d.logger.WithField("detector", DetectorName).WithError(err).Warn("cannot intercept clipboard events, detector disabled")
			return nil
		}
		cancels = append(cancels, cancel)
	}

	d.cancels = cancels
	d.status = detectoriface.StatusArmed
	d.armed.Store(true)
	return nil
}

func (d *ClipboardDetector) Disarm() {
	d.armed.Store(false)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cancel := range d.cancels {
		cancel()
	}
	d.cancels = nil
	if d.status == detectoriface.StatusArmed {
		d.status = detectoriface.StatusDisarmed
	}
}

func (d *ClipboardDetector) Status() detectoriface.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *ClipboardDetector) onIntercept(kind signal.Kind, severity float64, meta map[string]string) {
	if !d.armed.Load() {
		return
	}
	d.emitter.Emit(signal.Signal{
		Kind:       kind,
		DetectedAt: d.clock.Now(),
		Severity:   severity,
		Metadata:   meta,
	})
}

func defineDefaults(cfg *Config) {
	if cfg.CopySeverity == 0 {
		cfg.CopySeverity = 10
	}
	if cfg.PasteSeverity == 0 {
		cfg.PasteSeverity = 10
	}
	if cfg.ContextMenuSeverity == 0 {
		cfg.ContextMenuSeverity = 5
	}
}
