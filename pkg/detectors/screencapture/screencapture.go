package screencapture

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

const DetectorName = "screen_capture"

type Config struct {
	PollIntervalMs int     `mapstructure:"poll_interval_ms"`
	Severity       float64 `mapstructure:"severity"`
}

// ScreenCaptureDetector polls media-capture enumeration for a live
// display-capture track and emits once per activation.
type ScreenCaptureDetector struct {
	logger  *logrus.Logger
	caps    browser.Capabilities
	emitter signal.Emitter
	cfg     Config
	clock   browser.Clock

	armed atomic.Bool

	mu        sync.Mutex
	status    detectoriface.Status
	ticker    browser.Ticker
	stop      chan struct{}
	capturing bool
}

func NewScreenCaptureDetector(
	logger *logrus.Logger,
	caps browser.Capabilities,
	emitter signal.Emitter,
	settings map[string]interface{},
) (detectoriface.Detector, error) {
	var cfg Config
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config for %q: %w", DetectorName, err)
	}
	if cfg.PollIntervalMs == 0 {
		cfg.PollIntervalMs = 10000
	}
	if cfg.Severity == 0 {
		cfg.Severity = 35
	}
	return &ScreenCaptureDetector{
		logger:  logger,
		caps:    caps,
		emitter: emitter,
		cfg:     cfg,
		clock:   caps.Clock(),
		status:  detectoriface.StatusDisarmed,
	}, nil
}

func (d *ScreenCaptureDetector) Name() string {
	return DetectorName
}

func (d *ScreenCaptureDetector) Arm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == detectoriface.StatusArmed {
		return nil
	}

	probes, err := d.caps.Probes()
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			d.status = detectoriface.StatusUnavailable
			d.logger.WithField("detector", DetectorName).Warn("media probes unavailable, detector disabled")
			return nil
		}
		return fmt.Errorf("failed to acquire probe capability: %w", err)
	}

	d.ticker = d.clock.NewTicker(time.Duration(d.cfg.PollIntervalMs) * time.Millisecond)
	d.stop = make(chan struct{})
	d.capturing = false
	d.status = detectoriface.StatusArmed
	d.armed.Store(true)

	go d.pollLoop(probes, d.ticker, d.stop)
	return nil
}

func (d *ScreenCaptureDetector) Disarm() {
	d.armed.Store(false)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticker != nil {
		d.ticker.Stop()
		d.ticker = nil
	}
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	if d.status == detectoriface.StatusArmed {
		d.status = detectoriface.StatusDisarmed
	}
}

func (d *ScreenCaptureDetector) Status() detectoriface.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *ScreenCaptureDetector) pollLoop(probes browser.Probes, ticker browser.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			d.poll(probes)
		}
	}
}

func (d *ScreenCaptureDetector) poll(probes browser.Probes) {
	if !d.armed.Load() {
		return
	}

	active, err := probes.DisplayCaptureActive(context.Background())
	if err != nil {
		d.logger.WithField("detector", DetectorName).WithError(err).Debug("display capture probe failed")
		return
	}

	d.mu.Lock()
	fire := active && !d.capturing
	d.capturing = active
	d.mu.Unlock()

	if fire && d.armed.Load() {
		d.emitter.Emit(signal.Signal{
			Kind:       signal.KindScreenCaptureDetected,
			DetectedAt: d.clock.Now(),
			Severity:   d.cfg.Severity,
			Metadata:   map[string]string{"probe": "media_capture_enumeration"},
		})
	}
}
