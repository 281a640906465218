package multiwindow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/ExamTrust/ProctorGate/pkg/browser"
	"github.com/ExamTrust/ProctorGate/pkg/detectoriface"
	"github.com/ExamTrust/ProctorGate/pkg/domain/signal"
)

const DetectorName = "multi_window"

type Config struct {
	PollIntervalMs int     `mapstructure:"poll_interval_ms"`
	MaxWindows     int     `mapstructure:"max_windows"`
	Severity       float64 `mapstructure:"severity"`
}

// MultiWindowDetector polls the sibling-window heuristic and emits once per
// transition above the allowed window count.
type MultiWindowDetector struct {
	logger  *logrus.Logger
	caps    browser.Capabilities
	emitter signal.Emitter
	cfg     Config
	clock   browser.Clock

	armed atomic.Bool

	mu       sync.Mutex
	status   detectoriface.Status
	ticker   browser.Ticker
	stop     chan struct{}
	breached bool
}

func NewMultiWindowDetector(
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
	return &MultiWindowDetector{
		logger:  logger,
		caps:    caps,
		emitter: emitter,
		cfg:     cfg,
		clock:   caps.Clock(),
		status:  detectoriface.StatusDisarmed,
	}, nil
}

func (d *MultiWindowDetector) Name() string {
	return DetectorName
}

func (d *MultiWindowDetector) Arm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == detectoriface.StatusArmed {
		return nil
	}

	probes, err := d.caps.Probes()
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			d.status = detectoriface.StatusUnavailable
			d.logger.WithField("detector", DetectorName).Warn("window probes unavailable, detector disabled")
			return nil
		}
		return fmt.Errorf("failed to acquire probe capability: %w", err)
	}

	d.ticker = d.clock.NewTicker(time.Duration(d.cfg.PollIntervalMs) * time.Millisecond)
	d.stop = make(chan struct{})
	d.breached = false
	d.status = detectoriface.StatusArmed
	d.armed.Store(true)

	go d.pollLoop(probes, d.ticker, d.stop)
	return nil
}

func (d *MultiWindowDetector) Disarm() {
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

func (d *MultiWindowDetector) Status() detectoriface.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *MultiWindowDetector) pollLoop(probes browser.Probes, ticker browser.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			d.poll(probes)
		}
	}
}

func (d *MultiWindowDetector) poll(probes browser.Probes) {
	if !d.armed.Load() {
		return
	}

	count, err := probes.OpenWindowCount(context.Background())
	if err != nil {
		d.logger.WithField("detector", DetectorName).WithError(err).Debug("window count probe failed")
		return
	}

	d.mu.Lock()
	over := count > d.cfg.MaxWindows
	fire := over && !d.breached
	d.breached = over
	d.mu.Unlock()

	if fire && d.armed.Load() {
		d.emitter.Emit(signal.Signal{
			Kind:       signal.KindMultiWindow,
			DetectedAt: d.clock.Now(),
			Severity:   d.cfg.Severity,
			Metadata: map[string]string{
				"window_count": strconv.Itoa(count),
				"max_windows":  strconv.Itoa(d.cfg.MaxWindows),
			},
		})
	}
}

func defineDefaults(cfg *Config) {
	if cfg.PollIntervalMs == 0 {
		cfg.PollIntervalMs = 5000
	}
	if cfg.MaxWindows == 0 {
		cfg.MaxWindows = 1
	}
	if cfg.Severity == 0 {
		cfg.Severity = 15
	}
}
