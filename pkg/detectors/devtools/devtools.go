package devtools

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

const DetectorName = "devtools"

type Config struct {
	// IntervalMs is the sampling period of the timing probe.
	IntervalMs int `mapstructure:"interval_ms"`
	// ThresholdMs is the calibrated delta above which a sample counts as
	// suspicious. Tunable per deployment; debugger pauses inflate the probe
	// by orders of magnitude, but the floor varies with hardware.
	ThresholdMs int `mapstructure:"threshold_ms"`
	// ConsecutiveSamples is how many suspicious samples in a row are needed
	// before emitting, filtering GC pauses and scheduler hiccups.
	ConsecutiveSamples int `mapstructure:"consecutive_samples"`
	// HardThresholdMs short-circuits the streak: a single sample this slow
	// is reported immediately as suspicious timing.
	HardThresholdMs int     `mapstructure:"hard_threshold_ms"`
	Severity        float64 `mapstructure:"severity"`
	TimingSeverity  float64 `mapstructure:"timing_severity"`
}

// DevToolsDetector runs a timing side-channel on a fixed-interval timer:
// it measures the wall time around a statement that executes slowly while a
// debugger is attached. The timer is cancelled on Disarm; a leaked sampler
// firing after session end is the single most consequential leak in this
// subsystem, so Disarm both stops the ticker and flips the armed flag the
// sample path checks before emitting.
type DevToolsDetector struct {
	logger  *logrus.Logger
	caps    browser.Capabilities
	emitter signal.Emitter
	cfg     Config
	clock   browser.Clock

	armed atomic.Bool

	mu     sync.Mutex
	status detectoriface.Status
	ticker browser.Ticker
	stop   chan struct{}
	streak int
}

func NewDevToolsDetector(
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
	return &DevToolsDetector{
		logger:  logger,
		caps:    caps,
		emitter: emitter,
		cfg:     cfg,
		clock:   caps.Clock(),
		status:  detectoriface.StatusDisarmed,
	}, nil
}

func (d *DevToolsDetector) Name() string {
	return DetectorName
}

func (d *DevToolsDetector) Arm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == detectoriface.StatusArmed {
		return nil
	}

	probes, err := d.caps.Probes()
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			d.status = detectoriface.StatusUnavailable
			d.logger.WithField("detector", DetectorName).Warn("timing probes unavailable, detector disabled")
			return nil
		}
		return fmt.Errorf("failed to acquire probe capability: %w", err)
	}

	d.ticker = d.clock.NewTicker(time.Duration(d.cfg.IntervalMs) * time.Millisecond)
	d.stop = make(chan struct{})
	d.streak = 0
	d.status = detectoriface.StatusArmed
	d.armed.Store(true)

	go d.sampleLoop(probes, d.ticker, d.stop)
	return nil
}

func (d *DevToolsDetector) Disarm() {
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

func (d *DevToolsDetector) Status() detectoriface.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *DevToolsDetector) sampleLoop(probes browser.Probes, ticker browser.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			d.sample(probes)
		}
	}
}

func (d *DevToolsDetector) sample(probes browser.Probes) {
	if !d.armed.Load() {
		return
	}

	delta, err := probes.DebugProbeLatency()
	if err != nil {
		d.logger.WithField("detector", DetectorName).WithError(err).Debug("timing probe failed")
		return
	}

	threshold := time.Duration(d.cfg.ThresholdMs) * time.Millisecond
	hard := time.Duration(d.cfg.HardThresholdMs) * time.Millisecond

	if delta >= hard {
		d.mu.Lock()
		d.streak = 0
		d.mu.Unlock()
		d.emit(signal.KindSuspiciousTiming, d.cfg.TimingSeverity, delta)
		return
	}

	d.mu.Lock()
	if delta < threshold {
		d.streak = 0
		d.mu.Unlock()
		return
	}
	d.streak++
	reached := d.streak >= d.cfg.ConsecutiveSamples
	if reached {
		d.streak = 0
	}
	d.mu.Unlock()

	if reached {
		d.emit(signal.KindDevToolsOpen, d.cfg.Severity, delta)
	}
}

func (d *DevToolsDetector) emit(kind signal.Kind, severity float64, delta time.Duration) {
	if !d.armed.Load() {
		return
	}
	d.emitter.Emit(signal.Signal{
		Kind:       kind,
		DetectedAt: d.clock.Now(),
		Severity:   severity,
		Metadata: map[string]string{
			"probe_delta_ms": strconv.FormatInt(delta.Milliseconds(), 10),
			"threshold_ms":   strconv.Itoa(d.cfg.ThresholdMs),
		},
	})
}

func defineDefaults(cfg *Config) {
	if cfg.IntervalMs == 0 {
		cfg.IntervalMs = 2000
	}
	if cfg.ThresholdMs == 0 {
		cfg.ThresholdMs = 120
	}
	if cfg.ConsecutiveSamples == 0 {
		cfg.ConsecutiveSamples = 3
	}
	if cfg.HardThresholdMs == 0 {
		cfg.HardThresholdMs = 1200
	}
	if cfg.Severity == 0 {
		cfg.Severity = 30
	}
	if cfg.TimingSeverity == 0 {
		cfg.TimingSeverity = 25
	}
}
