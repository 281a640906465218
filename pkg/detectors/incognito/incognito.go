package incognito

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/ExamTrust/ProctorGate/pkg/browser"
	"github.com/ExamTrust/ProctorGate/pkg/detectoriface"
	"github.com/ExamTrust/ProctorGate/pkg/domain/signal"
)

const DetectorName = "incognito"

type Config struct {
	// QuotaThresholdBytes: private browsing contexts report an artificially
	// low origin storage quota. Below this bound the context is treated as
	// incognito. Heuristic, not authoritative.
	QuotaThresholdBytes int64   `mapstructure:"quota_threshold_bytes"`
	Severity            float64 `mapstructure:"severity"`
}

type IncognitoDetector struct {
	logger  *logrus.Logger
	caps    browser.Capabilities
	emitter signal.Emitter
	cfg     Config
	clock   browser.Clock

	armed atomic.Bool

	mu     sync.Mutex
	status detectoriface.Status
}

func NewIncognitoDetector(
	logger *logrus.Logger,
	caps browser.Capabilities,
	emitter signal.Emitter,
	settings map[string]interface{},
) (detectoriface.Detector, error) {
	var cfg Config
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config for %q: %w", DetectorName, err)
	}
	if cfg.QuotaThresholdBytes == 0 {
		cfg.QuotaThresholdBytes = 120 << 20 // 120MiB, well under any persistent profile quota
	}
	if cfg.Severity == 0 {
		cfg.Severity = 15
	}
	return &IncognitoDetector{
		logger:  logger,
		caps:    caps,
		emitter: emitter,
		cfg:     cfg,
		clock:   caps.Clock(),
		status:  detectoriface.StatusDisarmed,
	}, nil
}

func (d *IncognitoDetector) Name() string {
	return DetectorName
}

func (d *IncognitoDetector) Arm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == detectoriface.StatusArmed {
		return nil
	}

	probes, err := d.caps.Probes()
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			d.status = detectoriface.StatusUnavailable
			d.logger.WithField("detector", DetectorName).Warn("storage probes unavailable, detector disabled")
			return nil
		}
		return fmt.Errorf("failed to acquire probe capability: %w", err)
	}

	d.status = detectoriface.StatusArmed
	d.armed.Store(true)

	quota, err := probes.StorageQuotaBytes(ctx)
	if err != nil {
		d.logger.WithField("detector", DetectorName).WithError(err).Debug("storage quota probe failed")
		return nil
	}
	if quota > 0 && quota < d.cfg.QuotaThresholdBytes && d.armed.Load() {
		d.emitter.Emit(signal.Signal{
			Kind:       signal.KindIncognitoDetected,
			DetectedAt: d.clock.Now(),
			Severity:   d.cfg.Severity,
			Metadata: map[string]string{
				"probe":       "storage_quota",
				"quota_bytes": strconv.FormatInt(quota, 10),
			},
		})
	}
	return nil
}

func (d *IncognitoDetector) Disarm() {
	d.armed.Store(false)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == detectoriface.StatusArmed {
		d.status = detectoriface.StatusDisarmed
	}
}

func (d *IncognitoDetector) Status() detectoriface.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
