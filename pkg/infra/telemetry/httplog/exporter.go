package httplog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
	"github.com/ExamTrust/ProctorGate/pkg/domain/telemetry"
)

const ExporterName = "httplog"

type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
	APIKey    string `mapstructure:"api_key"`
}

// Exporter delivers security events to the remote logging endpoint as the
// logSecurityEvent call. Any transport or endpoint failure (including 4xx
// and 5xx) is returned as an error so the sink can fall back.
type Exporter struct {
	cfg    Config
	client *http.Client
	logger *logrus.Logger
}

func NewHTTPLogExporter(logger *logrus.Logger, client *http.Client) *Exporter {
	return &Exporter{
		logger: logger,
		client: client,
	}
}

func (p *Exporter) Name() string {
	return ExporterName
}

func (p *Exporter) ValidateConfig(settings map[string]interface{}) error {
	var conf Config
	if err := mapstructure.Decode(settings, &conf); err != nil {
		return fmt.Errorf("invalid httplog config: %w", err)
	}
	if conf.Endpoint == "" {
		return errors.New("httplog endpoint is required")
	}
	return nil
}

func (p *Exporter) WithSettings(settings map[string]interface{}) (telemetry.Exporter, error) {
	var conf Config
	if err := mapstructure.Decode(settings, &conf); err != nil {
		return nil, fmt.Errorf("invalid httplog config: %w", err)
	}
	if conf.Endpoint == "" {
		return nil, errors.New("httplog endpoint is required")
	}
	if conf.TimeoutMs == 0 {
		conf.TimeoutMs = 5000
	}
	client := p.client
	if client == nil {
		client = &http.Client{}
	}
	return &Exporter{
		cfg:    conf,
		client: client,
		logger: p.logger,
	}, nil
}

type logSecurityEventPayload struct {
	SessionID       string            `json:"session_id"`
	EventKind       string            `json:"event_kind"`
	Severity        float64           `json:"severity"`
	Metadata        secevent.Metadata `json:"metadata"`
	DetectedAt      time.Time         `json:"detected_at"`
	ResultingState  string            `json:"resulting_state"`
	CumulativeScore float64           `json:"cumulative_score"`
}

func (p *Exporter) Handle(ctx context.Context, evt secevent.SecurityEvent) error {
	if p.cfg.Endpoint == "" {
		return errors.New("httplog exporter is not configured")
	}

	payload := logSecurityEventPayload{
		SessionID:       evt.SessionID,
		EventKind:       string(evt.Kind),
		Severity:        evt.Severity,
		Metadata:        evt.Metadata,
		DetectedAt:      evt.DetectedAt,
		ResultingState:  evt.ResultingState,
		CumulativeScore: evt.CumulativeScore,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal security event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver security event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("logging endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *Exporter) Close() {
	p.client.CloseIdleConnections()
}
