package telemetry

import (
	"fmt"

	"github.com/ExamTrust/ProctorGate/pkg/domain/telemetry"
)

// ExporterConfig names an exporter and carries its raw settings, the shape
// the config layer hands over.
type ExporterConfig struct {
	Name     string                 `json:"name" mapstructure:"name"`
	Settings map[string]interface{} `json:"settings" mapstructure:"settings"`
}

type ExporterLocator struct {
	exporters map[string]telemetry.Exporter
}

func NewExporterLocator(opts ...ExporterLocatorOption) *ExporterLocator {
	el := &ExporterLocator{
		exporters: make(map[string]telemetry.Exporter),
	}
	for _, opt := range opts {
		opt(el)
	}
	return el
}

func (p *ExporterLocator) GetExporter(cfg ExporterConfig) (telemetry.Exporter, error) {
	base, ok := p.exporters[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("unknown exporter: %s", cfg.Name)
	}
	if err := base.ValidateConfig(cfg.Settings); err != nil {
		return nil, err
	}
	exporter, err := base.WithSettings(cfg.Settings)
	if err != nil {
		return nil, err
	}
	return exporter, nil
}

func (p *ExporterLocator) ValidateExporter(cfg ExporterConfig) error {
	base, ok := p.exporters[cfg.Name]
	if !ok {
		return fmt.Errorf("unknown exporter: %s", cfg.Name)
	}
	return base.ValidateConfig(cfg.Settings)
}
