package monitor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExamTrust/ProctorGate/pkg/browser/browsertest"
	"github.com/ExamTrust/ProctorGate/pkg/config"
	"github.com/ExamTrust/ProctorGate/pkg/infra/logger"
	"github.com/ExamTrust/ProctorGate/pkg/infra/telemetry/httplog"
	"github.com/ExamTrust/ProctorGate/pkg/monitor"
	"github.com/ExamTrust/ProctorGate/pkg/policy"
)

func TestNewFromConfig_MinimalConfig(t *testing.T) {
	b, err := monitor.NewFromConfig(logger.NewNopLogger(), browsertest.New(), &config.Config{})
	require.NoError(t, err)
	defer b.Close()

	require.NotNil(t, b.Monitor)

	_, err = b.ReplayEvents(context.Background(), "sess-1")
	assert.Error(t, err)
}

func TestNewFromConfig_HTTPLogExporter(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := &config.Config{
		Telemetry: config.TelemetryConfig{
			Exporter: httplog.ExporterName,
			Settings: map[string]interface{}{"endpoint": srv.URL},
		},
	}
	fake := browsertest.New()
	b, err := monitor.NewFromConfig(logger.NewNopLogger(), fake, cfg)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Monitor.Start(context.Background(), "sess-exp", policy.ZeroTolerance(), monitor.Callbacks{})
	require.NoError(t, err)

	fake.PageState().SetHidden(true)
	assert.Eventually(t, func() bool {
		select {
		case <-received:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	b.Monitor.Stop(context.Background())
}

func TestNewFromConfig_UnknownExporter(t *testing.T) {
	cfg := &config.Config{
		Telemetry: config.TelemetryConfig{Exporter: "carrier-pigeon"},
	}
	_, err := monitor.NewFromConfig(logger.NewNopLogger(), browsertest.New(), cfg)
	require.Error(t, err)
}

func TestNewFromConfig_BadExporterSettings(t *testing.T) {
	cfg := &config.Config{
		Telemetry: config.TelemetryConfig{
			Exporter: httplog.ExporterName,
			Settings: map[string]interface{}{},
		},
	}
	_, err := monitor.NewFromConfig(logger.NewNopLogger(), browsertest.New(), cfg)
	require.Error(t, err)
}
