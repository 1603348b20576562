package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/kenneth/envvault/internal/config"
)

func restoreGlobalProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		otel.SetTextMapPropagator(prevProp)
	})
}

func TestSetup_Disabled(t *testing.T) {
	logger, hook := test.NewNullLogger()
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false}, logger)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Empty(t, hook.AllEntries())
}

func TestSetup_StdoutExportsSpans(t *testing.T) {
	restoreGlobalProvider(t)
	logger, hook := test.NewNullLogger()

	var out bytes.Buffer
	cfg := config.Default().Tracing
	cfg.Enabled = true
	cfg.Exporter = "stdout"

	shutdown, err := setup(context.Background(), cfg, logger, &out)
	require.NoError(t, err)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Tracing enabled", hook.LastEntry().Message)

	_, span := otel.Tracer("test").Start(context.Background(), "secrets.Add")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), "secrets.Add")
	assert.Contains(t, out.String(), "envvault")
}

func TestSetup_UnknownExporter(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Exporter: "zipkin"}, logger)
	assert.Error(t, err)
}
