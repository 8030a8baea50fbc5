package telemetry

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	assert.Error(t, cfg.Validate(), "otlp without endpoint")

	cfg.Tracing.Endpoint = "localhost:4317"
	assert.NoError(t, cfg.Validate())

	cfg.Tracing.Exporter = "jaeger"
	assert.Error(t, cfg.Validate())
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRunStarted()
		m.RecordResource("file", "changed", time.Second)
		m.RecordRunCompleted("converged", false, time.Second)
		m.RecordError("apply", "RESOURCE_APPLY")
		m.RecordPolicyViolation("warning")
	})
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordRunStarted()
	m.RecordResource("file", "changed", 10*time.Millisecond)
	m.RecordResource("package", "up_to_date", time.Millisecond)
	m.RecordRunCompleted("converged", false, time.Second)

	path := filepath.Join(t.TempDir(), "rancherhost.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "rancherhost_runs_started_total 1")
	assert.Contains(t, text, `rancherhost_resources_converged_total{kind="file",outcome="changed"} 1`)
	assert.Contains(t, text, `rancherhost_runs_completed_total{dry_run="false",status="converged"} 1`)
}

func TestDisabledMetrics(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = false
	m, err := NewMetrics(cfg)
	require.NoError(t, err)

	m.RecordRunStarted()
	path := filepath.Join(t.TempDir(), "off.prom")
	require.NoError(t, m.WriteTextfile(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoggerScopedFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewFromZerolog(zerolog.New(&buf))

	l.WithRunID("r-1").WithRecipe("docker").WithResource("file", "/etc/docker/daemon.json").Info("changed")

	out := buf.String()
	for _, want := range []string{`"run_id":"r-1"`, `"recipe":"docker"`, `"kind":"file"`, `"resource":"/etc/docker/daemon.json"`} {
		assert.True(t, strings.Contains(out, want), "missing %s in %s", want, out)
	}
}

func TestLoggerContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := NewFromZerolog(zerolog.New(&buf)).WithField("component", "test")
	ctx := l.WithContext(context.Background())

	FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), `"component":"test"`)

	_, ok := LoggerFromContext(context.Background())
	assert.False(t, ok)
	got, ok := LoggerFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, l, got)
}

func TestTracerDisabledSpans(t *testing.T) {
	tr, err := NewTracer(DefaultConfig().Tracing, "rancherhost", "test", "host")
	require.NoError(t, err)

	ctx, span := tr.StartRunSpan(context.Background(), "run-1", true)
	_, child := tr.StartResourceSpan(ctx, "file", "/tmp/x", "create")
	RecordError(child, assert.AnError)
	child.End()
	RecordSuccess(span)
	span.End()

	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestTraceIDOnlyWhenSampled(t *testing.T) {
	off, err := NewTracer(DefaultConfig().Tracing, "rancherhost", "test", "host")
	require.NoError(t, err)
	ctx, span := off.StartRunSpan(context.Background(), "run-1", false)
	assert.Empty(t, TraceID(ctx))
	span.End()

	cfg := DefaultConfig().Tracing
	cfg.Enabled = true
	on, err := NewTracer(cfg, "rancherhost", "test", "host")
	require.NoError(t, err)
	ctx, span = on.StartRunSpan(context.Background(), "run-2", false)
	assert.Len(t, TraceID(ctx), 32)
	span.End()
	assert.NoError(t, on.Shutdown(context.Background()))
}
