package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/obstacle-shadowing/internal/logging"
)

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("SHADOWSIM_TRACING_ENABLED", "")
	t.Setenv("SHADOWSIM_TRACING_EXPORTER", "")
	t.Setenv("SHADOWSIM_TRACING_SERVICE_NAME", "")
	t.Setenv("SHADOWSIM_TRACING_SAMPLE_RATIO", "")

	cfg := TracingConfigFromEnv()
	if cfg.Enabled {
		t.Fatalf("tracing should be disabled by default")
	}
	if cfg.Exporter != "stdout" || cfg.ServiceName != "shadowsim" || cfg.SampleRatio != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestTracingConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("SHADOWSIM_TRACING_ENABLED", "TRUE")
	t.Setenv("SHADOWSIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("SHADOWSIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SHADOWSIM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv("SHADOWSIM_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("out-of-range ratio should fall back to 1, got %v", got)
	}
}

func TestInitTracingDisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("err = %v, want ErrUnknownExporter", err)
	}
}

func TestInitTracingStdoutExportsRunSpan(t *testing.T) {
	var out bytes.Buffer
	cfg := TracingConfig{Enabled: true, Exporter: "stdout", ServiceName: "shadowsim-test", SampleRatio: 1, Output: &out}
	shutdown, err := InitTracing(context.Background(), cfg, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, nil)
	})

	_, span := StartRunSpan(context.Background(), "run-1", "city-block", 3, 2)
	FailSpan(span, errors.New("boom"))
	FailSpan(span, nil)
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	got := out.String()
	for _, want := range []string{"simulation.run", "run-1", "city-block", "boom"} {
		if !strings.Contains(got, want) {
			t.Fatalf("exported span missing %q:\n%s", want, got)
		}
	}
}

func TestShutdownWithTimeoutToleratesNil(t *testing.T) {
	ShutdownWithTimeout(context.Background(), nil, nil)

	called := false
	ShutdownWithTimeout(context.Background(), func(ctx context.Context) error {
		called = true
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("shutdown context has no deadline")
		}
		return errors.New("flush failed")
	}, logging.Noop())
	if !called {
		t.Fatalf("shutdown func not called")
	}
}
