package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "shadowing")).Debug(context.Background(), "cache cleared",
		String("reason", "overflow"),
		Int("entries", 1000),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "cache cleared" || rec["component"] != "shadowing" || rec["reason"] != "overflow" {
		t.Fatalf("unexpected log record: %v", rec)
	}
	if rec["entries"] != float64(1000) {
		t.Fatalf("entries = %v, want 1000", rec["entries"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "dropped")
	log.Warn(context.Background(), "kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info message should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn message missing: %q", out)
	}
}

func TestWithRunLoggerReusesContextID(t *testing.T) {
	ctx := ContextWithRunID(context.Background(), "run-42")
	ctx, _ = WithRunLogger(ctx, nil)
	if got := RunIDFromContext(ctx); got != "run-42" {
		t.Fatalf("run_id = %q, want run-42", got)
	}

	fresh, _ := WithRunLogger(context.Background(), Noop())
	if RunIDFromContext(fresh) == "" {
		t.Fatalf("expected a generated run_id")
	}
}
