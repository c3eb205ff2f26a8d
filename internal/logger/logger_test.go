package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zap.DebugLevel},
		{"INFO", zap.InfoLevel},
		{"warning", zap.WarnLevel},
		{"error", zap.ErrorLevel},
		{"bogus", zap.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInit(t *testing.T) {
	prev, prevSugared := base, sugared
	t.Cleanup(func() { base, sugared = prev, prevSugared })

	for _, format := range []string{"json", "text"} {
		if err := Init("debug", format); err != nil {
			t.Errorf("Init(debug, %s) failed: %v", format, err)
		}
		if !base.Core().Enabled(zap.DebugLevel) {
			t.Errorf("Expected debug level enabled for %s format", format)
		}
	}
}

func TestHelpersFormatAndFilter(t *testing.T) {
	prev, prevSugared := base, sugared
	t.Cleanup(func() { base, sugared = prev, prevSugared })

	core, logs := observer.New(zap.InfoLevel)
	base = zap.New(core)
	sugared = base.Sugar()

	Debug("hidden %d", 1)
	Info("built %d edges", 42)
	Warn("slow %s", "query")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "built 42 edges" || entries[1].Level != zap.WarnLevel {
		t.Errorf("Unexpected entries: %+v", entries)
	}
}
