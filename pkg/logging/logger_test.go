package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Level = %s, want info", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Pretty = true, want JSON output by default")
	}
}

func TestSetup_WritesJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Output: buf})

	logger.Info().Str("entity", "octocat").Str("kind", "before").Msg("Group finished")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["entity"] != "octocat" || entry["kind"] != "before" {
		t.Errorf("fields = %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("entry has no timestamp")
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})

	logger.Info().Msg("Harvester ready")

	out := buf.String()
	if !strings.Contains(out, "Harvester ready") {
		t.Errorf("output = %q", out)
	}
	if strings.HasPrefix(out, "{") {
		t.Errorf("pretty output should not be JSON, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input LogLevel
		want  zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger_Component(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	l := NewLogger("requester")
	l.Info().Msg("Call finished")

	if !strings.Contains(buf.String(), `"component":"requester"`) {
		t.Errorf("output = %q, want component field", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger := NewLogger("limiter")
	logger.Debug().Msg("Credential acquired")
	logger.Info().Msg("Run progress")
	logger.Warn().Msg("All credentials exhausted")
	logger.Error().Msg("Failed to persist entity")

	out := buf.String()
	for _, hidden := range []string{"Credential acquired", "Run progress"} {
		if strings.Contains(out, hidden) {
			t.Errorf("%q should be filtered at warn level", hidden)
		}
	}
	for _, shown := range []string{"All credentials exhausted", "Failed to persist entity"} {
		if !strings.Contains(out, shown) {
			t.Errorf("%q missing at warn level", shown)
		}
	}
}

func TestWithRun(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf)

	withRun := WithRun(logger, "run-42")
	withRun.Info().Msg("started")
	if !strings.Contains(buf.String(), `"run_id":"run-42"`) {
		t.Errorf("Expected run_id field, got %q", buf.String())
	}

	buf.Reset()
	noRun := WithRun(logger, "")
	noRun.Info().Msg("started")
	if strings.Contains(buf.String(), "run_id") {
		t.Errorf("Empty run ID should add no field, got %q", buf.String())
	}
}
