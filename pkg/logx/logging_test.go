package logx

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestNopAndZeroValueAreSafe(t *testing.T) {
	t.Parallel()
	var zero Logger
	zero.Info("into the void")
	if !zero.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}

	n := Nop()
	n.Error("also swallowed", Err(errors.New("boom")))
	if n.IsZero() {
		t.Fatal("Nop carries a base and is not the zero value")
	}
}

func TestFileSinkWritesStructuredLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "beacon.log")

	svc, log := New(Config{
		Level:   "DEBUG",
		Console: false,
		File:    FileConfig{Enabled: true, Path: path},
	})

	log.With(String("comp", "test")).Info("reminder delivered",
		String("id", "r1"),
		Int("attempt", 2))
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(b, &line); err != nil {
		t.Fatalf("log line is not JSON: %q", b)
	}
	if line["message"] != "reminder delivered" || line["comp"] != "test" || line["id"] != "r1" {
		t.Fatalf("line = %v", line)
	}
	if line["attempt"] != float64(2) {
		t.Fatalf("attempt = %v", line["attempt"])
	}
}

func TestApplyChangesLevel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "beacon.log")

	svc, log := New(Config{
		Level:   "ERROR",
		Console: false,
		File:    FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	if log.Enabled(LevelDebug) {
		t.Fatal("debug should be disabled at ERROR")
	}
	svc.Apply(Config{Level: "DEBUG", Console: false, File: FileConfig{Enabled: true, Path: path}})
	if !log.Enabled(LevelDebug) {
		t.Fatal("debug should be enabled after Apply")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{" DEBUG ", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"nonsense", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
