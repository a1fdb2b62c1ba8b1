package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/consolekit-go/ckd/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Bus.Name != "org.freedesktop.ConsoleKit" {
		t.Errorf("Bus.Name = %q, want %q", cfg.Bus.Name, "org.freedesktop.ConsoleKit")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Runtime.RunDir != "/run/ConsoleKit" {
		t.Errorf("Runtime.RunDir = %q, want %q", cfg.Runtime.RunDir, "/run/ConsoleKit")
	}

	if cfg.Pipeline.InhibitedDelay != 8*time.Second {
		t.Errorf("Pipeline.InhibitedDelay = %v, want %v", cfg.Pipeline.InhibitedDelay, 8*time.Second)
	}

	if len(cfg.Seats) != 1 || cfg.Seats[0].ID != "seat0" {
		t.Errorf("Seats = %+v, want a single seat0 entry", cfg.Seats)
	}

	if !strings.HasSuffix(cfg.Scripts.Stop, "ck-system-stop") {
		t.Errorf("Scripts.Stop = %q, want suffix ck-system-stop", cfg.Scripts.Stop)
	}
	if !strings.HasSuffix(cfg.Scripts.Restart, "ck-system-restart") {
		t.Errorf("Scripts.Restart = %q, want suffix ck-system-restart", cfg.Scripts.Restart)
	}
	if !strings.HasSuffix(cfg.Scripts.HybridSleep, "ck-system-hybridsleep") {
		t.Errorf("Scripts.HybridSleep = %q, want suffix ck-system-hybridsleep", cfg.Scripts.HybridSleep)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
bus:
  name: "org.example.ConsoleKit"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
pipeline:
  fast_delay: "500ms"
  inhibited_delay: "10s"
  pause_device_grace: "1s"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Bus.Name != "org.example.ConsoleKit" {
		t.Errorf("Bus.Name = %q, want %q", cfg.Bus.Name, "org.example.ConsoleKit")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Pipeline.FastDelay != 500*time.Millisecond {
		t.Errorf("Pipeline.FastDelay = %v, want %v", cfg.Pipeline.FastDelay, 500*time.Millisecond)
	}

	if cfg.Pipeline.InhibitedDelay != 10*time.Second {
		t.Errorf("Pipeline.InhibitedDelay = %v, want %v", cfg.Pipeline.InhibitedDelay, 10*time.Second)
	}

	if cfg.Pipeline.PauseDeviceGrace != 1*time.Second {
		t.Errorf("Pipeline.PauseDeviceGrace = %v, want %v", cfg.Pipeline.PauseDeviceGrace, 1*time.Second)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override bus.name and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
bus:
  name: "org.example.ConsoleKit"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Bus.Name != "org.example.ConsoleKit" {
		t.Errorf("Bus.Name = %q, want %q", cfg.Bus.Name, "org.example.ConsoleKit")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Runtime.RunDir != "/run/ConsoleKit" {
		t.Errorf("Runtime.RunDir = %q, want default %q", cfg.Runtime.RunDir, "/run/ConsoleKit")
	}

	if cfg.Pipeline.InhibitedDelay != 8*time.Second {
		t.Errorf("Pipeline.InhibitedDelay = %v, want default %v", cfg.Pipeline.InhibitedDelay, 8*time.Second)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty bus name",
			modify: func(cfg *config.Config) {
				cfg.Bus.Name = ""
			},
			wantErr: config.ErrEmptyBusName,
		},
		{
			name: "empty run dir",
			modify: func(cfg *config.Config) {
				cfg.Runtime.RunDir = ""
			},
			wantErr: config.ErrEmptyRunDir,
		},
		{
			name: "negative fast delay",
			modify: func(cfg *config.Config) {
				cfg.Pipeline.FastDelay = -1 * time.Second
			},
			wantErr: config.ErrInvalidFastDelay,
		},
		{
			name: "negative inhibited delay",
			modify: func(cfg *config.Config) {
				cfg.Pipeline.InhibitedDelay = -1 * time.Second
			},
			wantErr: config.ErrInvalidInhibitedDelay,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Seat Config Tests
// -------------------------------------------------------------------------

func TestLoadWithSeats(t *testing.T) {
	t.Parallel()

	yamlContent := `
bus:
  name: "org.freedesktop.ConsoleKit"
seats:
  - id: seat0
    console_path: "/dev/tty0"
  - id: seat1
    console_path: "/dev/tty1"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Seats) != 2 {
		t.Fatalf("Seats count = %d, want 2", len(cfg.Seats))
	}

	if cfg.Seats[0].ID != "seat0" || cfg.Seats[0].ConsolePath != "/dev/tty0" {
		t.Errorf("Seats[0] = %+v, want {seat0 /dev/tty0}", cfg.Seats[0])
	}
	if cfg.Seats[1].ID != "seat1" || cfg.Seats[1].ConsolePath != "/dev/tty1" {
		t.Errorf("Seats[1] = %+v, want {seat1 /dev/tty1}", cfg.Seats[1])
	}
}

func TestValidateSeatErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty seat id",
			modify: func(cfg *config.Config) {
				cfg.Seats = []config.SeatConfig{{ID: "", ConsolePath: "/dev/tty0"}}
			},
			wantErr: config.ErrEmptySeatID,
		},
		{
			name: "duplicate seat id",
			modify: func(cfg *config.Config) {
				cfg.Seats = []config.SeatConfig{
					{ID: "seat0", ConsolePath: "/dev/tty0"},
					{ID: "seat0", ConsolePath: "/dev/tty1"},
				}
			},
			wantErr: config.ErrDuplicateSeatID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
bus:
  name: "org.freedesktop.ConsoleKit"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("CKD_BUS_NAME", "org.example.ConsoleKit")
	t.Setenv("CKD_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Bus.Name != "org.example.ConsoleKit" {
		t.Errorf("Bus.Name = %q, want %q (from env)", cfg.Bus.Name, "org.example.ConsoleKit")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
bus:
  name: "org.freedesktop.ConsoleKit"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("CKD_METRICS_ADDR", ":9200")
	t.Setenv("CKD_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "ckd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
