// Package config manages ckd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete ckd configuration.
type Config struct {
	Bus      BusConfig      `koanf:"bus"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Runtime  RuntimeConfig  `koanf:"runtime"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Scripts  ScriptsConfig  `koanf:"scripts"`
	Seats    []SeatConfig   `koanf:"seats"`
}

// BusConfig holds the D-Bus service configuration.
type BusConfig struct {
	// Name is the well-known bus name (e.g.,
	// "org.freedesktop.ConsoleKit"). It is validated and logged at
	// startup; busapi.New always requests busapi.BusName and does not
	// read this field.
	Name string `koanf:"name"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// RuntimeConfig holds filesystem locations the daemon owns, per §6's
// "filesystem surface" (run directory root, PID file, inhibitor FIFO
// directory, per-user runtime directories).
type RuntimeConfig struct {
	// RunDir is the root runtime directory (default "/run/ConsoleKit").
	RunDir string `koanf:"run_dir"`
	// PIDFile is the daemon's own PID file path.
	PIDFile string `koanf:"pid_file"`
	// InhibitDir holds the named-pipe inhibitor locks.
	InhibitDir string `koanf:"inhibit_dir"`
	// UserRunDir is the root under which per-uid runtime directories
	// (<UserRunDir>/<uid>) are created and optionally tmpfs-mounted.
	UserRunDir string `koanf:"user_run_dir"`
	// MountUserTmpfs mounts a tmpfs at each per-user runtime directory
	// instead of a plain directory.
	MountUserTmpfs bool `koanf:"mount_user_tmpfs"`
}

// PipelineConfig holds the system-action pipeline's timing knobs (§4.1.2).
type PipelineConfig struct {
	// FastDelay is the delay window used when no inhibitor holds a
	// DELAY lock on the action being run.
	FastDelay time.Duration `koanf:"fast_delay"`
	// InhibitedDelay is the delay window used while a DELAY lock is held.
	InhibitedDelay time.Duration `koanf:"inhibited_delay"`
	// PauseDeviceGrace is parsed from pipeline.pause_device_grace but
	// not passed on: internal/session arms its pause timer with its own
	// fixed PauseDeviceGrace constant (3s) regardless of this value.
	PauseDeviceGrace time.Duration `koanf:"pause_device_grace"`
}

// ScriptsConfig names the five external scripts the pipeline invokes
// to actually perform a system action (§4.1, §6). PowerOff and Reboot
// have no scripts of their own: they share Stop's and Restart's,
// respectively, matching upstream ConsoleKit's method-to-script
// mapping (there has never been a separate ck-system-poweroff).
type ScriptsConfig struct {
	Stop        string `koanf:"stop"`
	Restart     string `koanf:"restart"`
	Suspend     string `koanf:"suspend"`
	Hibernate   string `koanf:"hibernate"`
	HybridSleep string `koanf:"hybrid_sleep"`
}

// SeatConfig describes a declarative STATIC seat from the
// configuration file (§4.3's seat.conf equivalent).
type SeatConfig struct {
	// ID is the seat identifier, e.g. "seat0".
	ID string `koanf:"id"`
	// ConsolePath is the virtual-console device used for VT switch
	// notification, e.g. "/dev/tty0".
	ConsolePath string `koanf:"console_path"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Name: "org.freedesktop.ConsoleKit",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Runtime: RuntimeConfig{
			RunDir:         "/run/ConsoleKit",
			PIDFile:        "/run/ConsoleKit/pid",
			InhibitDir:     "/run/ConsoleKit/inhibit",
			UserRunDir:     "/run/user",
			MountUserTmpfs: false,
		},
		Pipeline: PipelineConfig{
			FastDelay:        2 * time.Second,
			InhibitedDelay:   8 * time.Second,
			PauseDeviceGrace: 3 * time.Second,
		},
		Scripts: ScriptsConfig{
			Stop:        "/usr/lib/ConsoleKit/scripts/ck-system-stop",
			Restart:     "/usr/lib/ConsoleKit/scripts/ck-system-restart",
			Suspend:     "/usr/lib/ConsoleKit/scripts/ck-system-suspend",
			Hibernate:   "/usr/lib/ConsoleKit/scripts/ck-system-hibernate",
			HybridSleep: "/usr/lib/ConsoleKit/scripts/ck-system-hybridsleep",
		},
		Seats: []SeatConfig{
			{ID: "seat0", ConsolePath: "/dev/tty0"},
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for ckd configuration.
// Variables are named CKD_<section>_<key>, e.g., CKD_BUS_NAME.
const envPrefix = "CKD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (CKD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	CKD_BUS_NAME          -> bus.name
//	CKD_METRICS_ADDR      -> metrics.addr
//	CKD_METRICS_PATH      -> metrics.path
//	CKD_LOG_LEVEL         -> log.level
//	CKD_LOG_FORMAT        -> log.format
//	CKD_RUNTIME_RUN_DIR   -> runtime.run_dir
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms CKD_BUS_NAME -> bus.name.
// Strips the CKD_ prefix, lowercases, and replaces the first _ with .
// so that multi-word keys keep their underscores
// (CKD_RUNTIME_RUN_DIR -> runtime.run_dir).
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"bus.name":                    defaults.Bus.Name,
		"metrics.addr":                defaults.Metrics.Addr,
		"metrics.path":                defaults.Metrics.Path,
		"log.level":                   defaults.Log.Level,
		"log.format":                  defaults.Log.Format,
		"runtime.run_dir":             defaults.Runtime.RunDir,
		"runtime.pid_file":            defaults.Runtime.PIDFile,
		"runtime.inhibit_dir":         defaults.Runtime.InhibitDir,
		"runtime.user_run_dir":        defaults.Runtime.UserRunDir,
		"runtime.mount_user_tmpfs":    defaults.Runtime.MountUserTmpfs,
		"pipeline.fast_delay":         defaults.Pipeline.FastDelay.String(),
		"pipeline.inhibited_delay":    defaults.Pipeline.InhibitedDelay.String(),
		"pipeline.pause_device_grace": defaults.Pipeline.PauseDeviceGrace.String(),
		"scripts.stop":                defaults.Scripts.Stop,
		"scripts.restart":             defaults.Scripts.Restart,
		"scripts.suspend":             defaults.Scripts.Suspend,
		"scripts.hibernate":           defaults.Scripts.Hibernate,
		"scripts.hybrid_sleep":        defaults.Scripts.HybridSleep,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyBusName indicates the bus name is empty.
	ErrEmptyBusName = errors.New("bus.name must not be empty")

	// ErrEmptyRunDir indicates the run directory is empty.
	ErrEmptyRunDir = errors.New("runtime.run_dir must not be empty")

	// ErrInvalidFastDelay indicates the fast delay is negative.
	ErrInvalidFastDelay = errors.New("pipeline.fast_delay must be >= 0")

	// ErrInvalidInhibitedDelay indicates the inhibited delay is negative.
	ErrInvalidInhibitedDelay = errors.New("pipeline.inhibited_delay must be >= 0")

	// ErrDuplicateSeatID indicates two seats share the same id.
	ErrDuplicateSeatID = errors.New("duplicate seat id")

	// ErrEmptySeatID indicates a declared seat has no id.
	ErrEmptySeatID = errors.New("seat id must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Bus.Name == "" {
		return ErrEmptyBusName
	}

	if cfg.Runtime.RunDir == "" {
		return ErrEmptyRunDir
	}

	if cfg.Pipeline.FastDelay < 0 {
		return ErrInvalidFastDelay
	}

	if cfg.Pipeline.InhibitedDelay < 0 {
		return ErrInvalidInhibitedDelay
	}

	if err := validateSeats(cfg.Seats); err != nil {
		return err
	}

	return nil
}

// validateSeats checks each declarative STATIC seat entry for correctness.
func validateSeats(seats []SeatConfig) error {
	seen := make(map[string]struct{}, len(seats))

	for i, sc := range seats {
		if sc.ID == "" {
			return fmt.Errorf("seats[%d]: %w", i, ErrEmptySeatID)
		}
		if _, dup := seen[sc.ID]; dup {
			return fmt.Errorf("seats[%d] id %q: %w", i, sc.ID, ErrDuplicateSeatID)
		}
		seen[sc.ID] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
