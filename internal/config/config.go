package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/pgpemu/internal/settings"
)

// LevelVerbose is the slog level for the "verbose" setting, below debug.
const LevelVerbose = slog.LevelDebug - 4

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Storage  StorageConfig  `yaml:"storage"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Console  ConsoleConfig  `yaml:"console"`
	LogLevel string         `yaml:"log_level"`
}

// DeviceConfig holds the advertised identity and connection capacity.
type DeviceConfig struct {
	Name           string `yaml:"name"`
	MaxConnections int    `yaml:"max_connections"`
}

// StorageConfig holds settings store options.
type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
	// EncryptionSecret enables encryption at rest when non-empty.
	EncryptionSecret string `yaml:"encryption_secret"`
}

// DispatchConfig holds action queue tuning.
type DispatchConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	RetoggleDelay time.Duration `yaml:"retoggle_delay"`
	PressDelayMin time.Duration `yaml:"press_delay_min"`
	PressDelayMax time.Duration `yaml:"press_delay_max"`
}

// ConsoleConfig selects the command console transport. An empty Port reads
// commands from stdin.
type ConsoleConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "pgpemu")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Device: DeviceConfig{
			Name:           "Pokemon GO Plus",
			MaxConnections: 4,
		},
		Storage: StorageConfig{
			Path: filepath.Join(home, ".local", "share", "pgpemu", "store"),
		},
		Dispatch: DispatchConfig{
			QueueSize:     10,
			RetoggleDelay: 300 * time.Second,
			PressDelayMin: 1000 * time.Millisecond,
			PressDelayMax: 2500 * time.Millisecond,
		},
		Console: ConsoleConfig{
			Baud: 115200,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in storage.path is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Storage.Path = expandTilde(cfg.Storage.Path)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return errors.New("device.name must not be empty")
	}
	if c.Device.MaxConnections < 1 || c.Device.MaxConnections > 255 {
		return fmt.Errorf("device.max_connections must be in 1..255, got %d", c.Device.MaxConnections)
	}

	if !c.Storage.InMemory && c.Storage.Path == "" {
		return errors.New("storage.path must not be empty unless storage.in_memory is set")
	}

	if c.Dispatch.QueueSize < 1 {
		return fmt.Errorf("dispatch.queue_size must be > 0, got %d", c.Dispatch.QueueSize)
	}
	if c.Dispatch.RetoggleDelay <= 0 {
		return errors.New("dispatch.retoggle_delay must be > 0")
	}
	if c.Dispatch.PressDelayMin <= 0 {
		return errors.New("dispatch.press_delay_min must be > 0")
	}
	if c.Dispatch.PressDelayMax < c.Dispatch.PressDelayMin {
		return fmt.Errorf("dispatch.press_delay_max (%s) must not be below press_delay_min (%s)",
			c.Dispatch.PressDelayMax, c.Dispatch.PressDelayMin)
	}

	if c.Console.Port != "" && c.Console.Baud <= 0 {
		return fmt.Errorf("console.baud must be > 0 when console.port is set, got %d", c.Console.Baud)
	}

	switch c.LogLevel {
	case "verbose", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be verbose, debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	header := "# pgpemu configuration\n# Generated with default values; edit as needed.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a log_level string to a slog level. Unknown values
// default to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "verbose":
		return LevelVerbose
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SlogLevelFor maps the stored log level setting (1 debug, 2 info,
// 3 verbose) to a slog level.
func SlogLevelFor(level uint8) slog.Level {
	switch level {
	case settings.LogLevelInfo:
		return slog.LevelInfo
	case settings.LogLevelVerbose:
		return LevelVerbose
	default:
		return slog.LevelDebug
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
