// Package config loads loopctl's user configuration and manages secrets.
// Configuration lives at ~/.loopctl/config.yaml; every field has a usable
// default so a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// User config locations, relative to the home directory.
const (
	UserConfigDir  = ".loopctl"
	ConfigFilename = "config.yaml"
)

// LoopFileName is the per-project record file signalling an active
// persisted loop. It lives in the working directory, not the home
// directory, so loops are scoped to a project.
const LoopFileName = ".loopctl-loop.md"

// Provider names accepted in the config and on the command line.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

// Duration is a time.Duration that reads and writes the human form
// ("5m", "90s") in YAML.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or a nanosecond integer.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, parseErr := time.ParseDuration(s)
		if parseErr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, parseErr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML writes the human-readable form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the user-facing configuration.
type Config struct {
	// Provider selects the producer backend.
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model,omitempty"`

	// MaxIterations is the interactive loop's iteration budget.
	MaxIterations int `yaml:"max_iterations"`

	// CompletionPromise is the exact phrase that ends a loop.
	CompletionPromise string `yaml:"completion_promise"`

	// Mode is "auto" or "confirm".
	Mode string `yaml:"mode"`

	// WorkDir is where produced commands run. Empty means the current
	// directory.
	WorkDir string `yaml:"work_dir,omitempty"`

	// CommandTimeout bounds a single executed command.
	CommandTimeout Duration `yaml:"command_timeout"`

	// OllamaHost is the Ollama server URL for the ollama provider.
	OllamaHost string `yaml:"ollama_host,omitempty"`

	// HistoryDB is the sqlite run-history location. Empty disables
	// history.
	HistoryDB string `yaml:"history_db,omitempty"`

	// MetricsSnapshot is where a metrics dump is written on exit. Empty
	// disables the snapshot.
	MetricsSnapshot string `yaml:"metrics_snapshot,omitempty"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() Config {
	return Config{
		Provider:          ProviderAnthropic,
		MaxIterations:     10,
		CompletionPromise: "LOOP_COMPLETE",
		Mode:              "auto",
		CommandTimeout:    Duration(5 * time.Minute),
		HistoryDB:         filepath.Join("~", UserConfigDir, "history.db"),
		MetricsSnapshot:   filepath.Join("~", UserConfigDir, "metrics.prom"),
	}
}

// Path returns the config file location under the user's home directory.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, UserConfigDir, ConfigFilename), nil
}

// Load reads the config file at path, layered over the defaults. A missing
// file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values no component could act on.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGemini:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.Mode != "auto" && c.Mode != "confirm" {
		return fmt.Errorf("mode must be auto or confirm, got %q", c.Mode)
	}
	if c.CompletionPromise == "" {
		return fmt.Errorf("completion_promise cannot be empty")
	}
	return nil
}

// Save writes the config, creating its directory if needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ExpandHome resolves a leading ~ in a configured path.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], string(filepath.Separator)))
	}
	return path
}
