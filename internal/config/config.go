// Package config handles loading and validating Sanduku configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Sanduku.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.sanduku/workspace. Override: SANDUKU_WORKSPACE env var.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Persistent data directory. Default: ~/.sanduku/data. Override: SANDUKU_DATA_DIR env var.
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Approval      ApprovalConfig       `json:"approval" yaml:"approval"`
	History       *HistoryConfig       `json:"history,omitempty" yaml:"history,omitempty"`             // nil = history enabled with defaults
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// SandboxConfig configures the execution backends.
type SandboxConfig struct {
	Mode                  string  `json:"mode" yaml:"mode"` // "auto" (default), "container", or "subprocess".
	Image                 string  `json:"image" yaml:"image"`
	DefaultTimeoutSeconds int     `json:"default_timeout_seconds" yaml:"default_timeout_seconds"` // Default: 120.
	MaxTimeoutSeconds     int     `json:"max_timeout_seconds" yaml:"max_timeout_seconds"`         // Default: 600.
	NetworkAllowed        bool    `json:"network_allowed" yaml:"network_allowed"`
	MaxMemoryMB           int64   `json:"max_memory_mb" yaml:"max_memory_mb"`   // Default: 512.
	CPUCores              float64 `json:"cpu_cores" yaml:"cpu_cores"`           // Docker --cpus flag. 0 = 1.0 default.
	PIDsLimit             int     `json:"pids_limit" yaml:"pids_limit"`         // Docker --pids-limit flag. 0 = 64 default.
}

// SandboxMode returns the configured backend mode, defaulting to "auto".
func (s *SandboxConfig) SandboxMode() string {
	if s != nil && s.Mode != "" {
		return s.Mode
	}
	return "auto"
}

// DefaultTimeout returns the per-command default timeout with a default of 2m.
func (s *SandboxConfig) DefaultTimeout() time.Duration {
	if s != nil && s.DefaultTimeoutSeconds > 0 {
		return time.Duration(s.DefaultTimeoutSeconds) * time.Second
	}
	return 2 * time.Minute
}

// MaxTimeout returns the per-command timeout ceiling with a default of 10m.
func (s *SandboxConfig) MaxTimeout() time.Duration {
	if s != nil && s.MaxTimeoutSeconds > 0 {
		return time.Duration(s.MaxTimeoutSeconds) * time.Second
	}
	return 10 * time.Minute
}

// ApprovalConfig configures command classification.
type ApprovalConfig struct {
	SafeCommands       []string `json:"safe_commands,omitempty" yaml:"safe_commands,omitempty"` // Extra auto-approvable prefixes, merged with the built-in list.
	DisableAutoApprove bool     `json:"disable_auto_approve" yaml:"disable_auto_approve"`       // Force every command through confirmation.
}

// HistoryConfig configures the SQLite execution history.
// When nil, history is enabled with the default database path.
type HistoryConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
}

// HistoryEnabled reports whether executions should be recorded.
func (c *Config) HistoryEnabled() bool {
	if c.History == nil {
		return true
	}
	return c.History.Enabled
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"` // Default: ":9090"
	Path       string `json:"path" yaml:"path"`               // Default: "/metrics"
}

// Addr returns the metrics listen address with a default of ":9090".
func (m *MetricsConfig) Addr() string {
	if m != nil && m.ListenAddr != "" {
		return m.ListenAddr
	}
	return ":9090"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "sanduku"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// DefaultConfigPath returns the default config file path (~/.sanduku/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/sanduku.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".sanduku", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads the config at path, or returns a default Config when
// the file does not exist. Any other read or parse error is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	def := &Config{}
	def.applyEnvOverrides()
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return def, nil
}

// applyEnvOverrides applies SANDUKU_* environment variables on top of the
// file values.
func (c *Config) applyEnvOverrides() {
	if envWS := os.Getenv("SANDUKU_WORKSPACE"); envWS != "" {
		c.Workspace = envWS
	}
	if envDD := os.Getenv("SANDUKU_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envMode := os.Getenv("SANDUKU_SANDBOX_MODE"); envMode != "" {
		c.Sandbox.Mode = envMode
	}
	if envImage := os.Getenv("SANDUKU_SANDBOX_IMAGE"); envImage != "" {
		c.Sandbox.Image = envImage
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedWorkspace returns the workspace root, resolving ~ if needed.
func (c *Config) ResolvedWorkspace() string {
	if c.Workspace == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "workspace"
		}
		return filepath.Join(home, ".sanduku", "workspace")
	}
	resolved, err := resolvePath(c.Workspace)
	if err != nil {
		return c.Workspace
	}
	return resolved
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".sanduku", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// HistoryPath returns the SQLite history database path.
func (c *Config) HistoryPath() string {
	if c.History != nil && c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "history.db")
}

// AuditLogPath returns the audit log path under the data directory.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

func (c *Config) validate() error {
	switch c.Sandbox.SandboxMode() {
	case "auto", "container", "subprocess":
		// valid
	default:
		return fmt.Errorf("sandbox.mode %q is not supported (use auto, container, or subprocess)", c.Sandbox.Mode)
	}
	if c.Sandbox.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("sandbox.default_timeout_seconds must not be negative")
	}
	if c.Sandbox.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("sandbox.max_timeout_seconds must not be negative")
	}
	if c.Sandbox.DefaultTimeout() > c.Sandbox.MaxTimeout() {
		return fmt.Errorf("sandbox.default_timeout_seconds exceeds sandbox.max_timeout_seconds")
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return fmt.Errorf("sandbox.max_memory_mb must not be negative")
	}
	if c.Sandbox.CPUCores < 0 {
		return fmt.Errorf("sandbox.cpu_cores must not be negative")
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch p := c.Observability.Tracing.Protocol; p {
		case "", "grpc", "http":
			// valid
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", p)
		}
	}
	return nil
}
