package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultUIPort = 23999

	// Environment overrides applied by ApplyEnv.
	EnvStateDir  = "CODEX_BRIDGE_STATE_DIR"
	EnvLogFormat = "CODEX_BRIDGE_LOG_FORMAT"
	EnvLogLevel  = "CODEX_BRIDGE_LOG_LEVEL"
)

// Config is the on-disk configuration for codex-bridge.
type Config struct {
	// StateDir holds the endpoint cache, the instance lock and bridge server
	// logs. Empty means the directory of the config file.
	StateDir string `yaml:"state_dir,omitempty"`

	// LogFormat is "json" or "text". Empty picks text on a terminal, json otherwise.
	LogFormat string `yaml:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `yaml:"log_level,omitempty"`

	UIPort int `yaml:"ui_port,omitempty"`
	// UIAllowedOrigins extends the loopback origins accepted by the UI websocket.
	UIAllowedOrigins []string `yaml:"ui_allowed_origins,omitempty"`

	// CodexConfigPath overrides the location of the Codex config.toml.
	CodexConfigPath string `yaml:"codex_config_path,omitempty"`

	Backend Backend `yaml:"backend"`
}

// Backend configures discovery of the bridge server.
type Backend struct {
	BaseURL       string        `yaml:"base_url,omitempty"`
	Executable    string        `yaml:"executable,omitempty"`
	HealthPath    string        `yaml:"health_path,omitempty"`
	WSPath        string        `yaml:"ws_path,omitempty"`
	LaunchTimeout time.Duration `yaml:"launch_timeout,omitempty"`
	ProbeInterval time.Duration `yaml:"probe_interval,omitempty"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		UIPort:   DefaultUIPort,
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.UIPort < 0 || c.UIPort > 65535 {
		return fmt.Errorf("invalid ui_port: %d", c.UIPort)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log format: %s", c.LogFormat)
	}
	for _, o := range c.UIAllowedOrigins {
		u, err := url.Parse(strings.TrimSpace(o))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid ui_allowed_origins entry: %q", o)
		}
	}
	if s := strings.TrimSpace(c.Backend.BaseURL); s != "" {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid backend.base_url: %q", s)
		}
	}
	if c.Backend.LaunchTimeout < 0 {
		return errors.New("backend.launch_timeout must not be negative")
	}
	if c.Backend.ProbeInterval < 0 {
		return errors.New("backend.probe_interval must not be negative")
	}
	return nil
}

// ApplyEnv overlays the process environment onto c.
func (c *Config) ApplyEnv() {
	if c == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv(EnvStateDir)); v != "" {
		c.StateDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		c.LogFormat = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
}

// ResolveStateDir returns StateDir, or the directory of configPath.
func (c *Config) ResolveStateDir(configPath string) string {
	if c != nil {
		if s := strings.TrimSpace(c.StateDir); s != "" {
			return filepath.Clean(s)
		}
	}
	return filepath.Dir(filepath.Clean(configPath))
}

// Port returns UIPort, or DefaultUIPort when unset.
func (c *Config) Port() int {
	if c == nil || c.UIPort == 0 {
		return DefaultUIPort
	}
	return c.UIPort
}

// DefaultConfigPath returns the default config path:
//
//	~/.codex-bridge/config.yaml
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "codex-bridge.config.yaml"
	}
	return filepath.Join(home, ".codex-bridge", "config.yaml")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadOrInit loads path, writing Default() there first when it does not exist.
func LoadOrInit(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = Default()
	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("init default config: %w", err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
