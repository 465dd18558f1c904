// Package config provides configuration management for devicesim.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	Log      LogConfig      `mapstructure:"log" json:"log"`
	API      APIConfig      `mapstructure:"api" json:"api"`
	UDP      UDPConfig      `mapstructure:"udp" json:"udp"`
	Tray     TrayConfig     `mapstructure:"tray" json:"tray"`
	Firewall FirewallConfig `mapstructure:"firewall" json:"firewall"`
	DryRun   DryRunConfig   `mapstructure:"dry_run" json:"dry_run"`
}

// LogConfig controls the global logger
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level" json:"level"`

	// Format is "console" or "json"
	Format string `mapstructure:"format" json:"format"`
}

// APIConfig controls the HTTP/WebSocket remote-control server
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Listen  string `mapstructure:"listen" json:"listen"`
	Port    int    `mapstructure:"port" json:"port"`

	// Token is an optional bearer token required on every request but /health
	Token string `mapstructure:"token" json:"token,omitempty"`

	// RateLimit is the sustained number of intents per second (0 = unlimited)
	RateLimit float64 `mapstructure:"rate_limit" json:"rate_limit"`

	// Burst is the token-bucket size used with RateLimit
	Burst int `mapstructure:"burst" json:"burst"`
}

// UDPConfig controls the low-latency binary intent listener. It binds
// api.listen and requires api.token when one is set.
type UDPConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	Port    int  `mapstructure:"port" json:"port"`
}

// TrayConfig controls the system tray icon shown by serve
type TrayConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// FirewallConfig controls automatic firewall rule management on Windows
type FirewallConfig struct {
	Manage bool `mapstructure:"manage" json:"manage"`
}

// DryRunConfig replaces the host injector with one that only logs
type DryRunConfig struct {
	Enabled bool  `mapstructure:"enabled" json:"enabled"`
	Width   int32 `mapstructure:"width" json:"width"`
	Height  int32 `mapstructure:"height" json:"height"`
}

// Default returns a new Config with sensible defaults
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		API: APIConfig{
			Enabled:   true,
			Listen:    "127.0.0.1",
			Port:      18090,
			RateLimit: 50,
			Burst:     20,
		},
		UDP: UDPConfig{
			Enabled: false,
			Port:    18091,
		},
		Tray: TrayConfig{
			Enabled: runtime.GOOS == "windows",
		},
		DryRun: DryRunConfig{
			Width:  1920,
			Height: 1080,
		},
	}
}

// envPrefix is prepended to upper-cased keys, e.g. DEVICESIM_API_PORT
const envPrefix = "DEVICESIM"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

// setDefaults registers every key so env overrides are seen by Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	for key, value := range flatten(cfg) {
		v.SetDefault(key, value)
	}
}

func flatten(cfg *Config) map[string]any {
	return map[string]any{
		"log.level":       cfg.Log.Level,
		"log.format":      cfg.Log.Format,
		"api.enabled":     cfg.API.Enabled,
		"api.listen":      cfg.API.Listen,
		"api.port":        cfg.API.Port,
		"api.token":       cfg.API.Token,
		"api.rate_limit":  cfg.API.RateLimit,
		"api.burst":       cfg.API.Burst,
		"udp.enabled":     cfg.UDP.Enabled,
		"udp.port":        cfg.UDP.Port,
		"tray.enabled":    cfg.Tray.Enabled,
		"firewall.manage": cfg.Firewall.Manage,
		"dry_run.enabled": cfg.DryRun.Enabled,
		"dry_run.width":   cfg.DryRun.Width,
		"dry_run.height":  cfg.DryRun.Height,
	}
}

// Load reads cfgFile (or devicesim.yaml in the default locations) layered
// over defaults and DEVICESIM_* environment variables. A missing file is not
// an error.
func Load(cfgFile string) (*Config, error) {
	v := newViper()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("devicesim")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(cfgFile != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, err
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTo writes cfg as YAML to cfgFile, or to the default path when empty
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range flatten(cfg) {
		v.Set(key, value)
	}

	cfgPath := cfgFile
	if cfgPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		cfgPath = p
	}
	if dir := filepath.Dir(cfgPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Restrict config file to owner-only access (may contain the API token)
	return os.Chmod(cfgPath, 0600)
}

// DefaultPath returns the path of devicesim.yaml in the per-user config dir
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "devicesim.yaml"), nil
}

// configDir returns the per-user configuration directory
func configDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "devicesim"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "devicesim"), nil
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "devicesim"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "devicesim"), nil
	}
}

// Manager guards the live configuration shared by the server components
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	onChanged  func()
	log        *zap.Logger
}

// NewManager creates a new configuration manager for configPath
// (empty = default path)
func NewManager(configPath string, logger *zap.Logger) (*Manager, error) {
	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		configPath: configPath,
		config:     Default(),
		log:        logger,
	}, nil
}

// Path returns the file the manager reads and writes
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the configuration from disk
func (m *Manager) Load() error {
	cfg, err := Load(m.configPath)
	if err != nil {
		return err
	}
	for _, verr := range cfg.Validate() {
		m.log.Warn("config value adjusted", zap.Error(verr))
	}

	m.mu.Lock()
	m.config = cfg
	cb := m.onChanged
	m.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	cfg := *m.config
	m.mu.Unlock()

	m.log.Info("saving configuration", zap.String("path", m.configPath))
	return SaveTo(&cfg, m.configPath)
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.config
}

// Set validates and replaces the configuration
func (m *Manager) Set(cfg Config) []error {
	errs := cfg.Validate()

	m.mu.Lock()
	m.config = &cfg
	cb := m.onChanged
	m.mu.Unlock()

	if cb != nil {
		cb()
	}
	return errs
}

// RegisterChangeCallback registers a function to be called when config changes
func (m *Manager) RegisterChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = fn
}
