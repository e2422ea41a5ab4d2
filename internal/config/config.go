package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the canopy process.
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway" yaml:"gateway"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Ollama   OllamaConfig   `mapstructure:"ollama" yaml:"ollama"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Cron     CronConfig     `mapstructure:"cron" yaml:"cron"`
}

// GatewayConfig controls the transport boundary: bind address and the
// bearer-token gate.
type GatewayConfig struct {
	Host       string          `mapstructure:"host" yaml:"host"`
	Port       int             `mapstructure:"port" yaml:"port"`
	RemoteMode bool            `mapstructure:"remote_mode" yaml:"remote_mode"` // when true, every connection must present AuthToken
	AuthToken  string          `mapstructure:"auth_token" yaml:"auth_token"`   // compared as-is when RemoteMode is on; an empty value is not replaced by a generated token
	RateLimit  RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig throttles inbound connection attempts.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int  `mapstructure:"burst" yaml:"burst"`
}

// ProviderConfig selects which AI provider backs new AgentSessions.
type ProviderConfig struct {
	Default string `mapstructure:"default" yaml:"default"` // "local" or "ollama"
}

// OllamaConfig configures the ollama-backed provider.
type OllamaConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Model    string `mapstructure:"model" yaml:"model"`
}

// LogConfig configures the zerolog sink.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "console" or "json"
	File   string `mapstructure:"file" yaml:"file"`
}

// StorageConfig points at the sqlite database backing ReloadCache and
// session snapshots.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SessionConfig tunes the resource limits described in the concurrency
// model: queue depths, the ring buffer capacity, and the global ephemeral
// agent limiter.
type SessionConfig struct {
	MainQueueCapacity    int `mapstructure:"main_queue_capacity" yaml:"main_queue_capacity"`
	RingBufferCapacity   int `mapstructure:"ring_buffer_capacity" yaml:"ring_buffer_capacity"`
	MaxMonitorsPerSession int `mapstructure:"max_monitors_per_session" yaml:"max_monitors_per_session"`
	EphemeralLimit       int `mapstructure:"ephemeral_limit" yaml:"ephemeral_limit"`
	TimelineCapacity     int `mapstructure:"timeline_capacity" yaml:"timeline_capacity"`
	ReloadMatchLimit     int `mapstructure:"reload_match_limit" yaml:"reload_match_limit"`
	InvalidateFailCount  int `mapstructure:"invalidate_fail_count" yaml:"invalidate_fail_count"`
}

// CronConfig controls the periodic ReloadCache sweep.
type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	ReplaySchedule string `mapstructure:"replay_schedule" yaml:"replay_schedule"` // cron expression
}

var (
	mu           sync.RWMutex
	globalConfig *Config
	configPath   string
)

// Load reads configuration from path (if non-empty) over environment
// variables (CANOPY_ prefix) over the defaults in defaults.go.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	setDefaults()

	viper.SetEnvPrefix("CANOPY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expanded

		viper.SetConfigFile(expanded)
		if err := viper.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigParseError); ok {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last config loaded via Load, or an empty (zero
// value) Config if Load was never called.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if globalConfig == nil {
		return &Config{}
	}
	return globalConfig
}

// Save writes the currently loaded config back to ConfigPath as YAML,
// creating its parent directory if necessary. It errors if Load was never
// called with a config path.
func Save() error {
	mu.RLock()
	path := configPath
	cfg := globalConfig
	mu.RUnlock()

	if path == "" {
		return errors.New("config: no config path loaded, nothing to save")
	}
	if cfg == nil {
		cfg = &Config{}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ConfigPath returns the path Load read from, empty if none.
func ConfigPath() string {
	mu.RLock()
	defer mu.RUnlock()
	return configPath
}

// Reset clears the global config; used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}

// SetTestConfig installs cfg directly, bypassing Load; used by tests.
func SetTestConfig(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = cfg
}

// Watch re-reads the config file on every write and calls onChange with the
// freshly unmarshaled result; it is a no-op if Load was never called with a
// config path. Intended for a long-running gateway process that wants to
// pick up config edits (e.g. a new default model or rate limit) without a
// restart.
func Watch(onChange func(*Config)) {
	mu.RLock()
	hasPath := configPath != ""
	mu.RUnlock()
	if !hasPath {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return
		}
		mu.Lock()
		globalConfig = &cfg
		mu.Unlock()
		onChange(&cfg)
	})
	viper.WatchConfig()
}
