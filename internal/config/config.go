package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Engine     EngineConfig     `yaml:"engine"`
	Cache      CacheConfig      `yaml:"cache"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Translator TranslatorConfig `yaml:"translator"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// EngineConfig controls the prediction loop.
type EngineConfig struct {
	UpdateInterval  time.Duration `yaml:"update_interval"`
	DeviceInterval  time.Duration `yaml:"device_interval"`
	MaxEvents       int           `yaml:"max_events"`
	MaxSamples      int           `yaml:"max_samples"`
	PredictionLimit int           `yaml:"prediction_limit"`
	RiskThreshold   float64       `yaml:"risk_threshold"`
	HorizonHours    int           `yaml:"horizon_hours"`
	TuneInterval    int           `yaml:"tune_interval"`
}

// CacheConfig controls the built-in reference cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// SnapshotConfig controls state persistence.
type SnapshotConfig struct {
	Path         string        `yaml:"path"`
	Compress     bool          `yaml:"compress"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

// TranslatorConfig points at the external translation service.
type TranslatorConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Engine: EngineConfig{
			UpdateInterval:  5 * time.Minute,
			DeviceInterval:  30 * time.Second,
			MaxEvents:       1000,
			MaxSamples:      1000,
			PredictionLimit: 20,
			RiskThreshold:   0.4,
			HorizonHours:    2,
			TuneInterval:    50,
		},
		Cache: CacheConfig{
			Capacity: 1024,
		},
		Snapshot: SnapshotConfig{
			Path:         "edgecache-state.json",
			SaveInterval: 5 * time.Minute,
		},
		Translator: TranslatorConfig{
			Endpoint: "http://localhost:9090/translate",
			Timeout:  10 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("EDGECACHE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("EDGECACHE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("EDGECACHE_SNAPSHOT_PATH"); v != "" {
		c.Snapshot.Path = v
	}
	if v := os.Getenv("EDGECACHE_TRANSLATOR_ENDPOINT"); v != "" {
		c.Translator.Endpoint = v
	}
	if v := os.Getenv("EDGECACHE_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.Capacity = n
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must not be empty")
	}
	if c.Engine.UpdateInterval <= 0 {
		return fmt.Errorf("config: engine.update_interval must be positive")
	}
	if c.Engine.DeviceInterval <= 0 {
		return fmt.Errorf("config: engine.device_interval must be positive")
	}
	if c.Engine.MaxEvents <= 0 || c.Engine.MaxSamples <= 0 {
		return fmt.Errorf("config: engine history capacities must be positive")
	}
	if c.Engine.RiskThreshold < 0 || c.Engine.RiskThreshold > 1 {
		return fmt.Errorf("config: engine.risk_threshold must be in [0,1]")
	}
	if c.Engine.HorizonHours <= 0 {
		return fmt.Errorf("config: engine.horizon_hours must be positive")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("config: cache.capacity must be positive")
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("config: snapshot.path must not be empty")
	}
	return nil
}
