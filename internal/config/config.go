package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"nestsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Backend      BackendConfig      `yaml:"backend"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Queue        QueueConfig        `yaml:"queue"`
	Listener     ListenerConfig     `yaml:"listener"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Backup       BackupConfig       `yaml:"backup"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	DeviceID    string `yaml:"device_id"`
}

type BackendConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	TimeoutSec     int     `yaml:"timeout_sec"`
	PollIntervalMs int     `yaml:"poll_interval_ms"`
	WriteRPS       float64 `yaml:"write_rps"`
	WriteBurst     int     `yaml:"write_burst"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type QueueConfig struct {
	MaxRetries       int `yaml:"max_retries"`
	DrainIntervalSec int `yaml:"drain_interval_sec"`
	InitialDelaySec  int `yaml:"initial_delay_sec"`
	MaxDelaySec      int `yaml:"max_delay_sec"`
	JitterMinMs      int `yaml:"jitter_min_ms"`
	JitterMaxMs      int `yaml:"jitter_max_ms"`
}

type ListenerConfig struct {
	MaxRetries      int      `yaml:"max_retries"`
	InitialDelaySec int      `yaml:"initial_delay_sec"`
	MaxDelaySec     int      `yaml:"max_delay_sec"`
	JitterFraction  float64  `yaml:"jitter_fraction"`
	Owners          []string `yaml:"owners"`
}

type ConnectivityConfig struct {
	ProbeIntervalSec int `yaml:"probe_interval_sec"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Port             int           `yaml:"port"`
	Auth             APIAuthConfig `yaml:"auth"`
	RetryLimitPerMin int           `yaml:"retry_limit_per_min"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment values referenced from the YAML may come
	// from the real environment instead.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend base_url is required")
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Queue.JitterMinMs > c.Queue.JitterMaxMs {
		return fmt.Errorf("queue jitter_min_ms %d exceeds jitter_max_ms %d", c.Queue.JitterMinMs, c.Queue.JitterMaxMs)
	}

	if c.API.Enabled && c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth is enabled but no api_keys are configured")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "nestsync"
	}
	if c.App.DeviceID == "" {
		host, err := os.Hostname()
		if err == nil {
			c.App.DeviceID = host
		} else {
			c.App.DeviceID = "local"
		}
	}

	if c.Backend.TimeoutSec == 0 {
		c.Backend.TimeoutSec = 15
	}
	if c.Backend.PollIntervalMs == 0 {
		c.Backend.PollIntervalMs = int(models.DefaultPollIntervalSec * 1000)
	}
	if c.Backend.WriteRPS == 0 {
		c.Backend.WriteRPS = 10
	}
	if c.Backend.WriteBurst == 0 {
		c.Backend.WriteBurst = 5
	}

	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = models.DefaultMaxRetries
	}
	if c.Queue.DrainIntervalSec == 0 {
		c.Queue.DrainIntervalSec = models.DefaultDrainIntervalSec
	}
	if c.Queue.InitialDelaySec == 0 {
		c.Queue.InitialDelaySec = 2
	}
	if c.Queue.MaxDelaySec == 0 {
		c.Queue.MaxDelaySec = 60
	}
	if c.Queue.JitterMinMs == 0 {
		c.Queue.JitterMinMs = 500
	}
	if c.Queue.JitterMaxMs == 0 {
		c.Queue.JitterMaxMs = 800
	}

	if c.Listener.MaxRetries == 0 {
		c.Listener.MaxRetries = models.DefaultMaxListenerRetries
	}
	if c.Listener.InitialDelaySec == 0 {
		c.Listener.InitialDelaySec = 2
	}
	if c.Listener.MaxDelaySec == 0 {
		c.Listener.MaxDelaySec = 120
	}
	if c.Listener.JitterFraction == 0 {
		c.Listener.JitterFraction = 0.3
	}

	if c.Connectivity.ProbeIntervalSec == 0 {
		c.Connectivity.ProbeIntervalSec = models.DefaultProbeIntervalSec
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.RetryLimitPerMin == 0 {
		c.API.RetryLimitPerMin = models.DefaultRetryLimitPerMin
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
}

// DrainInterval returns the periodic drain trigger interval.
func (c QueueConfig) DrainInterval() time.Duration {
	return time.Duration(c.DrainIntervalSec) * time.Second
}
