package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Network  NetworkConfig  `yaml:"network"`
	Queue    QueueConfig    `yaml:"queue"`
	Cache    CacheConfig    `yaml:"cache"`
	Photo    PhotoConfig    `yaml:"photo"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains settings for the local diagnostics HTTP server.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains local database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// NetworkConfig contains connectivity monitoring settings.
type NetworkConfig struct {
	HealthEndpoint string   `yaml:"health_endpoint"`
	CheckInterval  Duration `yaml:"check_interval"`
	CheckTimeout   Duration `yaml:"check_timeout"`
	GoodLatency    Duration `yaml:"good_latency"`
	SlowLatency    Duration `yaml:"slow_latency"`
}

// QueueConfig contains sync queue replay settings.
type QueueConfig struct {
	MaxRetries      int      `yaml:"max_retries"`
	ProcessInterval Duration `yaml:"process_interval"`
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	Dir             string   `yaml:"dir"`
	Version         string   `yaml:"version"`
	OfflineFallback string   `yaml:"offline_fallback"`
	NetworkTimeout  Duration `yaml:"network_timeout"`
	Precache        []string `yaml:"precache"`
}

// PhotoConfig contains capture pipeline settings.
type PhotoConfig struct {
	MaxDimension int      `yaml:"max_dimension"`
	Quality      int      `yaml:"quality"`
	GPSTimeout   Duration `yaml:"gps_timeout"`
	UploadURL    string   `yaml:"upload_url"`
}

// ArchiveConfig contains optional S3-compatible evidence archive settings.
// Credentials are env-only and never read from YAML.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
	Region    string `yaml:"region"`
	UseSSL    *bool  `yaml:"use_ssl"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("FIELDSYNC_CONFIG_PATH", "config/fieldsync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8091,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/fieldsync.db",
		},
		Network: NetworkConfig{
			HealthEndpoint: "https://portal.example.com/api/health",
			CheckInterval:  Duration(30 * time.Second),
			CheckTimeout:   Duration(5 * time.Second),
			GoodLatency:    Duration(1 * time.Second),
			SlowLatency:    Duration(5 * time.Second),
		},
		Queue: QueueConfig{
			MaxRetries:      3,
			ProcessInterval: Duration(5 * time.Minute),
		},
		Cache: CacheConfig{
			Dir:             "data/cache",
			Version:         "v1",
			OfflineFallback: "/offline.html",
			NetworkTimeout:  Duration(5 * time.Second),
		},
		Photo: PhotoConfig{
			MaxDimension: 2048,
			Quality:      85,
			GPSTimeout:   Duration(30 * time.Second),
			UploadURL:    "https://portal.example.com/api/documents/upload",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("FIELDSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FIELDSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("FIELDSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Network
	if v := os.Getenv("FIELDSYNC_HEALTH_ENDPOINT"); v != "" {
		cfg.Network.HealthEndpoint = v
	}
	if v := os.Getenv("FIELDSYNC_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Network.CheckInterval = Duration(d)
		}
	}
	if v := os.Getenv("FIELDSYNC_CHECK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Network.CheckTimeout = Duration(d)
		}
	}

	// Queue
	if v := os.Getenv("FIELDSYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxRetries = n
		}
	}
	if v := os.Getenv("FIELDSYNC_PROCESS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.ProcessInterval = Duration(d)
		}
	}

	// Cache
	if v := os.Getenv("FIELDSYNC_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("FIELDSYNC_CACHE_VERSION"); v != "" {
		cfg.Cache.Version = v
	}

	// Photo
	if v := os.Getenv("FIELDSYNC_PHOTO_UPLOAD_URL"); v != "" {
		cfg.Photo.UploadURL = v
	}

	// Archive (credentials are env-only)
	if v := os.Getenv("FIELDSYNC_ARCHIVE_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("FIELDSYNC_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("FIELDSYNC_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("FIELDSYNC_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}

	// Log
	if v := os.Getenv("FIELDSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FIELDSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that configuration values are internally consistent.
func (c *Config) validate() error {
	if c.Network.HealthEndpoint == "" {
		return fmt.Errorf("network.health_endpoint is required")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must be >= 0")
	}
	if c.Photo.MaxDimension <= 0 {
		return fmt.Errorf("photo.max_dimension must be > 0")
	}
	if c.Photo.Quality < 1 || c.Photo.Quality > 100 {
		return fmt.Errorf("photo.quality must be in [1,100]")
	}
	if c.Archive.Bucket != "" && c.Archive.Endpoint == "" {
		return fmt.Errorf("archive.endpoint is required when archive.bucket is set")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
