// Package config loads mirror settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/git-pkgs/mirror/internal/core"
)

type Config struct {
	Store StoreConfig `yaml:"store"`
	Cache CacheConfig `yaml:"cache"`
	Queue QueueConfig `yaml:"queue"`
	Jobs  JobsConfig  `yaml:"jobs"`
	HTTP  HTTPConfig  `yaml:"http"`
	Hosts HostsConfig `yaml:"hosts"`
	Log   LogConfig   `yaml:"log"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"` // memory or postgres
	DatabaseURL string `yaml:"database_url"`
	Table       string `yaml:"table"`
	PageSize    int    `yaml:"page_size"`
}

type CacheConfig struct {
	Driver  string   `yaml:"driver"` // memory or s3
	S3      S3Config `yaml:"s3"`
	LRUSize int      `yaml:"lru_size"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type QueueConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Lease        time.Duration `yaml:"lease"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type JobsConfig struct {
	RetryIncrement time.Duration `yaml:"retry_increment"`
	BuildDelay     time.Duration `yaml:"build_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
}

type HTTPConfig struct {
	Listen           string        `yaml:"listen"`
	UserAgent        string        `yaml:"user_agent"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
}

type HostsConfig struct {
	// Domains lists extra hostnames per host type.
	Domains     map[string][]string        `yaml:"domains"`
	Credentials map[string]core.Credential `yaml:"credentials"`
	APIs        map[string]string          `yaml:"apis"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Driver: "memory", PageSize: 100},
		Cache: CacheConfig{Driver: "memory", LRUSize: 1024, S3: S3Config{Region: "us-east-1", UseSSL: true}},
		Queue: QueueConfig{Path: "mirror-queue.db", PollInterval: time.Second, BatchSize: 10, Lease: 5 * time.Minute, MaxAttempts: 5},
		Jobs:  JobsConfig{RetryIncrement: 10 * time.Second, BuildDelay: 5 * time.Second, MaxDelay: 900 * time.Second},
		HTTP:  HTTPConfig{Listen: ":8080", UserAgent: "mirror", Timeout: 30 * time.Second, MaxRetries: 3, BreakerThreshold: 5},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads .env if present, then the YAML file at path (skipped when
// path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Store.Driver, "MIRROR_STORE_DRIVER")
	setString(&c.Store.DatabaseURL, "DATABASE_URL", "MIRROR_DATABASE_URL")
	setString(&c.Cache.Driver, "MIRROR_CACHE_DRIVER")
	setString(&c.Cache.S3.Endpoint, "ARTIFACT_S3_ENDPOINT")
	setString(&c.Cache.S3.Region, "ARTIFACT_S3_REGION")
	setString(&c.Cache.S3.AccessKey, "ARTIFACT_S3_ACCESS_KEY", "MINIO_ROOT_USER")
	setString(&c.Cache.S3.SecretKey, "ARTIFACT_S3_SECRET_KEY", "MINIO_ROOT_PASSWORD")
	setString(&c.Cache.S3.Bucket, "ARTIFACT_S3_BUCKET")
	setString(&c.Queue.Path, "MIRROR_QUEUE_PATH")
	setString(&c.HTTP.Listen, "MIRROR_LISTEN")
	setString(&c.Log.Level, "MIRROR_LOG_LEVEL")
	setString(&c.Log.Format, "MIRROR_LOG_FORMAT")

	if raw := strings.TrimSpace(os.Getenv("ARTIFACT_S3_USE_SSL")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("ARTIFACT_S3_USE_SSL: %w", err)
		}
		c.Cache.S3.UseSSL = v
	}
	if raw := strings.TrimSpace(os.Getenv("MIRROR_PAGE_SIZE")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("MIRROR_PAGE_SIZE: %w", err)
		}
		c.Store.PageSize = v
	}

	if token := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); token != "" {
		c.setCredential("github.com", core.Credential{Token: token})
	}
	if token := strings.TrimSpace(os.Getenv("GITLAB_TOKEN")); token != "" {
		c.setCredential("gitlab.com", core.Credential{Token: token})
	}
	if user := strings.TrimSpace(os.Getenv("BITBUCKET_USERNAME")); user != "" {
		c.setCredential("bitbucket.org", core.Credential{
			Username: user,
			Password: strings.TrimSpace(os.Getenv("BITBUCKET_APP_PASSWORD")),
		})
	}
	return nil
}

func (c *Config) setCredential(host string, cred core.Credential) {
	if c.Hosts.Credentials == nil {
		c.Hosts.Credentials = make(map[string]core.Credential)
	}
	c.Hosts.Credentials[host] = cred
}

// setString assigns the first non-empty variable among keys.
func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
			return
		}
	}
}

// Validate checks that the selected backends are fully configured.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store: postgres needs database_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}
	switch c.Cache.Driver {
	case "memory":
	case "s3":
		if c.Cache.S3.Endpoint == "" || c.Cache.S3.Bucket == "" {
			errs = append(errs, errors.New("cache: s3 needs endpoint and bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache: unknown driver %q", c.Cache.Driver))
	}
	if c.Queue.Path == "" {
		errs = append(errs, errors.New("queue: path is required"))
	}
	if c.Jobs.RetryIncrement < time.Second {
		errs = append(errs, fmt.Errorf("jobs: retry_increment %v is below 1s", c.Jobs.RetryIncrement))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	return errors.Join(errs...)
}

// HostConfig returns the driver host settings.
func (c *Config) HostConfig() *core.HostConfig {
	return &core.HostConfig{
		Domains:     c.Hosts.Domains,
		Credentials: c.Hosts.Credentials,
		APIs:        c.Hosts.APIs,
	}
}

// Logger builds the configured logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Log.Level))
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
