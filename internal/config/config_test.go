package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MIRROR_STORE_DRIVER", "DATABASE_URL", "MIRROR_DATABASE_URL", "MIRROR_CACHE_DRIVER",
		"ARTIFACT_S3_ENDPOINT", "ARTIFACT_S3_REGION", "ARTIFACT_S3_ACCESS_KEY", "MINIO_ROOT_USER",
		"ARTIFACT_S3_SECRET_KEY", "MINIO_ROOT_PASSWORD", "ARTIFACT_S3_BUCKET", "ARTIFACT_S3_USE_SSL",
		"MIRROR_QUEUE_PATH", "MIRROR_LISTEN", "MIRROR_LOG_LEVEL", "MIRROR_LOG_FORMAT", "MIRROR_PAGE_SIZE",
		"GITHUB_TOKEN", "GITLAB_TOKEN", "BITBUCKET_USERNAME", "BITBUCKET_APP_PASSWORD",
	} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.Store.PageSize != 100 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Jobs.RetryIncrement != 10*time.Second || cfg.Jobs.MaxDelay != 900*time.Second {
		t.Errorf("jobs = %+v", cfg.Jobs)
	}
	if cfg.HTTP.Listen != ":8080" {
		t.Errorf("listen = %q", cfg.HTTP.Listen)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/mirror
  page_size: 50
cache:
  driver: s3
  lru_size: 10
  s3:
    endpoint: minio:9000
    bucket: packages
    use_ssl: false
jobs:
  retry_increment: 30s
  build_delay: 1m
hosts:
  domains:
    gitlab: [git.example.com]
  credentials:
    git.example.com:
      token: secret
  apis:
    git.example.com: https://git.example.com/api/v4/
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.PageSize != 50 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Cache.S3.Bucket != "packages" || cfg.Cache.S3.UseSSL || cfg.Cache.S3.Region != "us-east-1" {
		t.Errorf("s3 = %+v", cfg.Cache.S3)
	}
	if cfg.Jobs.RetryIncrement != 30*time.Second || cfg.Jobs.BuildDelay != time.Minute || cfg.Jobs.MaxDelay != 900*time.Second {
		t.Errorf("jobs = %+v", cfg.Jobs)
	}

	hosts := cfg.HostConfig()
	if cred, ok := hosts.Credential("git.example.com"); !ok || cred.Token != "secret" {
		t.Errorf("credential = %+v", cred)
	}
	if hosts.API("git.example.com") != "https://git.example.com/api/v4" {
		t.Errorf("api = %q", hosts.API("git.example.com"))
	}
	if len(hosts.Domains["gitlab"]) != 1 {
		t.Errorf("domains = %v", hosts.Domains)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://db/mirror")
	t.Setenv("MIRROR_STORE_DRIVER", "postgres")
	t.Setenv("MIRROR_PAGE_SIZE", "25")
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("BITBUCKET_USERNAME", "bot")
	t.Setenv("BITBUCKET_APP_PASSWORD", "pw")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.DatabaseURL != "postgres://db/mirror" || cfg.Store.PageSize != 25 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Hosts.Credentials["github.com"].Token != "ghp_test" {
		t.Errorf("github credential = %+v", cfg.Hosts.Credentials["github.com"])
	}
	if c := cfg.Hosts.Credentials["bitbucket.org"]; c.Username != "bot" || c.Password != "pw" {
		t.Errorf("bitbucket credential = %+v", c)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides variables that are already set.
	_ = os.Unsetenv("MIRROR_LISTEN")
	if err := os.WriteFile(".env", []byte("MIRROR_LISTEN=:9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Listen != ":9999" {
		t.Errorf("listen = %q", cfg.HTTP.Listen)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"postgres without url", func(c *Config) { c.Store.Driver = "postgres" }, "database_url"},
		{"unknown store", func(c *Config) { c.Store.Driver = "redis" }, `unknown driver "redis"`},
		{"s3 without bucket", func(c *Config) { c.Cache.Driver = "s3" }, "endpoint and bucket"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log:"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, `unknown format "xml"`},
		{"no queue", func(c *Config) { c.Queue.Path = "" }, "queue: path"},
		{"sub-second retry", func(c *Config) { c.Jobs.RetryIncrement = 500 * time.Millisecond }, "retry_increment 500ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want %q", err, tt.want)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "package", "acme/widget")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"package":"acme/widget"`) {
		t.Errorf("log output = %s", out)
	}
}
