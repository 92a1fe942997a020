package pagepress

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eringen/pagepress/retry"
)

// Config holds all configuration for a pagepress instance.
type Config struct {
	Site    SiteConfig    `yaml:"site"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Admin   AdminConfig   `yaml:"admin"`
	Cache   CacheConfig   `yaml:"cache"`
	CDN     CDNConfig     `yaml:"cdn"`
	Publish PublishConfig `yaml:"publish"`
	Retry   RetryConfig   `yaml:"retry"`
}

type SiteConfig struct {
	Name    string `yaml:"name"`     // default "Pagepress"
	Domain  string `yaml:"domain"`   // published domain, e.g. "example.com"
	BaseURL string `yaml:"base_url"` // where this server is reachable (default "http://localhost:3000")
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // default ":3000"
}

type StorageConfig struct {
	DatabasePath string        `yaml:"database_path"` // default "data/pagepress.db"
	OutputDir    string        `yaml:"output_dir"`    // published site (default "data/site")
	SourceDir    string        `yaml:"source_dir"`    // template and site sources (default "data/source")
	UploadSecret string        `yaml:"upload_secret"` // signs direct upload URLs; uploads are disabled when empty
	UploadTTL    time.Duration `yaml:"upload_ttl"`    // default 15m
}

type AdminConfig struct {
	Password      string `yaml:"password"`
	SessionSecret string `yaml:"session_secret"`
	CookieSecure  bool   `yaml:"cookie_secure"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"` // default 5m
}

type CDNConfig struct {
	DistributionID string `yaml:"distribution_id"`
	NATSURL        string `yaml:"nats_url"` // empty logs invalidations instead of publishing them
	Subject        string `yaml:"subject"`
	Stream         string `yaml:"stream"`
}

type PublishConfig struct {
	MaxPages     int           `yaml:"max_pages"`     // default 250
	AutoInterval time.Duration `yaml:"auto_interval"` // 0 disables auto-publish
}

type RetryConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	MaxRetries int           `yaml:"max_retries"`
}

// Policy returns the store retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.NewPolicy(retry.BackoffExponential, r.Initial, r.Max, r.MaxRetries)
}

// LoadConfig reads path (optional) then applies PAGEPRESS_* environment
// overrides and defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(dst *string, key string) { *dst = EnvOr(key, *dst) }
	dur := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str(&c.Site.Name, "PAGEPRESS_SITE_NAME")
	str(&c.Site.Domain, "PAGEPRESS_SITE_DOMAIN")
	str(&c.Site.BaseURL, "PAGEPRESS_BASE_URL")
	str(&c.Server.Addr, "PAGEPRESS_ADDR")
	str(&c.Storage.DatabasePath, "PAGEPRESS_DATABASE_PATH")
	str(&c.Storage.OutputDir, "PAGEPRESS_OUTPUT_DIR")
	str(&c.Storage.SourceDir, "PAGEPRESS_SOURCE_DIR")
	str(&c.Storage.UploadSecret, "PAGEPRESS_UPLOAD_SECRET")
	dur(&c.Storage.UploadTTL, "PAGEPRESS_UPLOAD_TTL")
	str(&c.Admin.Password, "PAGEPRESS_ADMIN_PASSWORD")
	str(&c.Admin.SessionSecret, "PAGEPRESS_SESSION_SECRET")
	flag(&c.Admin.CookieSecure, "PAGEPRESS_COOKIE_SECURE")
	dur(&c.Cache.TTL, "PAGEPRESS_CACHE_TTL")
	str(&c.CDN.DistributionID, "PAGEPRESS_CDN_DISTRIBUTION_ID")
	str(&c.CDN.NATSURL, "PAGEPRESS_NATS_URL")
	str(&c.CDN.Subject, "PAGEPRESS_CDN_SUBJECT")
	str(&c.CDN.Stream, "PAGEPRESS_CDN_STREAM")
	num(&c.Publish.MaxPages, "PAGEPRESS_MAX_PAGES")
	dur(&c.Publish.AutoInterval, "PAGEPRESS_AUTO_PUBLISH_INTERVAL")
	dur(&c.Retry.Initial, "PAGEPRESS_RETRY_INITIAL")
	dur(&c.Retry.Max, "PAGEPRESS_RETRY_MAX")
	num(&c.Retry.MaxRetries, "PAGEPRESS_RETRY_MAX_RETRIES")
	return errors.Join(errs...)
}

func (c *Config) setDefaults() {
	if c.Site.Name == "" {
		c.Site.Name = "Pagepress"
	}
	if c.Site.BaseURL == "" {
		c.Site.BaseURL = "http://localhost:3000"
	}
	c.Site.BaseURL = strings.TrimSuffix(c.Site.BaseURL, "/")
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "data/pagepress.db"
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "data/site"
	}
	if c.Storage.SourceDir == "" {
		c.Storage.SourceDir = "data/source"
	}
	if c.Storage.UploadTTL == 0 {
		c.Storage.UploadTTL = 15 * time.Minute
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Publish.MaxPages == 0 {
		c.Publish.MaxPages = 250
	}
}

// validateServe checks the settings the HTTP server cannot run without.
func (c Config) validateServe() error {
	if c.Admin.Password == "" {
		return errors.New("pagepress: admin password is required")
	}
	if c.Admin.SessionSecret == "" {
		return errors.New("pagepress: session secret is required")
	}
	return nil
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
