// Package config loads gateway configuration from the environment and an
// optional YAML file. Environment variables always win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ImageStoreMode selects the backend used to persist generated images.
type ImageStoreMode string

const (
	ImageStoreLocal  ImageStoreMode = "local"
	ImageStoreBase64 ImageStoreMode = "base64"
	ImageStoreS3     ImageStoreMode = "s3"
)

// Config holds the full runtime configuration of the gateway.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// APIKey gates every /v1 route. Required.
	APIKey string `yaml:"api-key"`

	// PanelUser and PanelPassword gate the management panel. Required.
	PanelUser     string `yaml:"panel-user"`
	PanelPassword string `yaml:"panel-password"`

	// CredsFile is the JSON credential list, LogFile the usage log document.
	CredsFile string `yaml:"creds-file"`
	LogFile   string `yaml:"log-file"`
	LogDir    string `yaml:"log-dir"`

	Debug bool `yaml:"debug"`

	// HourlyLimit caps requests per credential over the trailing 60 minutes.
	// Zero means unlimited.
	HourlyLimit int `yaml:"hourly-limit"`

	// UpstreamTimeout bounds every upstream call. File config supplies it
	// as UpstreamTimeoutSeconds; the env override is UPSTREAM_TIMEOUT.
	UpstreamTimeout        time.Duration `yaml:"-"`
	UpstreamTimeoutSeconds int           `yaml:"upstream-timeout-seconds"`

	// RetryMaxAttempts and RetryStatusCodes drive the orchestrator's
	// acquire-translate-execute retry loop.
	RetryMaxAttempts int   `yaml:"retry-max-attempts"`
	RetryStatusCodes []int `yaml:"retry-status-codes"`

	// Log store bounds.
	LogMaxItems      int `yaml:"log-max-items"`
	LogRetentionDays int `yaml:"log-retention-days"`

	// Defaults applied when the client omits generation parameters.
	DefaultTemperature     float64 `yaml:"default-temperature"`
	DefaultTopP            float64 `yaml:"default-top-p"`
	DefaultTopK            int     `yaml:"default-top-k"`
	DefaultMaxOutputTokens int     `yaml:"default-max-output-tokens"`

	ImageStore   ImageStoreMode `yaml:"image-store"`
	ImageDir     string         `yaml:"image-dir"`
	S3Endpoint   string         `yaml:"s3-endpoint"`
	S3AccessKey  string         `yaml:"s3-access-key"`
	S3SecretKey  string         `yaml:"s3-secret-key"`
	S3Bucket     string         `yaml:"s3-bucket"`
	S3PublicBase string         `yaml:"s3-public-base"`
	S3UseSSL     bool           `yaml:"s3-use-ssl"`
}

// Load builds the configuration. A `.env` file is honored when present, then
// the optional YAML file at path (empty path skips it), then environment
// variables override everything.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if cfg.UpstreamTimeoutSeconds > 0 {
		cfg.UpstreamTimeout = time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second
	}
	applyEnv(cfg)
	return cfg, nil
}

// Validate reports the fatal start-up omissions.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.PanelUser) == "" {
		missing = append(missing, "PANEL_USER")
	}
	if strings.TrimSpace(c.PanelPassword) == "" {
		missing = append(missing, "PANEL_PASSWORD")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func defaults() *Config {
	return &Config{
		Host:                   "0.0.0.0",
		Port:                   8889,
		CredsFile:              "data/creds.json",
		LogFile:                "data/logs.json",
		HourlyLimit:            0,
		UpstreamTimeout:        180 * time.Second,
		RetryMaxAttempts:       3,
		RetryStatusCodes:       []int{429, 500},
		LogMaxItems:            500,
		LogRetentionDays:       7,
		DefaultTemperature:     1.0,
		DefaultTopP:            0.95,
		DefaultTopK:            64,
		DefaultMaxOutputTokens: 65535,
		ImageStore:             ImageStoreBase64,
		ImageDir:               "data/images",
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Host, "HOST")
	setInt(&cfg.Port, "PORT")
	setString(&cfg.APIKey, "API_KEY")
	setString(&cfg.PanelUser, "PANEL_USER")
	setString(&cfg.PanelPassword, "PANEL_PASSWORD")
	setString(&cfg.CredsFile, "CREDS_FILE")
	setString(&cfg.LogFile, "LOG_FILE")
	setString(&cfg.LogDir, "LOG_DIR")
	setBool(&cfg.Debug, "DEBUG")
	setInt(&cfg.HourlyLimit, "HOURLY_LIMIT")
	setInt(&cfg.RetryMaxAttempts, "RETRY_MAX_ATTEMPTS")
	setInt(&cfg.LogMaxItems, "LOG_MAX_ITEMS")
	setInt(&cfg.LogRetentionDays, "LOG_RETENTION_DAYS")
	setString(&cfg.ImageDir, "IMAGE_DIR")
	setString(&cfg.S3Endpoint, "S3_ENDPOINT")
	setString(&cfg.S3AccessKey, "S3_ACCESS_KEY")
	setString(&cfg.S3SecretKey, "S3_SECRET_KEY")
	setString(&cfg.S3Bucket, "S3_BUCKET")
	setString(&cfg.S3PublicBase, "S3_PUBLIC_BASE")
	setBool(&cfg.S3UseSSL, "S3_USE_SSL")

	if v := strings.TrimSpace(os.Getenv("IMAGE_STORE")); v != "" {
		cfg.ImageStore = ImageStoreMode(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("UPSTREAM_TIMEOUT")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.UpstreamTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("RETRY_STATUS_CODES")); v != "" {
		var codes []int
		for _, part := range strings.Split(v, ",") {
			if code, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				codes = append(codes, code)
			}
		}
		if len(codes) > 0 {
			cfg.RetryStatusCodes = codes
		}
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
