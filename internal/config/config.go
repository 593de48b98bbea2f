// Package config provides configuration loading for the retention service.
// Supports YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"kadro.org/internal/blob"
)

// Config holds all configuration for the retention service.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Blob      BlobConfig      `yaml:"blob"`
	Auth      AuthConfig      `yaml:"auth"`
	Retention RetentionConfig `yaml:"retention"`
}

type HTTPConfig struct {
	ListenAddr      string `yaml:"listenAddr"`
	MaxBodyBytes    int64  `yaml:"maxBodyBytes"`
	RateLimitPerSec int    `yaml:"rateLimitPerSec"`
	RateLimitBurst  int    `yaml:"rateLimitBurst"`
}

type PostgresConfig struct {
	// DSN empty means in-memory stores (development mode).
	DSN string `yaml:"dsn"`
}

type BlobConfig struct {
	// Driver is "s3" or "memory".
	Driver string        `yaml:"driver"`
	S3     blob.S3Config `yaml:"s3"`
}

type AuthConfig struct {
	// Secret signs admin-API bearer tokens. Empty disables authentication
	// (development mode only).
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type RetentionConfig struct {
	ApplySchedule    string  `yaml:"applySchedule"`
	ExecuteSchedule  string  `yaml:"executeSchedule"`
	Workers          int     `yaml:"workers"`
	ProgressEvery    int     `yaml:"progressEvery"`
	DeleteTimeoutSec int     `yaml:"deleteTimeoutSec"`
	DeletesPerSecond float64 `yaml:"deletesPerSecond"`
	ExecBatchLimit   int     `yaml:"execBatchLimit"`
}

// DeleteTimeout converts the configured seconds to a duration.
func (r RetentionConfig) DeleteTimeout() time.Duration {
	return time.Duration(r.DeleteTimeoutSec) * time.Second
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			ListenAddr:      ":8080",
			MaxBodyBytes:    1 << 20, // 1MB
			RateLimitPerSec: 20,
			RateLimitBurst:  40,
		},
		Blob: BlobConfig{
			Driver: "memory",
			S3: blob.S3Config{
				Region: "us-east-1",
			},
		},
		Auth: AuthConfig{
			Issuer: "kadro-retention",
		},
		Retention: RetentionConfig{
			ApplySchedule:    "0 2 * * *",
			ExecuteSchedule:  "30 3 * * *",
			Workers:          4,
			ProgressEvery:    25,
			DeleteTimeoutSec: 30,
			DeletesPerSecond: 10,
		},
	}
}

// Load reads the YAML file at path (optional) and applies KADRO_* env
// overrides on top of the defaults.
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
	setString(&c.HTTP.ListenAddr, "KADRO_LISTEN_ADDR")
	setString(&c.Postgres.DSN, "KADRO_PG_DSN")
	setString(&c.Blob.Driver, "KADRO_BLOB_DRIVER")
	setString(&c.Blob.S3.Bucket, "KADRO_S3_BUCKET")
	setString(&c.Blob.S3.Region, "KADRO_S3_REGION")
	setString(&c.Blob.S3.Endpoint, "KADRO_S3_ENDPOINT")
	setString(&c.Blob.S3.AccessKeyID, "KADRO_S3_ACCESS_KEY")
	setString(&c.Blob.S3.SecretAccessKey, "KADRO_S3_SECRET_KEY")
	setString(&c.Auth.Secret, "KADRO_AUTH_SECRET")
	setString(&c.Auth.Issuer, "KADRO_AUTH_ISSUER")
	setString(&c.Retention.ApplySchedule, "KADRO_APPLY_SCHEDULE")
	setString(&c.Retention.ExecuteSchedule, "KADRO_EXECUTE_SCHEDULE")
	setInt(&c.Retention.Workers, "KADRO_RETENTION_WORKERS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Blob.Driver {
	case "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("config: blob driver s3 requires a bucket")
		}
	default:
		return fmt.Errorf("config: unknown blob driver %q", c.Blob.Driver)
	}
	if c.Retention.Workers < 0 {
		return fmt.Errorf("config: retention workers must be >= 0")
	}
	if c.Retention.DeletesPerSecond < 0 {
		return fmt.Errorf("config: deletesPerSecond must be >= 0")
	}
	return nil
}
