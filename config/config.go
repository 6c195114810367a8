// Package config loads server settings from flags, the environment, a .env
// file and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendDisk     = "disk"
	BackendPostgres = "postgres"
)

type Config struct {
	Port        int      `yaml:"port"`
	AuthToken   string   `yaml:"auth_token"`
	JWTSecret   string   `yaml:"jwt_secret"`
	JWKSURL     string   `yaml:"jwks_url"`
	DevMode     bool     `yaml:"dev_mode"`
	DataDir     string   `yaml:"data_dir"`
	LogFile     bool     `yaml:"log_file"`
	TemplateDir string   `yaml:"template_dir"`
	CORSOrigins []string `yaml:"cors_origins"`

	// SessionIdleTimeout evicts dormant workspaces from memory. Zero disables eviction.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	SnapshotBackend    string        `yaml:"snapshot_backend"`
	DatabaseURL        string        `yaml:"database_url"`
	TablePrefix        string        `yaml:"table_prefix"`

	S3 S3Config `yaml:"s3"`

	ShowVersion bool `yaml:"-"`
}

// S3Config enables archive uploads when Bucket is set.
type S3Config struct {
	Bucket     string        `yaml:"bucket"`
	Region     string        `yaml:"region"`
	Endpoint   string        `yaml:"endpoint"`
	AccessKey  string        `yaml:"access_key"`
	SecretKey  string        `yaml:"secret_key"`
	Prefix     string        `yaml:"prefix"`
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

func defaults() *Config {
	return &Config{
		Port:               8080,
		DataDir:            ".collab",
		SessionIdleTimeout: 30 * time.Minute,
		SnapshotBackend:    BackendMemory,
		S3: S3Config{
			Region:     "us-east-1",
			Prefix:     "exports/",
			PresignTTL: 15 * time.Minute,
		},
	}
}

// Load builds the configuration from command-line args (without the program
// name). A missing .env file is not an error.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("collab", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	envFile := fs.String("env-file", ".env", "path to a .env file")
	port := fs.Int("port", 0, "server port (default 8080)")
	token := fs.String("auth-token", "", "shared authentication token")
	dev := fs.Bool("dev", false, "enable development mode")
	dataDir := fs.String("data-dir", "", "directory for snapshots and logs")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg := defaults()

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "auth-token":
			cfg.AuthToken = *token
		case "dev":
			cfg.DevMode = *dev
		case "data-dir":
			cfg.DataDir = *dataDir
		}
	})
	cfg.ShowVersion = *showVersion

	abs, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	cfg.DataDir = abs

	if cfg.ShowVersion {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	setString(&c.AuthToken, "AUTH_TOKEN")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.JWKSURL, "JWKS_URL")
	setString(&c.DataDir, "DATA_DIR")
	setString(&c.TemplateDir, "TEMPLATE_DIR")
	setString(&c.SnapshotBackend, "SNAPSHOT_BACKEND")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.TablePrefix, "TABLE_PREFIX")
	setString(&c.S3.Bucket, "S3_BUCKET")
	setString(&c.S3.Region, "S3_REGION")
	setString(&c.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.S3.AccessKey, "S3_ACCESS_KEY")
	setString(&c.S3.SecretKey, "S3_SECRET_KEY")
	setString(&c.S3.Prefix, "S3_PREFIX")

	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORT: %w", err))
		}
		c.Port = n
	}
	if v, ok := os.LookupEnv("DEV_MODE"); ok && v != "" {
		c.DevMode = v == "true"
	}
	if v, ok := os.LookupEnv("LOG_FILE"); ok && v != "" {
		c.LogFile = v == "true"
	}
	errs = append(errs,
		setDuration(&c.SessionIdleTimeout, "SESSION_IDLE_TIMEOUT"),
		setDuration(&c.S3.PresignTTL, "S3_PRESIGN_TTL"),
	)
	return errors.Join(errs...)
}

// Validate checks the settings that would otherwise fail later at startup.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.AuthToken, validation.When(c.JWTSecret == "" && c.JWKSURL == "",
			validation.Required.Error("one of AUTH_TOKEN, JWT_SECRET or JWKS_URL is required"))),
		validation.Field(&c.SnapshotBackend, validation.Required,
			validation.In(BackendMemory, BackendDisk, BackendPostgres)),
		validation.Field(&c.DatabaseURL, validation.When(c.SnapshotBackend == BackendPostgres, validation.Required)),
		validation.Field(&c.SessionIdleTimeout,
			validation.Min(time.Second).Error("must be 0 (disabled) or at least 1s")),
		validation.Field(&c.S3, validation.When(c.S3.Enabled(), validation.By(func(any) error {
			return validation.ValidateStruct(&c.S3,
				validation.Field(&c.S3.Region, validation.Required),
				validation.Field(&c.S3.PresignTTL, validation.Min(time.Second)),
			)
		}))),
	)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
