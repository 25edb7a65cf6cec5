// Package config holds process settings: where to listen, which tables
// document to load, logging. Layers apply in order: defaults, YAML file,
// TABLEGATE_* environment, then command-line flags (set by cmd/server).
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"tablegate/internal/apperr"
)

const EnvPrefix = "TABLEGATE_"

type Config struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
	Tables string `yaml:"tables" validate:"required"`
	// DatabaseURL replaces database.url of the tables document when set.
	DatabaseURL string `yaml:"database_url"`
	// RedisURL is used by tables documents that pick the redis cache
	// backend without a url of their own.
	RedisURL string `yaml:"redis_url" validate:"omitempty,url"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json console"`
	GinMode   string `yaml:"gin_mode" validate:"oneof=debug release test"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	// CORSOrigins lists origins answered with CORS headers; "*" admits any.
	CORSOrigins []string `yaml:"cors_origins" validate:"dive,required"`
}

func Default() Config {
	return Config{
		Listen:          ":8080",
		Tables:          "tables.yaml",
		RedisURL:        "redis://localhost:6379/0",
		LogLevel:        "info",
		LogFormat:       "json",
		GinMode:         "release",
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"*"},
	}
}

// Load applies the YAML file at path (when it exists) and the environment
// over the defaults. The result is not validated; call Validate after the
// flags are applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, apperr.Configuration(errors.Wrapf(err, "parse %s", path))
			}
		case !os.IsNotExist(err):
			return cfg, apperr.Configuration(errors.Wrapf(err, "read %s", path))
		}
	}
	return cfg, cfg.applyEnv()
}

func (c *Config) applyEnv() error {
	c.Listen = getenv("LISTEN", c.Listen)
	c.Tables = getenv("TABLES", c.Tables)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getenv("REDIS_URL", c.RedisURL)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("LOG_FORMAT", c.LogFormat)
	c.GinMode = getenv("GIN_MODE", c.GinMode)
	if v := getenv("CORS_ORIGINS", ""); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := getenv("SHUTDOWN_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperr.Configuration(errors.Wrapf(err, "%sSHUTDOWN_TIMEOUT", EnvPrefix))
		}
		c.ShutdownTimeout = d
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the final settings.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return apperr.Configuration(err)
	}
	msgs := make([]string, 0, len(ves))
	for _, ve := range ves {
		msgs = append(msgs, ve.Field()+": "+describe(ve))
	}
	return apperr.Configuration(errors.New(strings.Join(msgs, "; ")))
}

func describe(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "required"
	case "oneof":
		return "must be one of: " + ve.Param()
	case "hostname_port":
		return fmt.Sprintf("must be host:port, got %q", ve.Value())
	case "url":
		return "must be a valid URL"
	case "gt":
		return "must be greater than " + ve.Param()
	default:
		return fmt.Sprintf("failed %s validation", ve.Tag())
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(EnvPrefix + k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
