package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/nidhogg/tenber/internal/vitality"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Vitality VitalityConfig `json:"vitality" yaml:"vitality"`
	Budget   BudgetConfig   `json:"budget" yaml:"budget"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DatabaseConfig picks the repository: PostgreSQL when a DSN is set, else
// SQLite when a path is set, else process memory.
type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn" yaml:"dsn"`
	Migrations string `json:"migrations" yaml:"migrations"`
}

type SQLiteConfig struct {
	Path string `json:"path" yaml:"path"`
}

type RedisConfig struct {
	URL    string `json:"url" yaml:"url"`
	Stream string `json:"stream" yaml:"stream"`
}

// VitalityConfig holds the decay constant shared by every read and write path.
type VitalityConfig struct {
	HalfLifeHours    float64 `json:"half_life_hours" yaml:"half_life_hours"`
	Precision        *int    `json:"precision,omitempty" yaml:"precision,omitempty"`
	ClampNonNegative *bool   `json:"clamp_non_negative,omitempty" yaml:"clamp_non_negative,omitempty"`
}

type BudgetConfig struct {
	Conviction float64 `json:"conviction" yaml:"conviction"`
}

const (
	DefaultPort       = 8080
	DefaultBudget     = 100.0
	DefaultMigrations = "migrations"
	DefaultStream     = "tenber:events"
)

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON or YAML config file (by extension) and substitutes
// environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	default:
		cfg, err = Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func expandEnv(data []byte) []byte {
	return []byte(envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	}))
}

// ParseYAML is Parse for YAML documents.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, err
	}
	return cfg.finish()
}

// Parse decodes JSON config bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, err
	}
	return cfg.finish()
}

func (c *Config) finish() (*Config, error) {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns a configuration with every default applied and no backing stores.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.Postgres.Migrations == "" {
		c.Database.Postgres.Migrations = DefaultMigrations
	}
	if c.Database.Redis.Stream == "" {
		c.Database.Redis.Stream = DefaultStream
	}
	def := vitality.DefaultConfig()
	if c.Vitality.HalfLifeHours == 0 {
		c.Vitality.HalfLifeHours = def.HalfLife.Hours()
	}
	if c.Vitality.Precision == nil {
		p := def.Precision
		c.Vitality.Precision = &p
	}
	if c.Vitality.ClampNonNegative == nil {
		b := def.ClampNonNegative
		c.Vitality.ClampNonNegative = &b
	}
	if c.Budget.Conviction == 0 {
		c.Budget.Conviction = DefaultBudget
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Vitality.HalfLifeHours <= 0 {
		errs = append(errs, fmt.Errorf("vitality.half_life_hours must be positive, got %v", c.Vitality.HalfLifeHours))
	}
	if c.Vitality.Precision != nil && *c.Vitality.Precision < 0 {
		errs = append(errs, fmt.Errorf("vitality.precision must not be negative, got %d", *c.Vitality.Precision))
	}
	if c.Budget.Conviction <= 0 {
		errs = append(errs, fmt.Errorf("budget.conviction must be positive, got %v", c.Budget.Conviction))
	}
	return errors.Join(errs...)
}

// VitalityEngineConfig converts the vitality section for vitality.New.
func (c *Config) VitalityEngineConfig() vitality.Config {
	out := vitality.DefaultConfig()
	if c.Vitality.HalfLifeHours > 0 {
		out.HalfLife = time.Duration(c.Vitality.HalfLifeHours * float64(time.Hour))
	}
	if c.Vitality.Precision != nil {
		out.Precision = *c.Vitality.Precision
	}
	if c.Vitality.ClampNonNegative != nil {
		out.ClampNonNegative = *c.Vitality.ClampNonNegative
	}
	return out
}
