// Package config loads service configuration from defaults, an optional
// .env file, an optional YAML file and environment variables, in that order.
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

// Config is the full service configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	Directories DirectoriesConfig `yaml:"directories"`
	Engine      EngineConfig      `yaml:"engine"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig configures the Postgres pool. An empty Host selects the
// in-memory store.
type DatabaseConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Database    string        `yaml:"database"`
	SSLMode     string        `yaml:"ssl_mode"`
	MaxConns    int32         `yaml:"max_conns"`
	MinConns    int32         `yaml:"min_conns"`
	MaxConnTime time.Duration `yaml:"max_conn_time"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	HealthCheck time.Duration `yaml:"health_check"`
}

// RedisConfig enables distributed locking when Address is set.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DirectoriesConfig points at the machine and identity services. Empty URLs
// disable the lookups.
type DirectoriesConfig struct {
	MachinesURL string        `yaml:"machines_url"`
	UsersURL    string        `yaml:"users_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EngineConfig holds the business thresholds and policies.
type EngineConfig struct {
	HealthThreshold            float64       `yaml:"health_threshold"`
	HighPriorityGroupLimit     int           `yaml:"high_priority_group_limit"`
	LargeGroupThreshold        int           `yaml:"large_group_threshold"`
	DefaultExpectedOutput      int           `yaml:"default_expected_output"`
	CompatibilityScope         string        `yaml:"compatibility_scope"`
	AuditFailurePolicy         string        `yaml:"audit_failure_policy"`
	CreateReadinessOnMarkInUse bool          `yaml:"create_readiness_on_mark_in_use"`
	LockTTL                    time.Duration `yaml:"lock_ttl"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "be-mfg-batch-approvals",
			Version:     "dev",
			Environment: "development",
		},
		Log: LogConfig{Level: "info"},
		Database: DatabaseConfig{
			Port:        5432,
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    1,
			MaxConnTime: time.Hour,
			MaxIdleTime: 30 * time.Minute,
			HealthCheck: time.Minute,
		},
		NATS:        NATSConfig{SubjectPrefix: "production.approvals"},
		Directories: DirectoriesConfig{Timeout: 5 * time.Second},
		Engine: EngineConfig{
			HealthThreshold:        0.7,
			HighPriorityGroupLimit: 3,
			LargeGroupThreshold:    5,
			DefaultExpectedOutput:  100,
			CompatibilityScope:     "per_machine",
			AuditFailurePolicy:     "warn",
			LockTTL:                30 * time.Second,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used. A missing .env file is ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that the engine cannot run without.
func (c *Config) Validate() error {
	if c.Engine.HealthThreshold < 0 || c.Engine.HealthThreshold > 1 {
		return fmt.Errorf("engine.health_threshold must be within [0,1], got %v", c.Engine.HealthThreshold)
	}
	switch c.Engine.CompatibilityScope {
	case "global", "per_machine":
	default:
		return fmt.Errorf("engine.compatibility_scope must be global or per_machine, got %q", c.Engine.CompatibilityScope)
	}
	switch c.Engine.AuditFailurePolicy {
	case "warn", "abort":
	default:
		return fmt.Errorf("engine.audit_failure_policy must be warn or abort, got %q", c.Engine.AuditFailurePolicy)
	}
	if c.Engine.DefaultExpectedOutput <= 0 {
		return fmt.Errorf("engine.default_expected_output must be positive")
	}
	if c.Engine.LargeGroupThreshold <= 0 {
		return fmt.Errorf("engine.large_group_threshold must be positive, got %d", c.Engine.LargeGroupThreshold)
	}
	if c.Engine.HighPriorityGroupLimit <= 0 {
		return fmt.Errorf("engine.high_priority_group_limit must be positive, got %d", c.Engine.HighPriorityGroupLimit)
	}
	return nil
}

// DSN renders the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Service.Name, "SERVICE_NAME")
	setString(&cfg.Service.Version, "SERVICE_VERSION")
	setString(&cfg.Service.Environment, "ENVIRONMENT")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	setString(&cfg.Database.Host, "DB_HOST")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Database, "DB_NAME")
	setString(&cfg.Database.SSLMode, "DB_SSLMODE")
	if err := setInt(&cfg.Database.Port, "DB_PORT"); err != nil {
		return err
	}

	setString(&cfg.Redis.Address, "REDIS_ADDRESS")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Directories.MachinesURL, "MACHINES_SERVICE_URL")
	setString(&cfg.Directories.UsersURL, "IDENTITY_SERVICE_URL")

	setString(&cfg.Engine.CompatibilityScope, "ENGINE_COMPATIBILITY_SCOPE")
	setString(&cfg.Engine.AuditFailurePolicy, "ENGINE_AUDIT_FAILURE_POLICY")
	if err := setInt(&cfg.Engine.LargeGroupThreshold, "ENGINE_LARGE_GROUP_THRESHOLD"); err != nil {
		return err
	}
	if err := setInt(&cfg.Engine.HighPriorityGroupLimit, "ENGINE_HIGH_PRIORITY_GROUP_LIMIT"); err != nil {
		return err
	}
	if v := os.Getenv("ENGINE_HEALTH_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ENGINE_HEALTH_THRESHOLD: %w", err)
		}
		cfg.Engine.HealthThreshold = f
	}
	if v := os.Getenv("ENGINE_CREATE_READINESS_ON_MARK_IN_USE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENGINE_CREATE_READINESS_ON_MARK_IN_USE: %w", err)
		}
		cfg.Engine.CreateReadinessOnMarkInUse = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
