package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/AaronLay10/RuleChain/internal/sandbox"
	"gopkg.in/yaml.v3"
)

// EngineConfig is the engine.yaml document.
type EngineConfig struct {
	Version int `yaml:"version"`

	Engine struct {
		IntegrationID string `yaml:"integration_id"`
		MaxSteps      int    `yaml:"max_steps"`
		// Chains seeds the in-memory store when Postgres is disabled.
		Chains string `yaml:"chains"`
		// Devices seeds the device table when nothing can be restored.
		Devices      string `yaml:"devices"`
		RestoreLimit int    `yaml:"restore_limit"`
	} `yaml:"engine"`

	Sandbox struct {
		Timeout      time.Duration `yaml:"timeout"`
		MaxCallStack int           `yaml:"max_call_stack"`
		// MaxMemoryMB bounds heap growth during one script; -1 disables it.
		MaxMemoryMB int `yaml:"max_memory_mb"`
	} `yaml:"sandbox"`

	Batch struct {
		ErrorPolicy    string        `yaml:"error_policy"`
		Interval       time.Duration `yaml:"interval"`
		RunOnTelemetry bool          `yaml:"run_on_telemetry"`
	} `yaml:"batch"`

	MQTT struct {
		URL                  string  `yaml:"url"`
		ClientID             string  `yaml:"client_id"`
		TelemetryTopic       string  `yaml:"telemetry_topic"`
		RegistrationTopic    string  `yaml:"registration_topic"`
		CommandTopicTemplate string  `yaml:"command_topic_template"`
		Strict               bool    `yaml:"strict"`
		HeartbeatTolerance   float64 `yaml:"heartbeat_tolerance"`
	} `yaml:"mqtt"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
		Password string `yaml:"-"`
	} `yaml:"postgres"`

	Cache struct {
		Backend   string        `yaml:"backend"`
		TTL       time.Duration `yaml:"ttl"`
		RedisAddr string        `yaml:"redis_addr"`
		RedisDB   int           `yaml:"redis_db"`
		Password  string        `yaml:"-"`
	} `yaml:"cache"`

	API struct {
		Port int `yaml:"port"`
	} `yaml:"api"`

	// Devices lists the devices controllers are expected to register,
	// keyed by device id.
	Devices map[string]DeviceDefinition `yaml:"devices"`
}

// DeviceDefinition describes an expected device.
type DeviceDefinition struct {
	Type       string   `yaml:"type"`
	Required   bool     `yaml:"required"`
	Parameters []string `yaml:"parameters"`
}

// APIPort returns the configured API port, defaulting to 8080 if not set.
// SandboxConfig returns the script sandbox limits.
func (c *EngineConfig) SandboxConfig() sandbox.Config {
	mem := int64(c.Sandbox.MaxMemoryMB)
	if mem > 0 {
		mem <<= 20
	}
	return sandbox.Config{
		Timeout:          c.Sandbox.Timeout,
		MaxCallStackSize: c.Sandbox.MaxCallStack,
		MaxMemory:        mem,
	}
}

func (c *EngineConfig) APIPort() int {
	if c.API.Port == 0 {
		return 8080
	}
	return c.API.Port
}

// Default returns the configuration used when no file is given.
func Default() *EngineConfig {
	cfg := &EngineConfig{Version: 1}
	cfg.Engine.IntegrationID = "default"
	cfg.Batch.ErrorPolicy = "abort"
	cfg.Cache.Backend = "none"
	return cfg
}

// LoadEngineConfig reads engine.yaml, then applies environment overrides
// and secrets.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseEngineConfig(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEngineConfig decodes an engine.yaml document. Keys not present keep
// their Default values.
func ParseEngineConfig(b []byte) (*EngineConfig, error) {
	cfg := Default()
	cfg.Version = 0
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported engine.yaml version: %d", cfg.Version)
	}
	if cfg.Engine.MaxSteps < 0 {
		return nil, fmt.Errorf("engine.max_steps must not be negative")
	}
	if cfg.Sandbox.Timeout < 0 {
		return nil, fmt.Errorf("sandbox.timeout must not be negative")
	}
	if cfg.Sandbox.MaxMemoryMB < -1 {
		return nil, fmt.Errorf("sandbox.max_memory_mb must be -1 (unlimited) or positive")
	}

	return cfg, nil
}

// ApplyEnv overrides settings from the environment: MQTT_URL, PGHOST,
// PGPORT, PGUSER, PGDATABASE, REDIS_ADDR, RULECHAIN_INTEGRATION_ID and
// RULECHAIN_API_PORT. Passwords come from PGPASSWORD and REDIS_PASSWORD,
// or from the files named by their *_FILE variants.
func (c *EngineConfig) ApplyEnv() error {
	override(&c.MQTT.URL, "MQTT_URL")
	override(&c.Postgres.Host, "PGHOST")
	override(&c.Postgres.Port, "PGPORT")
	override(&c.Postgres.User, "PGUSER")
	override(&c.Postgres.Database, "PGDATABASE")
	override(&c.Cache.RedisAddr, "REDIS_ADDR")
	override(&c.Engine.IntegrationID, "RULECHAIN_INTEGRATION_ID")

	if v := os.Getenv("RULECHAIN_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RULECHAIN_API_PORT %q: %w", v, err)
		}
		c.API.Port = port
	}

	if err := resolveInto(&c.Postgres.Password, "PGPASSWORD"); err != nil {
		return err
	}
	return resolveInto(&c.Cache.Password, "REDIS_PASSWORD")
}

func override(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
