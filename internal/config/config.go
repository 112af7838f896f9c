// Package config provides YAML-based configuration loading for labdesk.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
)

// DefaultStoreKey is the slot the thread list is saved under.
const DefaultStoreKey = "it-hardware-chats"

// Config is the top-level labdesk configuration, loaded from labdesk.yaml.
type Config struct {
	Assistant AssistantConfig `yaml:"assistant"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	Health    HealthConfig    `yaml:"health"`
	Log       LogConfig       `yaml:"log"`
}

// AssistantConfig holds settings for the remote hardware assistant service.
type AssistantConfig struct {
	BaseURL              string        `yaml:"base_url"`
	Timeout              time.Duration `yaml:"timeout"`
	SearchCacheTTL       time.Duration `yaml:"search_cache_ttl"`
	EnforceSingleProduct *bool         `yaml:"enforce_single_product"`
}

// SingleProduct reports whether recommendation results are capped client-side.
func (a AssistantConfig) SingleProduct() bool {
	return a.EnforceSingleProduct == nil || *a.EnforceSingleProduct
}

// StoreConfig selects and configures the durable key-value store.
type StoreConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Key    string      `yaml:"key"`
	MySQL  MySQLConfig `yaml:"mysql"`
	Redis  RedisConfig `yaml:"redis"`
}

// MySQLConfig holds connection settings for a MySQL-compatible server.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
}

// RedisConfig holds connection settings for Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// HealthConfig configures the backend health probe. An empty schedule
// disables probing.
type HealthConfig struct {
	Schedule string `yaml:"schedule"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Assistant.BaseURL == "" {
		c.Assistant.BaseURL = "http://localhost:8000"
	}
	c.Assistant.BaseURL = strings.TrimRight(c.Assistant.BaseURL, "/")
	if c.Assistant.Timeout == 0 {
		c.Assistant.Timeout = 60 * time.Second
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Path == "" {
		c.Store.Path = "labdesk.db"
	}
	if c.Store.Key == "" {
		c.Store.Key = DefaultStoreKey
	}
	if c.Store.MySQL.Host == "" {
		c.Store.MySQL.Host = "127.0.0.1"
	}
	if c.Store.MySQL.Port == 0 {
		c.Store.MySQL.Port = 3306
	}
	if c.Store.MySQL.Database == "" {
		c.Store.MySQL.Database = "labdesk"
	}
	if c.Store.MySQL.User == "" {
		c.Store.MySQL.User = "root"
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if u, err := url.Parse(c.Assistant.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("assistant.base_url %q is not an absolute URL", c.Assistant.BaseURL))
	}
	if c.Assistant.Timeout < 0 {
		errs = append(errs, "assistant.timeout must not be negative")
	}
	if c.Assistant.SearchCacheTTL < 0 {
		errs = append(errs, "assistant.search_cache_ttl must not be negative")
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverMySQL, DriverRedis:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, mysql, redis", c.Store.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Health.Schedule != "" {
		if _, err := cron.ParseStandard(c.Health.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("health.schedule %q: %v", c.Health.Schedule, err))
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
