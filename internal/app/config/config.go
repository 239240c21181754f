package config

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AxisFlow/internal/adapters/opcua"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

const (
	DriverSQLite    = "sqlite"
	DriverTimescale = "timescale"
)

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Generator GeneratorConfig `yaml:"generator"`
	Seed      SeedConfig      `yaml:"seed"`
	History   HistoryConfig   `yaml:"history"`
	HTTP      HTTPConfig      `yaml:"http"`
	Live      LiveConfig      `yaml:"live"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	OPCUA     opcua.Config    `yaml:"opcua"`
	Log       LogConfig       `yaml:"log"`
}

type StoreConfig struct {
	Driver     string        `yaml:"driver"`
	Path       string        `yaml:"path"`
	PoolSize   int           `yaml:"pool_size"`
	ConnString string        `yaml:"conn_string"`
	Table      string        `yaml:"table"`
	Retention  time.Duration `yaml:"retention"`
}

type GeneratorConfig struct {
	Disabled           bool          `yaml:"disabled"`
	ToolOffsetInterval time.Duration `yaml:"tool_offset_interval"`
	FeedrateInterval   time.Duration `yaml:"feedrate_interval"`
	ToolInUseInterval  time.Duration `yaml:"tool_in_use_interval"`
}

type SeedConfig struct {
	Machines     int    `yaml:"machines"`
	Prefix       string `yaml:"prefix"`
	ToolCapacity int    `yaml:"tool_capacity"`
}

type HistoryConfig struct {
	Window time.Duration `yaml:"window"`
}

type HTTPConfig struct {
	Addr       string `yaml:"addr"`
	RoleHeader string `yaml:"role_header"`
}

type LiveConfig struct {
	OutboxSize   int           `yaml:"outbox_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadLimit    int64         `yaml:"read_limit"`

	// OriginPatterns lists extra hosts allowed to open the live channel
	// cross-origin, e.g. "dashboard.example.com" or "*.plant.local".
	OriginPatterns []string `yaml:"origin_patterns"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Policy extracts the pipeline tuning knobs.
func (c *Config) Policy() ports.Policy {
	return ports.Policy{
		ToolOffsetInterval: c.Generator.ToolOffsetInterval,
		FeedrateInterval:   c.Generator.FeedrateInterval,
		ToolInUseInterval:  c.Generator.ToolInUseInterval,
		HistoryWindow:      c.History.Window,
		Retention:          c.Store.Retention,
		OutboxSize:         c.Live.OutboxSize,
		WriteTimeout:       c.Live.WriteTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Path == "" {
		c.Store.Path = "./data/axisflow.db"
	}
	if c.Store.PoolSize == 0 {
		c.Store.PoolSize = 4
	}
	if c.Store.Table == "" {
		c.Store.Table = "samples"
	}
	if c.Generator.ToolOffsetInterval == 0 {
		c.Generator.ToolOffsetInterval = time.Minute
	}
	if c.Generator.FeedrateInterval == 0 {
		c.Generator.FeedrateInterval = time.Minute
	}
	if c.Generator.ToolInUseInterval == 0 {
		c.Generator.ToolInUseInterval = 30 * time.Second
	}
	if c.Seed.Prefix == "" {
		c.Seed.Prefix = "EMXP"
	}
	if c.Seed.ToolCapacity == 0 {
		c.Seed.ToolCapacity = 24
	}
	if c.History.Window == 0 {
		c.History.Window = 15 * time.Minute
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RoleHeader == "" {
		c.HTTP.RoleHeader = "X-Role"
	}
	if c.Live.OutboxSize == 0 {
		c.Live.OutboxSize = 64
	}
	if c.Live.WriteTimeout == 0 {
		c.Live.WriteTimeout = 5 * time.Second
	}
	if c.Live.ReadLimit == 0 {
		c.Live.ReadLimit = 4096
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	c.OPCUA.ApplyDefaults()
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverTimescale:
		if c.Store.ConnString == "" {
			return fmt.Errorf("store.conn_string is required for the timescale driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("store.retention must not be negative")
	}
	if c.Generator.ToolOffsetInterval < 0 || c.Generator.FeedrateInterval < 0 || c.Generator.ToolInUseInterval < 0 {
		return fmt.Errorf("generator intervals must be positive")
	}
	if c.Seed.Machines < 0 {
		return fmt.Errorf("seed.machines must not be negative")
	}
	if c.Seed.ToolCapacity < 1 {
		return fmt.Errorf("seed.tool_capacity must be >= 1")
	}
	if c.History.Window < 0 {
		return fmt.Errorf("history.window must be positive")
	}
	if c.Live.OutboxSize < 0 {
		return fmt.Errorf("live.outbox_size must be positive")
	}
	for _, pattern := range c.Live.OriginPatterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("live.origin_patterns %q: %w", pattern, err)
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not supported", c.Log.Format)
	}
	if err := c.OPCUA.Validate(); err != nil {
		return fmt.Errorf("opcua config: %w", err)
	}
	return nil
}
