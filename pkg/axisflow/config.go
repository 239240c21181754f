package axisflow

import (
	"github.com/ghalamif/AxisFlow/internal/adapters/opcua"
	"github.com/ghalamif/AxisFlow/internal/app/config"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// StoreConfig selects and tunes the sample store.
	StoreConfig = config.StoreConfig
	// GeneratorConfig holds the three generation cadences.
	GeneratorConfig = config.GeneratorConfig
	// SeedConfig controls the machines created on an empty store.
	SeedConfig = config.SeedConfig
	// HistoryConfig holds the default historical window.
	HistoryConfig = config.HistoryConfig
	// HTTPConfig configures the management API listener.
	HTTPConfig = config.HTTPConfig
	// LiveConfig tunes live websocket connections.
	LiveConfig = config.LiveConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig selects log level and format.
	LogConfig = config.LogConfig
	// OPCUAConfig holds connection and node details for the polling collector.
	OPCUAConfig = opcua.Config
	// OPCUAMachineConfig maps one machine's axes to controller nodes.
	OPCUAMachineConfig = opcua.MachineConfig
	// OPCUAAxisNodes names the three nodes of one axis.
	OPCUAAxisNodes = opcua.AxisNodes
)

const (
	DriverSQLite    = config.DriverSQLite
	DriverTimescale = config.DriverTimescale
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes YAML held in memory.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
