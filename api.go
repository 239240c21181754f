package axisflow

import (
	base "github.com/ghalamif/AxisFlow/pkg/axisflow"
)

// Re-exported errors for convenience.
var (
	ErrValidation       = base.ErrValidation
	ErrNotFound         = base.ErrNotFound
	ErrStorage          = base.ErrStorage
	ErrDelivery         = base.ErrDelivery
	ErrForbidden        = base.ErrForbidden
	ErrSubscriberClosed = base.ErrSubscriberClosed
	ErrSubscriberFull   = base.ErrSubscriberFull
)

// Type aliases so consumers can import github.com/ghalamif/AxisFlow directly.
type (
	Config             = base.Config
	StoreConfig        = base.StoreConfig
	GeneratorConfig    = base.GeneratorConfig
	SeedConfig         = base.SeedConfig
	HistoryConfig      = base.HistoryConfig
	HTTPConfig         = base.HTTPConfig
	LiveConfig         = base.LiveConfig
	MetricsConfig      = base.MetricsConfig
	LogConfig          = base.LogConfig
	OPCUAConfig        = base.OPCUAConfig
	OPCUAMachineConfig = base.OPCUAMachineConfig
	OPCUAAxisNodes     = base.OPCUAAxisNodes
	Flow               = base.Flow
	FlowOption         = base.FlowOption
	StreamInOption     = base.StreamInOption
	StreamOutOption    = base.StreamOutOption
	Runtime            = base.Runtime
	Option             = base.Option
	Stats              = base.Stats
	Record             = base.Record
	AxisReading        = base.AxisReading
	Axis               = base.Axis
	Machine            = base.Machine
	MachinePatch       = base.MachinePatch
	Store              = base.Store
	Collector          = base.Collector
	Distributor        = base.Distributor
	Subscriber         = base.Subscriber
	RecordHandler      = base.RecordHandler
	Observability      = base.Observability
	Field              = base.Field
	Clock              = base.Clock
	Role               = base.Role
	RoleResolver       = base.RoleResolver
)

const (
	AxisX = base.AxisX
	AxisY = base.AxisY
	AxisZ = base.AxisZ
	AxisA = base.AxisA
	AxisC = base.AxisC
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...Option) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInClock(clk Clock) StreamInOption {
	return base.StreamInClock(clk)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutStore(s Store) StreamOutOption {
	return base.StreamOutStore(s)
}

func StreamOutSubscriber(machineID string, sub Subscriber) StreamOutOption {
	return base.StreamOutSubscriber(machineID, sub)
}

func StreamOutCallback(machineID string, fn RecordHandler) StreamOutOption {
	return base.StreamOutCallback(machineID, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithStore(s Store) Option {
	return base.WithStore(s)
}

func WithCollector(col Collector) Option {
	return base.WithCollector(col)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithClock(clk Clock) Option {
	return base.WithClock(clk)
}

func WithRoleResolver(r RoleResolver) Option {
	return base.WithRoleResolver(r)
}

// Subscriber adapters.
func NewCallbackSubscriber(fn RecordHandler) Subscriber {
	return base.NewCallbackSubscriber(fn)
}

func NewChannelSubscriber(buffer int) (Subscriber, <-chan Record, func()) {
	return base.NewChannelSubscriber(buffer)
}
