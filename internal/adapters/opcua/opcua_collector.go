package opcua

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Reader is the part of *opcua.Client the collector polls with.
type Reader interface {
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
}

type Option func(*Collector)

// WithReader skips dialing and polls r instead.
func WithReader(r Reader) Option {
	return func(c *Collector) { c.reader = r }
}

// WithClock drives polling from clk.
func WithClock(clk clock.Clock) Option {
	return func(c *Collector) { c.clock = clk }
}

// Collector polls controller nodes and distributes one record per machine per poll.
type Collector struct {
	cfg    Config
	obs    ports.Observability
	clock  clock.Clock
	reader Reader
	client *opcua.Client
	plans  []machinePlan

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// machinePlan is a parsed MachineConfig. nodes holds three ids per axis in
// (toolOffset, feedrate, toolInUse) order, axes in canonical order.
type machinePlan struct {
	machineID   string
	machineName string
	axes        []domain.Axis
	nodes       []*ua.ReadValueID
}

func NewCollector(cfg Config, obs ports.Observability, opts ...Option) (*Collector, error) {
	cfg.ApplyDefaults()
	cfg.Enabled = true
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	plans, err := buildPlans(cfg.Machines)
	if err != nil {
		return nil, err
	}
	c := &Collector{cfg: cfg, obs: obs, clock: clock.Real(), plans: plans}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *Collector) Start(ctx context.Context, out ports.Distributor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("opcua collector already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	if c.reader == nil {
		client, err := opcua.NewClient(c.cfg.Endpoint, c.buildClientOptions()...)
		if err != nil {
			cancel()
			return fmt.Errorf("opcua new client: %w", err)
		}
		if err := client.Connect(ctx); err != nil {
			cancel()
			return fmt.Errorf("opcua connect: %w", err)
		}
		c.client = client
		c.reader = client
	}

	c.cancel = cancel
	c.started = true
	c.wg.Add(1)
	go c.poll(ctx, out)

	c.obs.LogInfo("opcua_collector_started",
		ports.F("endpoint", c.cfg.Endpoint),
		ports.F("machines", len(c.plans)),
		ports.F("poll_interval", c.cfg.PollInterval.String()))
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	client := c.client
	c.started = false
	c.cancel = nil
	c.client = nil
	if client != nil {
		c.reader = nil
	}
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	if client == nil {
		return nil
	}
	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()
	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *Collector) poll(ctx context.Context, out ports.Distributor) {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.PollOnce(ctx, now, out)
		}
	}
}

// PollOnce reads every configured machine and distributes the records that
// could be built. A machine with a bad read is skipped for this poll.
func (c *Collector) PollOnce(ctx context.Context, now time.Time, out ports.Distributor) int {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader == nil {
		return 0
	}

	sent := 0
	for _, plan := range c.plans {
		rec, err := c.readMachine(ctx, reader, plan, now)
		if err != nil {
			c.obs.LogError("opcua_read_skipped", err, ports.F("machine_id", plan.machineID))
			continue
		}
		if err := out.Distribute(ctx, rec); err != nil {
			continue
		}
		sent++
	}
	return sent
}

func (c *Collector) readMachine(ctx context.Context, reader Reader, plan machinePlan, now time.Time) (domain.MachineRecord, error) {
	resp, err := reader.Read(ctx, &ua.ReadRequest{
		MaxAge:             0,
		NodesToRead:        plan.nodes,
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	})
	if err != nil {
		return domain.MachineRecord{}, fmt.Errorf("read: %w", err)
	}
	if len(resp.Results) != len(plan.nodes) {
		return domain.MachineRecord{}, fmt.Errorf("read returned %d results for %d nodes", len(resp.Results), len(plan.nodes))
	}

	values := make([]float64, len(resp.Results))
	for i, dv := range resp.Results {
		if dv == nil || dv.Status != ua.StatusOK {
			status := ua.StatusBad
			if dv != nil {
				status = dv.Status
			}
			return domain.MachineRecord{}, fmt.Errorf("node %s: %s", plan.nodes[i].NodeID, status)
		}
		fv, ok := variantToFloat(dv.Value)
		if !ok {
			var raw any
			if dv.Value != nil {
				raw = dv.Value.Value()
			}
			return domain.MachineRecord{}, fmt.Errorf("node %s: unsupported type %T", plan.nodes[i].NodeID, raw)
		}
		if math.IsNaN(fv) || math.IsInf(fv, 0) {
			return domain.MachineRecord{}, fmt.Errorf("node %s: non-finite value %v", plan.nodes[i].NodeID, fv)
		}
		values[i] = fv
	}

	axes := make(map[domain.Axis]domain.AxisReading, len(plan.axes))
	for i, axis := range plan.axes {
		axes[axis] = domain.AxisReading{
			ToolOffset: values[3*i],
			Feedrate:   int(math.Round(values[3*i+1])),
			ToolInUse:  int(math.Round(values[3*i+2])),
		}
	}
	return domain.MachineRecord{
		MachineID:   plan.machineID,
		MachineName: plan.machineName,
		Timestamp:   domain.NormalizeTimestamp(now),
		Axes:        axes,
	}, nil
}

func buildPlans(machines []MachineConfig) ([]machinePlan, error) {
	plans := make([]machinePlan, 0, len(machines))
	for _, m := range machines {
		plan := machinePlan{machineID: m.MachineID, machineName: m.MachineName}
		for _, axis := range domain.Axes {
			nodes, ok := m.Axes[string(axis)]
			if !ok {
				continue
			}
			for _, raw := range []string{nodes.ToolOffset, nodes.Feedrate, nodes.ToolInUse} {
				id, err := ua.ParseNodeID(raw)
				if err != nil {
					return nil, fmt.Errorf("parse node id %q: %w", raw, err)
				}
				plan.nodes = append(plan.nodes, &ua.ReadValueID{NodeID: id, AttributeID: ua.AttributeIDValue})
			}
			plan.axes = append(plan.axes, axis)
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func (c *Collector) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if c.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Collector = (*Collector)(nil)
