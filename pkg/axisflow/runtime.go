package axisflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/AxisFlow/internal/adapters/httpapi"
	"github.com/ghalamif/AxisFlow/internal/adapters/observability"
	"github.com/ghalamif/AxisFlow/internal/adapters/opcua"
	"github.com/ghalamif/AxisFlow/internal/adapters/sqlitestore"
	"github.com/ghalamif/AxisFlow/internal/adapters/timescale"
	"github.com/ghalamif/AxisFlow/internal/adapters/websocket"
	"github.com/ghalamif/AxisFlow/internal/app/access"
	"github.com/ghalamif/AxisFlow/internal/app/distribution"
	"github.com/ghalamif/AxisFlow/internal/app/generator"
	"github.com/ghalamif/AxisFlow/internal/app/history"
	"github.com/ghalamif/AxisFlow/internal/app/machines"
	"github.com/ghalamif/AxisFlow/internal/app/pipeline"
	"github.com/ghalamif/AxisFlow/internal/app/registry"
	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Option customizes the dependencies used by Runtime.
type Option func(*runtimeOverrides)

type runtimeOverrides struct {
	store         Store
	collector     Collector
	observability Observability
	clock         Clock
	resolver      RoleResolver
	registry      *prometheus.Registry
	logger        *slog.Logger
	source        rand.Source
}

// WithStore injects a store; the runtime will not close it on shutdown.
func WithStore(s Store) Option {
	return func(o *runtimeOverrides) { o.store = s }
}

// WithCollector injects a custom collector instead of the configured OPC UA one.
func WithCollector(col Collector) Option {
	return func(o *runtimeOverrides) { o.collector = col }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) Option {
	return func(o *runtimeOverrides) { o.observability = obs }
}

// WithClock drives generation, retention and timestamps from clk.
func WithClock(clk Clock) Option {
	return func(o *runtimeOverrides) { o.clock = clk }
}

// WithRoleResolver replaces the header based role lookup.
func WithRoleResolver(r RoleResolver) Option {
	return func(o *runtimeOverrides) { o.resolver = r }
}

// WithRegistry registers metrics on reg and serves it from /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *runtimeOverrides) { o.registry = reg }
}

// WithLogger replaces the logger built from Config.Log.
func WithLogger(l *slog.Logger) Option {
	return func(o *runtimeOverrides) { o.logger = l }
}

// WithRandSource seeds the sample generator, mainly for reproducible tests.
func WithRandSource(src rand.Source) Option {
	return func(o *runtimeOverrides) { o.source = src }
}

// Stats is a point-in-time view of the runtime.
type Stats struct {
	Store         string
	Machines      int
	Connections   int
	Subscriptions int
}

// Runtime wires the store, distribution engine, generator, management API and
// live channel together and exposes simple lifecycle hooks for embedding
// AxisFlow inside any Go service.
type Runtime struct {
	cfg       *Config
	policy    Policy
	logger    *slog.Logger
	obs       Observability
	clock     Clock
	store     Store
	ownsStore bool
	collector Collector
	resolve   RoleResolver
	promReg   *prometheus.Registry

	registry  *registry.Registry
	engine    *distribution.Engine
	generator *generator.Generator
	history   *history.Service
	machines  *machines.Service
	handler   http.Handler

	mu          sync.Mutex
	started     bool
	cancel      context.CancelFunc
	group       *errgroup.Group
	groupCtx    context.Context
	apiSrv      *http.Server
	metricsSrv  *http.Server
	apiAddr     net.Addr
	metricsAddr net.Addr
}

// NewRuntime builds a runtime from cfg. The configured store is opened here so
// schema problems surface before Start.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	logger := overrides.logger
	if logger == nil {
		logger = observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	}
	clk := overrides.clock
	if clk == nil {
		clk = clock.Real()
	}
	promReg := overrides.registry
	if promReg == nil {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(promReg, logger)
	}

	rt := &Runtime{
		cfg:     cfg,
		policy:  cfg.Policy(),
		logger:  logger,
		obs:     obs,
		clock:   clk,
		promReg: promReg,
	}

	if overrides.store != nil {
		rt.store = overrides.store
	} else {
		s, err := openStore(cfg.Store, clk, logger)
		if err != nil {
			return nil, err
		}
		rt.store = s
		rt.ownsStore = true
	}

	var genOpts []generator.Option
	if overrides.source != nil {
		genOpts = append(genOpts, generator.WithSource(overrides.source))
	}
	rt.registry = registry.New(obs)
	rt.engine = distribution.NewEngine(rt.store, rt.registry, obs, clk)
	rt.generator = generator.New(rt.store, rt.engine, obs, clk, genOpts...)
	rt.history = history.NewService(rt.store, rt.store, clk, rt.policy.HistoryWindow)
	rt.machines = machines.NewService(rt.store, rt.generator, obs)

	rt.resolve = overrides.resolver
	if rt.resolve == nil {
		rt.resolve = access.HeaderResolver(cfg.HTTP.RoleHeader)
	}

	rt.collector = overrides.collector
	if rt.collector == nil && cfg.OPCUA.Enabled {
		col, err := opcua.NewCollector(cfg.OPCUA, obs, opcua.WithClock(clk))
		if err != nil {
			_ = rt.closeStore()
			return nil, fmt.Errorf("opcua collector: %w", err)
		}
		rt.collector = col
	}

	live := websocket.NewHandler(rt.registry, obs, rt.resolve, websocket.Options{
		OutboxSize:     rt.policy.OutboxSize,
		WriteTimeout:   rt.policy.WriteTimeout,
		ReadLimit:      cfg.Live.ReadLimit,
		OriginPatterns: cfg.Live.OriginPatterns,
	})
	rt.handler = httpapi.NewServer(httpapi.Deps{
		Machines: rt.machines,
		History:  rt.history,
		Ingest:   rt.engine,
		Resolve:  rt.resolve,
		Obs:      obs,
		Live:     live,
	}).Handler()

	return rt, nil
}

func openStore(cfg StoreConfig, clk Clock, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case DriverTimescale:
		db, err := sql.Open("postgres", cfg.ConnString)
		if err != nil {
			return nil, err
		}
		s := timescale.NewStore(db, cfg.Table, clk)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	default:
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
		return sqlitestore.Open(sqlitestore.Config{
			Path:     cfg.Path,
			PoolSize: cfg.PoolSize,
			Clock:    clk,
			Logger:   logger,
		})
	}
}

// Handler returns the management API and live channel, for mounting in a
// caller's own server.
func (r *Runtime) Handler() http.Handler { return r.handler }

// Start seeds the store, launches the generator, retention, collector and
// HTTP listeners, and returns. Call Run to block on a context instead.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runtime already started")
	}

	if n, err := r.machines.Seed(ctx, r.cfg.Seed.Machines, r.cfg.Seed.Prefix, r.cfg.Seed.ToolCapacity); err != nil {
		return fmt.Errorf("seed machines: %w", err)
	} else if n > 0 {
		r.obs.LogInfo("store_seeded", ports.F("store", r.store.Name()), ports.F("machines", n))
	}

	apiLn, err := net.Listen("tcp", r.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	metricsLn, err := net.Listen("tcp", r.cfg.Metrics.Addr)
	if err != nil {
		_ = apiLn.Close()
		return fmt.Errorf("metrics listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	if r.collector != nil {
		if err := r.collector.Start(gctx, r.engine); err != nil {
			cancel()
			_ = apiLn.Close()
			_ = metricsLn.Close()
			return fmt.Errorf("start collector: %w", err)
		}
	}

	if !r.cfg.Generator.Disabled {
		g.Go(func() error {
			return pipeline.RunScheduler(gctx, r.generator, r.clock, r.policy, r.obs)
		})
	}
	if r.policy.Retention > 0 {
		g.Go(func() error {
			return pipeline.RunRetention(gctx, r.store, r.clock, r.policy, r.obs)
		})
	}

	r.apiSrv = &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Live sessions are hijacked and outlive Shutdown; tie them to the run context.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}
	r.metricsSrv = &http.Server{
		Handler:           r.metricsMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	r.apiAddr = apiLn.Addr()
	r.metricsAddr = metricsLn.Addr()
	g.Go(func() error { return serve(r.apiSrv, apiLn) })
	g.Go(func() error { return serve(r.metricsSrv, metricsLn) })

	r.cancel = cancel
	r.group = g
	r.groupCtx = gctx
	r.started = true

	r.obs.LogInfo("runtime_started",
		ports.F("store", r.store.Name()),
		ports.F("api_addr", r.apiAddr.String()),
		ports.F("metrics_addr", r.metricsAddr.String()),
		ports.F("generator", !r.cfg.Generator.Disabled))
	return nil
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (r *Runtime) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if _, err := r.store.CountMachines(req.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run starts the runtime and blocks until ctx is cancelled or a background
// task fails, then shuts down gracefully.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	done := r.groupCtx.Done()
	r.mu.Unlock()
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops the collector, background loops, HTTP servers and the store.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.started {
		r.cancel()
		for _, srv := range []*http.Server{r.apiSrv, r.metricsSrv} {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}
		if r.collector != nil {
			if err := r.collector.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := r.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		r.started = false
	}

	if err := r.closeStore(); err != nil {
		errs = append(errs, err)
	}
	r.obs.LogInfo("runtime_stopped")
	return errors.Join(errs...)
}

func (r *Runtime) closeStore() error {
	if !r.ownsStore || r.store == nil {
		return nil
	}
	r.ownsStore = false
	return r.store.Close()
}

// Publish persists rec and pushes it to live subscribers, the same path the
// generator and the ingest endpoint take. An empty MachineName is filled from
// the store.
func (r *Runtime) Publish(ctx context.Context, rec Record) error {
	if rec.MachineName == "" && rec.MachineID != "" {
		m, err := r.store.GetMachine(ctx, rec.MachineID)
		if err != nil {
			return err
		}
		rec.MachineName = m.MachineName
	}
	return r.engine.Distribute(ctx, rec)
}

// Subscribe registers sub and points it at machineID. The returned function
// unsubscribes and forgets the subscriber.
func (r *Runtime) Subscribe(machineID string, sub Subscriber) (func(), error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: subscriber is nil", ErrValidation)
	}
	if err := r.registry.Register(sub); err != nil {
		return nil, err
	}
	if err := r.registry.Subscribe(sub.ID(), machineID); err != nil {
		r.registry.OnDisconnect(sub.ID())
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { r.registry.OnDisconnect(sub.ID()) })
	}, nil
}

// Generate produces one record for every registered machine right away.
func (r *Runtime) Generate(ctx context.Context) ([]Record, error) {
	return r.generator.Generate(ctx, nil)
}

// Machines exposes machine management without going through HTTP.
func (r *Runtime) Machines() *machines.Service { return r.machines }

// History returns the records of machineID within window of now. A zero
// window uses the configured default.
func (r *Runtime) History(ctx context.Context, machineID string, window time.Duration) ([]Record, error) {
	return r.history.GetHistoricalData(ctx, machineID, window)
}

func (r *Runtime) Stats(ctx context.Context) (Stats, error) {
	n, err := r.store.CountMachines(ctx)
	if err != nil {
		return Stats{}, err
	}
	rs := r.registry.Stats()
	return Stats{
		Store:         r.store.Name(),
		Machines:      n,
		Connections:   rs.Connections,
		Subscriptions: rs.Subscriptions,
	}, nil
}

// APIAddr is the bound management API address once started.
func (r *Runtime) APIAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apiAddr
}

// MetricsAddr is the bound metrics address once started.
func (r *Runtime) MetricsAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metricsAddr
}

func newSubscriberID() string { return uuid.NewString() }
