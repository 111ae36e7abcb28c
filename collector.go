// Package snmpcollect polls SNMP agents on a schedule and streams the
// collected values to a Graphite/Carbon server.
//
// A Collector is built from a validated configuration:
//
//	cfg, err := config.Load("snmpcollect.yaml")
//	...
//	c, err := snmpcollect.New(ctx, cfg, snmpcollect.WithLogger(logger))
//	...
//	err = c.Run(ctx) // until ctx is cancelled
//
// New resolves every configured MIB name once; polling never touches the
// MIB model again.
package snmpcollect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/golangsnmp/snmpcollect/internal/config"
	"github.com/golangsnmp/snmpcollect/internal/metric"
	"github.com/golangsnmp/snmpcollect/internal/output"
	"github.com/golangsnmp/snmpcollect/internal/poller"
	"github.com/golangsnmp/snmpcollect/internal/resolver"
	"github.com/golangsnmp/snmpcollect/internal/scheduler"
	"github.com/golangsnmp/snmpcollect/internal/snmp"
	"github.com/golangsnmp/snmpcollect/internal/telemetry"
	"github.com/golangsnmp/snmpcollect/internal/types"
)

// DefaultFlushTimeout bounds the final drain of the output buffer on
// shutdown.
const DefaultFlushTimeout = 5 * time.Second

// Option configures New.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	clock        clock.Clock
	snmpDial     snmp.DialFunc
	outputDial   output.DialFunc
	resolver     resolver.Resolver
	flushTimeout time.Duration
}

// WithLogger sets the logger. If not set, nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock sets the clock used for poll deadlines, engine time and
// reconnect backoff. Scheduling always follows the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithSNMPDialer replaces the UDP dialer used to reach agents.
func WithSNMPDialer(d snmp.DialFunc) Option {
	return func(o *options) { o.snmpDial = d }
}

// WithOutputDialer replaces the TCP dialer used to reach the output server.
func WithOutputDialer(d output.DialFunc) Option {
	return func(o *options) { o.outputDial = d }
}

// WithResolver supplies the name resolver instead of loading MIB files.
func WithResolver(r resolver.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithFlushTimeout bounds the final drain on shutdown.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) { o.flushTimeout = d }
}

// Collector owns the devices, the scheduler and the output pipeline.
type Collector struct {
	cfg          *config.Config
	logger       *slog.Logger
	log          types.Logger
	clock        clock.Clock
	prefix       string
	flushTimeout time.Duration

	devices   []*poller.Device
	assembler *metric.Assembler
	pipeline  *output.Pipeline
	sched     *scheduler.Scheduler
	metrics   *telemetry.Metrics
}

// New validates cfg, resolves its data definitions and prepares one
// device per configured agent. Every configuration or MIB problem is
// reported here; nothing is sent on the network until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Collector, error) {
	o := options{flushTimeout: DefaultFlushTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sink, err := cfg.Sink()
	if err != nil {
		return nil, err
	}

	r := o.resolver
	if r == nil {
		t, err := LoadMIBs(ctx, cfg, o.logger)
		if err != nil {
			return nil, err
		}
		r = t
	}
	defs, err := cfg.Compile(r)
	if err != nil {
		return nil, err
	}
	targets, err := cfg.Targets(defs)
	if err != nil {
		return nil, err
	}

	c := &Collector{
		cfg:          cfg,
		logger:       o.logger,
		log:          types.Component(o.logger, "collector"),
		clock:        o.clock,
		prefix:       sink.Prefix,
		flushTimeout: o.flushTimeout,
		assembler:    metric.NewAssembler(sink.Prefix, o.logger),
		metrics:      telemetry.New(),
	}

	popts := []output.Option{output.WithClock(o.clock), output.WithLogger(o.logger)}
	if o.outputDial != nil {
		popts = append(popts, output.WithDialer(o.outputDial))
	}
	c.pipeline = output.NewPipeline(output.Config{
		Address:    output.Address(sink.Server, sink.Port),
		BufferSize: sink.Buffer,
		BatchSize:  sink.Batch,
		BackoffMax: sink.BackoffMax,
	}, popts...)
	c.metrics.RegisterPipeline(c.pipeline)

	sopts := []scheduler.Option{
		scheduler.WithLogger(o.logger),
		scheduler.WithSkipHook(c.metrics.Skipped),
	}
	if cfg.Main.Jitter != nil {
		sopts = append(sopts, scheduler.WithJitter(*cfg.Main.Jitter))
	}
	c.sched = scheduler.New(cfg.Workers(), sopts...)

	dopts := []poller.Option{poller.WithClock(o.clock), poller.WithLogger(o.logger)}
	if o.snmpDial != nil {
		dopts = append(dopts, poller.WithDialer(o.snmpDial))
	}
	for _, t := range targets {
		d := poller.NewDevice(t, dopts...)
		c.devices = append(c.devices, d)
		if err := c.sched.Add(t.Name, d.Target().Interval, c.pollJob(d)); err != nil {
			c.closeDevices()
			return nil, err
		}
	}
	return c, nil
}

// Targets returns the devices' settings with defaults applied.
func (c *Collector) Targets() []poller.Target {
	out := make([]poller.Target, len(c.devices))
	for i, d := range c.devices {
		out[i] = d.Target()
	}
	return out
}

// OutputKeys lists the metric paths the collector can emit, with
// "<instance>" standing in for table rows.
func (c *Collector) OutputKeys() []string {
	return metric.Keys(c.prefix, c.Targets())
}

// Metrics returns the self-telemetry instruments.
func (c *Collector) Metrics() *telemetry.Metrics { return c.metrics }

// OutputStats returns the output pipeline's counters.
func (c *Collector) OutputStats() output.Stats { return c.pipeline.Stats() }

// Run polls until ctx is cancelled, then stops the scheduler (waiting for
// running polls), makes one final attempt to flush buffered samples and
// releases the devices. It returns nil on a clean shutdown.
func (c *Collector) Run(ctx context.Context) error {
	c.log.Info("collector starting",
		slog.Int("devices", len(c.devices)),
		slog.Int("workers", c.cfg.Workers()))

	g, gctx := errgroup.WithContext(ctx)
	// The pipeline outlives the scheduler so that the last polls still
	// reach the buffer.
	pctx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()

	g.Go(func() error {
		return c.pipeline.Run(pctx)
	})
	if addr := c.cfg.Main.MetricsListen; addr != "" {
		g.Go(func() error {
			if err := c.metrics.Serve(gctx, addr, c.logger); err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		c.sched.Start(gctx)
		<-gctx.Done()
		c.sched.Stop()
		stopPipeline()
		return nil
	})
	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), c.flushTimeout)
	defer cancel()
	if ferr := c.pipeline.Flush(flushCtx); ferr != nil {
		c.log.Warn("samples lost on shutdown", slog.Any("error", ferr))
	}
	c.closeDevices()

	st := c.pipeline.Stats()
	c.log.Info("collector stopped",
		slog.Uint64("published", st.Published),
		slog.Uint64("sent", st.Sent),
		slog.Uint64("dropped", st.Dropped))
	return err
}

// Close releases the devices of a Collector that was never run.
func (c *Collector) Close() error {
	return c.closeDevices()
}

func (c *Collector) closeDevices() error {
	var errs []error
	for _, d := range c.devices {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Collector) pollJob(d *poller.Device) scheduler.Job {
	name := d.Target().Name
	log := c.log.With(slog.String("device", name))
	return func(ctx context.Context) {
		before := d.Stats()
		start := c.clock.Now()
		res, err := d.Poll(ctx)
		elapsed := c.clock.Since(start)
		c.metrics.ObserveClient(name, before, d.Stats())

		if err != nil && errors.Is(err, context.Canceled) {
			log.Debug("poll cancelled")
			return
		}
		c.metrics.ObservePoll(name, elapsed, err)
		if err != nil {
			log.Warn("poll failed",
				slog.String("result", telemetry.Classify(err)),
				slog.Duration("elapsed", elapsed),
				slog.Any("error", err))
			return
		}

		samples, skipped := c.assembler.Assemble(res)
		c.pipeline.Publish(samples)
		if log.TraceEnabled() {
			log.Trace("samples published",
				slog.Int("samples", len(samples)),
				slog.Int("skipped", skipped))
		}
	}
}

// RequiredModules returns the MIB modules cfg refers to, plus those named
// by main.mibs and the MIBS environment variable.
func RequiredModules(cfg *config.Config) []string {
	extra := append(resolver.EnvModules(), cfg.Main.MIBs...)
	return resolver.RequiredModules(cfg.Symbols(), extra)
}

// MIBDirs returns the directories searched for MIB files: main.mib_dirs
// followed by MIBDIRS. Empty means the platform's standard locations.
func MIBDirs(cfg *config.Config) []string {
	return append(slices.Clone(cfg.Main.MIBDirs), resolver.EnvDirs()...)
}

// LoadMIBs loads the modules cfg needs with the configured backend.
func LoadMIBs(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*resolver.Table, error) {
	dirs := MIBDirs(cfg)
	switch name := cfg.ResolverName(); name {
	case "gomib":
		return resolver.LoadGomib(ctx, resolver.GomibOptions{
			Dirs:    dirs,
			Modules: RequiredModules(cfg),
			Logger:  logger,
		})
	case "wasmib":
		if len(dirs) == 0 {
			dirs = resolver.SystemDirs(logger)
		}
		return resolver.LoadWasmib(ctx, dirs, logger)
	default:
		return nil, fmt.Errorf("unknown resolver %q", name)
	}
}
