package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/chatsync/internal/broadcast"
	"github.com/roach88/chatsync/internal/bus"
	"github.com/roach88/chatsync/internal/config"
	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/entitlement"
	"github.com/roach88/chatsync/internal/logging"
	"github.com/roach88/chatsync/internal/metrics"
	"github.com/roach88/chatsync/internal/store"
)

// runtime holds the components one command invocation works with. Every
// command builds its own and closes it on return.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	engine  *engine.Engine
	closers []func() error

	registry   *prometheus.Registry
	metrics    *metrics.Sync
	metricsOut io.Writer // set by --metrics; receives the gathered families on Close
}

// loadConfig resolves the layered config and applies flag overrides.
func loadConfig(opts *RootOptions, logW io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.NewLoader(logging.Discard()).Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.DBPath != "" {
		cfg.Store.Path = opts.DBPath
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging, logW)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openRuntime loads config, opens the store and builds an engine with any
// pending records from earlier runs queued again.
func openRuntime(ctx context.Context, f *OutputFormatter, opts *RootOptions) (*runtime, error) {
	cfg, logger, err := loadConfig(opts, f.errWriter())
	if err != nil {
		return nil, f.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, f.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	f.VerboseLog("database: %s (%s)", st.Path(), st.Driver())

	rt := &runtime{cfg: cfg, logger: logger, store: st, registry: prometheus.NewRegistry()}
	rt.closers = append(rt.closers, st.Close)

	rt.metrics, err = metrics.New(rt.registry)
	if err != nil {
		rt.Close()
		return nil, f.Fail(ExitCommandError, CodeConfig, "failed to register metrics", err)
	}
	if opts.Metrics {
		rt.metricsOut = f.errWriter()
	}

	rt.engine = engine.New(st,
		engine.WithConflictPolicy(engine.ConflictPolicy(cfg.Sync.ConflictPolicy)),
		engine.WithLogger(logging.Component(logger, "cli")),
		engine.WithMetrics(rt.metrics),
	)
	rt.closers = append(rt.closers, func() error { rt.engine.Close(); return nil })

	if _, err := rt.engine.Restore(ctx); err != nil {
		rt.Close()
		return nil, f.Fail(ExitCommandError, CodeStore, "failed to restore pending records", err)
	}
	return rt, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	opts := []store.Option{
		store.WithDriver(cfg.Store.Driver),
		store.WithLogger(logger),
	}
	if cfg.Store.ResetOnMismatch {
		return store.OpenOrReset(ctx, cfg.Store.Path, opts...)
	}

	res, err := store.Open(ctx, cfg.Store.Path, opts...)
	if err != nil {
		return nil, err
	}
	if res.Status != store.StatusOpened {
		return nil, res.Err()
	}
	return res.Store, nil
}

// openBus connects the configured transport.
func (rt *runtime) openBus() (bus.Bus, error) {
	switch rt.cfg.Bus.Kind {
	case "nats":
		b, err := bus.DialNATS(rt.cfg.Bus.URL, rt.cfg.Bus.Subject, rt.logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "local", "":
		return bus.NewLocal(rt.logger), nil
	default:
		return nil, fmt.Errorf("unknown bus kind %q", rt.cfg.Bus.Kind)
	}
}

// tiers builds the entitlement service and a broadcaster over the configured
// bus. fetch answers tier lookups; commands that never refresh pass nil.
func (rt *runtime) tiers(fetch entitlement.TierFetchFn) (*entitlement.Service, *broadcast.Broadcaster, error) {
	if fetch == nil {
		fetch = func(_ context.Context, userID string) (entitlement.Tier, error) {
			return "", fmt.Errorf("no tier source for %s", userID)
		}
	}

	svc, err := entitlement.New(rt.store, fetch,
		entitlement.WithTTL(rt.cfg.Entitlement.TTL),
		entitlement.WithCacheSize(rt.cfg.Entitlement.CacheSize),
		entitlement.WithLogger(rt.logger),
	)
	if err != nil {
		return nil, nil, err
	}

	b, err := rt.openBus()
	if err != nil {
		return nil, nil, err
	}
	rt.closers = append(rt.closers, b.Close)

	br := broadcast.New(rt.store, b,
		broadcast.WithMemoryCache(svc),
		broadcast.WithTierSource(svc),
		broadcast.WithKeyPatterns(rt.cfg.Entitlement.KeyPatterns),
		broadcast.WithLogger(rt.logger),
		broadcast.WithMetrics(rt.metrics),
	)
	rt.closers = append(rt.closers, br.Close)
	return svc, br, nil
}

// Close releases everything in reverse order of acquisition, then writes
// the collected metrics if --metrics was given.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("close failed", "error", err)
		}
	}
	rt.closers = nil

	if rt.metricsOut != nil {
		if err := writeMetrics(rt.metricsOut, rt.registry); err != nil {
			rt.logger.Warn("write metrics", "error", err)
		}
		rt.metricsOut = nil
	}
}
