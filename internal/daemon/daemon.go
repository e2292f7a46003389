package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/api"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/health"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/coord"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/metrics"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/store"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/log"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/orchestrator"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/planner"
)

// Daemon is the orchestrator runtime. It owns the stores, the control
// plane, and the HTTP API, and runs the dispatch and result loops.
type Daemon struct {
	Config Config
	Store  domain.DurableStore
	Coord  domain.CoordStore
	Core   *orchestrator.Core
	Health *health.Checker

	cancel context.CancelFunc
	logger *logrus.Entry
}

// New loads the on-disk config and wires a Daemon from it.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig wires a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	ctx := context.Background()

	durable, err := openDurable(ctx, cfg.DurableStore)
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}

	coordStore, err := openCoord(ctx, cfg.CoordStore)
	if err != nil {
		_ = durable.Close()
		return nil, fmt.Errorf("open coord store: %w", err)
	}

	p, err := buildPlanner(cfg.Planner)
	if err != nil {
		_ = coordStore.Close()
		_ = durable.Close()
		return nil, fmt.Errorf("build planner: %w", err)
	}

	registry := orchestrator.NewRegistry(coordStore,
		time.Duration(cfg.Orchestrator.LivenessWindowSeconds)*time.Second,
		domain.SelectionPolicy(cfg.Orchestrator.SelectionPolicy))
	core := orchestrator.NewCore(durable, coordStore, p, registry)
	checker := health.NewChecker(durable, coordStore, cfg.Planner.Provider)

	return &Daemon{
		Config: cfg,
		Store:  durable,
		Coord:  coordStore,
		Core:   core,
		Health: checker,
		logger: log.WithComponent("daemon"),
	}, nil
}

func openDurable(ctx context.Context, cfg DurableStoreConfig) (domain.DurableStore, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return store.OpenSQLite(cfg.Path)
	case "postgres":
		if cfg.URL == "" {
			return nil, fmt.Errorf("postgres driver needs durable_store.url or DATABASE_URL")
		}
		return store.NewPostgres(ctx, cfg.URL, int32(cfg.PoolMin), int32(cfg.PoolMax))
	default:
		return nil, fmt.Errorf("unknown durable_store driver %q", cfg.Driver)
	}
}

func openCoord(ctx context.Context, cfg CoordStoreConfig) (domain.CoordStore, error) {
	switch cfg.Driver {
	case "memory", "":
		return coord.NewMemory(), nil
	case "redis":
		if cfg.URL == "" {
			return nil, fmt.Errorf("redis driver needs coord_store.url or REDIS_URL")
		}
		return coord.NewRedis(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown coord_store driver %q", cfg.Driver)
	}
}

func buildPlanner(cfg PlannerConfig) (domain.Planner, error) {
	switch cfg.Provider {
	case planner.ProviderAnthropic, "":
		return planner.NewAnthropic(planner.Config{
			Model:      cfg.Model,
			Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
			UseBedrock: cfg.UseBedrock,
			AWSRegion:  cfg.AWSRegion,
			AWSProfile: cfg.AWSProfile,
		})
	case planner.ProviderFallback:
		return planner.Fallback{}, nil
	default:
		return nil, fmt.Errorf("unknown planner provider %q", cfg.Provider)
	}
}

// Serve starts the orchestration loops and the HTTP server, then blocks
// until a signal arrives or ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	oc := d.Config.Orchestrator
	dcfg := orchestrator.DispatcherConfig{
		DequeueTimeout:  time.Duration(oc.DequeueTimeoutSeconds) * time.Second,
		DispatchTimeout: time.Duration(oc.DispatchTimeoutSeconds) * time.Second,
		BackoffInitial:  time.Duration(oc.BackoffInitialMS) * time.Millisecond,
		BackoffMax:      time.Duration(oc.BackoffMaxMS) * time.Millisecond,
	}
	// One Dispatcher per goroutine: backoff state is per instance.
	for i := 0; i < oc.DispatcherConcurrency; i++ {
		go d.Core.NewDispatcher(dcfg).Run(ctx)
	}

	pcfg := orchestrator.ProcessorConfig{
		DequeueTimeout: time.Duration(oc.DequeueTimeoutSeconds) * time.Second,
		StateTTL:       time.Duration(d.Config.CoordStore.StateTTLSeconds) * time.Second,
	}
	for i := 0; i < oc.ResultProcessorConcurrency; i++ {
		go d.Core.NewResultProcessor(pcfg).Run(ctx)
	}

	go d.sampleGauges(ctx)

	addr := d.Config.API.Addr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      api.NewServer(d.Core, d.Health).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.logger.WithFields(logrus.Fields{
		"addr":          addr,
		"durable_store": d.Config.DurableStore.Driver,
		"coord_store":   d.Config.CoordStore.Driver,
		"planner":       d.Config.Planner.Provider,
	}).Info("daemon serving")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// sampleGauges exports queue depth and live worker count every few
// seconds. Values are advisory; scrape gaps are fine.
func (d *Daemon) sampleGauges(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			work, result, err := d.Core.QueueDepths(ctx)
			if err != nil {
				d.logger.WithError(err).Debug("queue depth sample failed")
				continue
			}
			metrics.WorkQueueDepth.Set(float64(work))
			metrics.ResultQueueDepth.Set(float64(result))

			workers, err := d.Core.Registry().Snapshot(ctx)
			if err != nil {
				d.logger.WithError(err).Debug("worker snapshot failed")
				continue
			}
			metrics.WorkersLive.Set(float64(len(workers)))
		}
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Coord != nil {
		_ = d.Coord.Close()
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
}
