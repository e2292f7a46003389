package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/daemon"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/coord"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/planner"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/worker"
)

func init() {
	workerCmd.Flags().StringVar(&workerID, "id", "", "Worker id (default worker_<random>)")
	workerCmd.Flags().StringVar(&workerListen, "listen", "127.0.0.1:8001", "Address the worker HTTP service binds")
	workerCmd.Flags().StringVar(&workerAdvertise, "advertise", "", "Endpoint registered for dispatch (default derived from --listen)")
	workerCmd.Flags().StringSliceVar(&workerCaps, "capabilities", domain.CapabilityStrings(),
		"Comma-separated capabilities this worker advertises")
	workerCmd.Flags().StringVar(&workerExecutor, "executor", "", "Executor: local or llm (overrides config)")
	rootCmd.AddCommand(workerCmd)
}

var (
	workerID        string
	workerListen    string
	workerAdvertise string
	workerCaps      []string
	workerExecutor  string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start an execution worker",
	Long: `Start a worker node: registers with the coordination store, accepts
one subtask at a time over HTTP, and heartbeats every few seconds.

Standalone workers need coord_store.driver = "redis" (or REDIS_URL set);
the memory driver is process-local and only reachable from the daemon.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	if cfg.CoordStore.Driver != "redis" {
		return fmt.Errorf("standalone workers need coord_store.driver=redis, have %q", cfg.CoordStore.Driver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coordStore, err := coord.NewRedis(ctx, cfg.CoordStore.URL)
	if err != nil {
		return fmt.Errorf("connect coord store: %w", err)
	}
	defer coordStore.Close()

	id := workerID
	if id == "" {
		u := uuid.New()
		id = "worker_" + hex.EncodeToString(u[:])[:8]
	}

	caps := make([]domain.Capability, 0, len(workerCaps))
	for _, s := range workerCaps {
		c, err := domain.ParseCapability(s)
		if err != nil {
			return err
		}
		caps = append(caps, c)
	}

	executor := workerExecutor
	if executor == "" {
		executor = cfg.Worker.Executor
	}
	var exec worker.Executor
	switch executor {
	case "local", "":
		exec = worker.NewLocal(id)
	case "llm":
		exec, err = worker.NewLLM(planner.Config{
			Model:      cfg.Planner.Model,
			UseBedrock: cfg.Planner.UseBedrock,
			AWSRegion:  cfg.Planner.AWSRegion,
			AWSProfile: cfg.Planner.AWSProfile,
		}, id)
		if err != nil {
			return fmt.Errorf("build llm executor: %w", err)
		}
	default:
		return fmt.Errorf("unknown executor %q (want local or llm)", executor)
	}

	svc, err := worker.NewService(worker.Config{
		ID:                id,
		ListenAddr:        workerListen,
		AdvertiseURL:      workerAdvertise,
		Capabilities:      caps,
		HeartbeatInterval: time.Duration(cfg.Worker.HeartbeatIntervalSeconds) * time.Second,
	}, coordStore, exec)
	if err != nil {
		return err
	}

	fmt.Printf("Worker %s serving on %s (capabilities: %v)\n", id, workerListen, workerCaps)
	return svc.Run(ctx)
}
