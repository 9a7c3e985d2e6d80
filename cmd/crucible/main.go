package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/crucible/pkg/api"
	"github.com/cuemby/crucible/pkg/config"
	"github.com/cuemby/crucible/pkg/engine"
	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/metrics"
	"github.com/cuemby/crucible/pkg/runtime"
	"github.com/cuemby/crucible/pkg/security"
	"github.com/cuemby/crucible/pkg/store"
)

// trackedExecutor wraps a Supervisor so the composition root can wait,
// within a bound, for in-flight jobs to reach their own deadline or
// completion before it tears down the store and runtime client.
type trackedExecutor struct {
	supervisor *engine.Supervisor
	wg         sync.WaitGroup
}

func (t *trackedExecutor) Execute(ctx context.Context, jobID string) {
	t.wg.Add(1)
	defer t.wg.Done()
	t.supervisor.Execute(ctx, jobID)
}

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "crucible",
	Short:   "Crucible - multi-tenant sandboxed code execution service",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Crucible version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("config", "", "Path to a YAML config file (defaults are used for anything left unset)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	serverLog := log.WithComponent("server")
	metrics.SetVersion(Version)

	db, err := store.OpenDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	st, err := store.NewBoltStore(db)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	metrics.RegisterComponent("store", true, "")

	keys, err := security.NewKeyStore(db)
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}

	rt, err := runtime.NewContainerdRuntime(cfg.RuntimeSocket)
	if err != nil {
		return fmt.Errorf("failed to connect to containerd: %w", err)
	}
	defer rt.Close()
	metrics.RegisterComponent("runtime", true, "")

	ctx := context.Background()
	serverLog.Info().Msg("sweeping for orphaned sandboxes from a previous run")
	if err := engine.Sweep(ctx, st, rt); err != nil {
		serverLog.Error().Err(err).Msg("startup sweep failed, continuing anyway")
	}

	collector := metrics.NewCollector()
	supervisor := engine.New(st, rt, cfg, collector)
	executor := &trackedExecutor{supervisor: supervisor}

	srv := api.NewServer(st, keys, executor)
	metrics.RegisterComponent("api", true, "")

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		serverLog.Info().Str("addr", addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		serverLog.Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}

	jobsDone := make(chan struct{})
	go func() {
		executor.wg.Wait()
		close(jobsDone)
	}()

	select {
	case <-jobsDone:
		serverLog.Info().Msg("all in-flight jobs finished")
	case <-shutdownCtx.Done():
		serverLog.Warn().Msg("shutdown timeout reached with jobs still in flight")
	}

	serverLog.Info().Msg("shutdown complete")
	return nil
}
