package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/costscope/costscope/internal/config"
	"github.com/costscope/costscope/internal/observability"
	"github.com/costscope/costscope/internal/server"
	"github.com/costscope/costscope/internal/server/handlers"
	"github.com/costscope/costscope/internal/stages"
	"github.com/costscope/costscope/pkg/locker"
	"github.com/costscope/costscope/pkg/orchestrator"
	"github.com/costscope/costscope/pkg/projectstore"
	"github.com/costscope/costscope/pkg/runstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline API server",
	Long: `Run the HTTP API that accepts jobs and drives them through the
pipeline. The server owns the run store database and the stage
orchestrator; stage services are reached over their configured
endpoints.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	cfg, err := config.Load(ctx, flagConfig, configOverrides())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	db, err := runstore.Open(ctx, runstore.Config{Path: cfg.Store.Path})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open run store", err)
	}
	defer func() { _ = db.Close() }()

	if err := runstore.Migrate(ctx, db); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to migrate run store", err)
	}
	store := runstore.New(db)

	var locks locker.Manager
	switch cfg.Orchestrator.LockBackend {
	case "memory":
		locks = locker.NewMemory(cfg.Orchestrator.LockTimeout)
	default:
		locks = locker.NewLease(db, locker.LeaseOptions{
			AcquireTimeout: cfg.Orchestrator.LockTimeout,
			TTL:            cfg.Orchestrator.LeaseTTL,
		})
	}

	plans, err := buildPlanSource(ctx, cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to project store", err)
	}

	registry := stages.NewRegistry(stages.Endpoints{
		Planning:  cfg.Stages.PlanningEndpoint,
		Enriching: cfg.Stages.EnrichingEndpoint,
		Costing:   cfg.Stages.CostingEndpoint,
	}, plans, cfg.Stages.RequestTimeout)

	orch := orchestrator.New(store, locks, registry, orchestrator.Config{
		StageTimeout: cfg.Orchestrator.StageTimeout,
		MaxAttempts:  cfg.Orchestrator.MaxAttempts,
	}, logger)

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithLogger(logger),
		server.WithVersion(versionInfo.Version),
		server.WithJobs(handlers.NewJobs(store, orch, logger)),
		server.WithRateLimit(cfg.Server.RateLimitRPS),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithHealthChecker("runstore", handlers.HealthCheckerFunc(func(ctx context.Context) error {
			return db.PingContext(ctx)
		})),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case sig := <-stop:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
	}
	return nil
}

// buildPlanSource picks the object store when a bucket is configured and
// falls back to the local artifact directory otherwise.
func buildPlanSource(ctx context.Context, cfg *config.Config) (stages.PlanSource, error) {
	if cfg.Project.Bucket == "" {
		return &stages.FilePlanSource{Dir: cfg.Stages.ArtifactDir}, nil
	}
	ps, err := projectstore.New(ctx, projectstore.Config{
		Bucket:         cfg.Project.Bucket,
		Region:         cfg.Project.Region,
		Endpoint:       cfg.Project.Endpoint,
		Profile:        cfg.Project.Profile,
		ForcePathStyle: cfg.Project.ForcePathStyle,
	})
	if err != nil {
		return nil, err
	}
	return &stages.ObjectPlanSource{Store: ps, Prefix: cfg.Project.ArtifactPrefix}, nil
}
