package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/costscope/costscope/internal/config"
	"github.com/costscope/costscope/internal/observability"
	"github.com/costscope/costscope/internal/stages"
	"github.com/costscope/costscope/pkg/locker"
	"github.com/costscope/costscope/pkg/orchestrator"
	"github.com/costscope/costscope/pkg/pipeline"
	"github.com/costscope/costscope/pkg/runstore"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage pipeline jobs",
	Long: `Manage cost estimation jobs against the local run store.

This command group is designed to be agent-friendly:

- stable job ids
- explicit state transitions
- optional JSON output for machine parsing`,
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job in the created state",
	RunE:  runJobsCreate,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show a job and its stage attempt history",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsAdvanceCmd = &cobra.Command{
	Use:   "advance <job_id>",
	Short: "Run the next pipeline stage for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsAdvance,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job_id>",
	Short: "Advance a job until it completes or fails",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRun,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job_id>",
	Short: "Rewind a failed job so the failed stage runs again",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRetry,
}

var (
	jobsCreateName string
	jobsCreateSpec string
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsCreateCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsAdvanceCmd)
	jobsCmd.AddCommand(jobsRunCmd)
	jobsCmd.AddCommand(jobsRetryCmd)

	jobsCreateCmd.Flags().StringVar(&jobsCreateName, "name", "", "Human-readable job name")
	jobsCreateCmd.Flags().StringVar(&jobsCreateSpec, "spec", "", "Path to a job spec (YAML or JSON)")
	jobsCreateCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsAdvanceCmd.Flags().Bool("json", false, "Output as JSON")
	jobsRunCmd.Flags().Bool("json", false, "Output as JSON")
	jobsRetryCmd.Flags().Bool("json", false, "Output as JSON")
}

// openRunStore loads configuration and opens the migrated run store.
func openRunStore(ctx context.Context) (*config.Config, *sql.DB, *runstore.Store, error) {
	cfg, err := config.Load(ctx, flagConfig, configOverrides())
	if err != nil {
		return nil, nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	db, err := runstore.Open(ctx, runstore.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, nil, nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open run store", err)
	}
	if err := runstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to migrate run store", err)
	}
	return cfg, db, runstore.New(db), nil
}

// newOrchestrator assembles the orchestrator the same way serve does,
// minus the HTTP surface.
func newOrchestrator(ctx context.Context, cfg *config.Config, db *sql.DB, store *runstore.Store) (*orchestrator.Orchestrator, error) {
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
		return nil, err
	}

	registry := stages.NewRegistry(stages.Endpoints{
		Planning:  cfg.Stages.PlanningEndpoint,
		Enriching: cfg.Stages.EnrichingEndpoint,
		Costing:   cfg.Stages.CostingEndpoint,
	}, plans, cfg.Stages.RequestTimeout)

	return orchestrator.New(store, locks, registry, orchestrator.Config{
		StageTimeout: cfg.Orchestrator.StageTimeout,
		MaxAttempts:  cfg.Orchestrator.MaxAttempts,
	}, observability.CLILogger), nil
}

func runJobsCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, db, store, err := openRunStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	job, err := store.CreateJob(ctx, jobsCreateName, jobsCreateSpec)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to create job", err)
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(job)
	}
	fmt.Printf("Created job %s (state: %s)\n", job.ID, job.State)
	return nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, db, store, err := openRunStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list jobs", err)
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(jobs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tNAME\tSTATE\tCREATED\tUPDATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Name, j.State,
			j.CreatedAt.Format("2006-01-02 15:04:05"),
			j.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, db, store, err := openRunStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	job, err := store.GetJob(ctx, args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Job not found", err)
	}
	execs, err := store.ListExecutions(ctx, job.ID)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list executions", err)
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(map[string]any{"job": job, "executions": execs})
	}

	fmt.Printf("Job:     %s\n", job.ID)
	if job.Name != "" {
		fmt.Printf("Name:    %s\n", job.Name)
	}
	fmt.Printf("State:   %s\n", job.State)
	fmt.Printf("Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated: %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05"))

	if len(execs) == 0 {
		fmt.Println("\nNo stage executions yet.")
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tATTEMPT\tSTATUS\tDURATION\tERROR")
	for i := range execs {
		e := &execs[i]
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			e.Stage, e.Attempt, e.Status, e.Duration(), e.Error)
	}
	return w.Flush()
}

func runJobsAdvance(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, db, store, err := openRunStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	orch, err := newOrchestrator(ctx, cfg, db, store)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to build orchestrator", err)
	}

	res, err := orch.Advance(ctx, args[0])
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Advance failed", err)
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(res)
	}
	if res.Execution != nil {
		fmt.Printf("Stage %s attempt %d: %s\n", res.Execution.Stage, res.Execution.Attempt, res.Execution.Status)
	}
	fmt.Printf("Job %s is now %s\n", res.Job.ID, res.Job.State)
	return nil
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, db, store, err := openRunStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	orch, err := newOrchestrator(ctx, cfg, db, store)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to build orchestrator", err)
	}

	job, err := orch.Run(ctx, args[0])
	if err != nil {
		if job != nil && job.State == pipeline.StateFailed {
			fmt.Printf("Job %s failed: %v\n", job.ID, err)
			return exitError(foundry.ExitExternalServiceUnavailable, "Pipeline run failed", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Run failed", err)
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(job)
	}
	fmt.Printf("Job %s finished in state %s\n", job.ID, job.State)
	return nil
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, db, store, err := openRunStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	orch, err := newOrchestrator(ctx, cfg, db, store)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to build orchestrator", err)
	}

	job, err := orch.Retry(ctx, args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Retry failed", err)
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(job)
	}
	fmt.Printf("Job %s rewound to %s; advance to re-run the failed stage\n", job.ID, job.State)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
