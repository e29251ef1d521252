package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/castmatch/outreach-cli/internal/pipeline"
)

var sweepBatch int

var sweepCmd = &cobra.Command{
	Use:       "sweep [enrichment|description|vetting|limited|reconcile]",
	Short:     "Run one pipeline sweep and exit",
	Long:      "Runs a single stage sweep against the configured store and journals the outcome, for operations and debugging. The limited sweep re-attempts match creation for quota-parked records using their stored scores.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"enrichment", "description", "vetting", "limited", "reconcile"},
	RunE:      runSweep,
}

func init() {
	sweepCmd.Flags().IntVar(&sweepBatch, "batch", 0, "records to claim (default from config)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	name := args[0]
	if err := cfg.Validate(sweepMode(name)); err != nil {
		return err
	}

	env, err := initPipeline(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	t, err := env.Engine.Task(name, sweepBatch)
	if err != nil {
		return err
	}

	res, err := pipeline.NewScheduler(env.Journal).RunTask(ctx, t)
	if err != nil {
		return eris.Wrapf(err, "sweep %s", name)
	}

	zap.L().Info("sweep complete",
		zap.String("task", name),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
	)
	fmt.Printf("%s: %d processed, %d failed\n", name, res.Processed, res.Failed)
	return nil
}

// sweepMode maps a task to the config surface it needs: enrichment calls
// Podscan, description and vetting call Anthropic, limited and reconcile
// touch only the store.
func sweepMode(task string) string {
	switch task {
	case "enrichment":
		return "enrichment"
	case "description", "vetting":
		return "aigen"
	default:
		return "ops"
	}
}
