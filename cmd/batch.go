package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/candidate-intake/internal/batch"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Reprocess the mail backlog with checkpointing",
	Long:  "Commands for running one increment of the reprocessing job, inspecting its checkpoint, and resetting it.",
}

// -- batch run --

var batchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one increment until the backlog is done or the time budget is spent",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Processor.Run(ctx)
		if err != nil {
			return err
		}
		return printReport(os.Stdout, report)
	},
}

// -- batch status --

var batchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved checkpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Processor.Status(ctx)
		if err != nil {
			return err
		}
		return printReport(os.Stdout, report)
	},
}

// -- batch reset --

var batchResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the saved checkpoint so the next run starts over",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Processor.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "checkpoint for %q cleared\n", cfg.Batch.JobName)
		return nil
	},
}

func init() {
	batchCmd.AddCommand(batchRunCmd, batchStatusCmd, batchResetCmd)
	rootCmd.AddCommand(batchCmd)
}

func printReport(out io.Writer, r *batch.Report) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "JOB\t%s\n", r.JobName)
	fmt.Fprintf(tw, "STATE\t%s\n", r.State)
	if r.State != batch.StateIdle {
		fmt.Fprintf(tw, "PROCESSED THIS RUN\t%d\n", r.Processed)
	}
	if p := r.Progress; p != nil {
		fmt.Fprintf(tw, "CURSOR\t%d/%d\n", p.OuterIndex, p.InnerIndex)
		fmt.Fprintf(tw, "PROCESSED KEYS\t%d\n", len(p.ProcessedKeys))
		fmt.Fprintf(tw, "CREATED\t%d\n", p.Stats.Created)
		fmt.Fprintf(tw, "UPDATED\t%d\n", p.Stats.Updated)
		fmt.Fprintf(tw, "SKIPPED\t%d\n", p.Stats.Skipped)
		fmt.Fprintf(tw, "ERROR\t%d\n", p.Stats.Error)
		if !p.UpdatedAt.IsZero() {
			fmt.Fprintf(tw, "UPDATED AT\t%s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	}
	return tw.Flush()
}
