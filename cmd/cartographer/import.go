package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/cartographer/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <file|dir>...",
	Short: "Process export files from disk",
	Long: `Run each export file through the pipeline in the foreground. Directories
contribute the *.json files directly inside them. Content that was already
imported is skipped unless --force is given. Each file is a complete export,
so the last one imported is the one the API serves.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().String("state", importer.DefaultStatePath, "File recording imported exports")
	importCmd.Flags().Bool("force", false, "Re-import exports recorded in the state file")
	importCmd.Flags().Bool("dry-run", false, "Parse and report without processing")
}

func runImport(cmd *cobra.Command, args []string) error {
	statePath, _ := cmd.Flags().GetString("state")
	force, _ := cmd.Flags().GetBool("force")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var proc importer.Processor = dryRunProcessor{}
	if !dryRun {
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		proc = a.pipeline
	}

	runner := importer.NewRunner(importer.Config{
		Paths:     args,
		StatePath: statePath,
		Force:     force,
		DryRun:    dryRun,
	}, proc, slog.Default())

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d, failed %d\n", report.Imported, report.Skipped, report.Failed)
	if report.LastRunID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "serving run %s\n", report.LastRunID)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d exports failed", report.Failed)
	}
	return nil
}

// dryRunProcessor stands in for the pipeline when nothing may be written.
type dryRunProcessor struct{}

func (dryRunProcessor) Process(context.Context, []byte) (string, error) {
	return "", fmt.Errorf("dry run does not process exports")
}
