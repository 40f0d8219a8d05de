package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/siivous/internal/report"
	"github.com/yairfalse/siivous/internal/telemetry"
)

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one sweep and print the report",
	Long: `Run one sweep over every selected scope and print one row per
evaluated resource.

The exit code is 0 when the sweep completed, even if single actions
failed; 2 for configuration errors; 1 when the sweep could not run or
was interrupted.`,
	Example: `  siivous sweep                                   # Dry run over all configured scopes
  siivous sweep --scope us-east-1 --dry-run=false # Act in one region
  siivous sweep --instance-action stop            # Stop instead of terminate
  siivous sweep --safe-words keep,prod -o json    # Custom safe words, JSON report`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	telemetry.SetupLogging(cfg.Log, debug)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	rep, err := a.engine.Sweep(ctx, a.plugins)
	if rep != nil && (err == nil || len(rep.Outcomes) > 0) {
		if rerr := report.Render(cmd.OutOrStdout(), rep, a.format, colorOutput(cmd.OutOrStdout())); rerr != nil {
			log.Error().Err(rerr).Msg("render report")
		}
	}
	if err != nil {
		return err
	}
	if rep.Interrupted {
		return fmt.Errorf("sweep interrupted: %d resources left unevaluated", rep.Unevaluated)
	}
	return nil
}

func colorOutput(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
