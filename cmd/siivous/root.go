package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yairfalse/siivous/internal/config"
)

const (
	exitOK          = 0
	exitFatal       = 1
	exitConfigError = 2
)

var (
	version = "0.1.0"

	configPath       string
	dryRun           bool
	volumesAgeDays   int
	snapshotsAgeDays int
	instanceTTLHours int
	scopes           []string
	safeWords        []string
	concurrency      int
	instanceAction   string
	output           string
	debug            bool

	rootCmd = &cobra.Command{
		Use:   "siivous",
		Short: "Policy-driven cloud resource sweeper",
		Long: `siivous - policy-driven cloud resource sweeper

siivous finds instances, volumes and snapshots nobody protected and
removes them once they expire. Instances are stamped with a discovery
tag on first sight and stopped or terminated after their TTL; volumes
and snapshots are deleted once older than their age threshold, unless
an image still references them.

Dry run is the default. Pass --dry-run=false to act.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSweep,
	}
)

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps an error onto the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var cerr *config.ConfigError
	if errors.As(err, &cerr) {
		return exitConfigError
	}
	return exitFatal
}

// init sets up the root command
func init() {
	rootCmd.SetVersionTemplate(`siivous {{.Version}}
`)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &config.ConfigError{Err: err}
	})

	addSweepFlags(rootCmd.PersistentFlags())
}

// addSweepFlags binds the flags shared by sweep and daemon.
func addSweepFlags(f *pflag.FlagSet) {
	f.StringVarP(&configPath, "config", "c", "", "Config file (TOML or YAML)")
	f.BoolVar(&dryRun, "dry-run", true, "Report what would happen without changing anything")
	f.IntVar(&volumesAgeDays, "volumes-age-days", 7, "Minimum age before an unattached volume is deleted")
	f.IntVar(&snapshotsAgeDays, "snapshots-age-days", 30, "Minimum age before a snapshot is deleted")
	f.IntVar(&instanceTTLHours, "instance-ttl-hours", 24, "Hours after discovery before an instance expires")
	f.StringSliceVar(&scopes, "scope", []string{"all"}, "Scopes to sweep: all, aws/<region>, azure/<subscription> or a bare region")
	f.StringSliceVar(&safeWords, "safe-words", nil, "Safe words protecting resources (overrides every kind's list)")
	f.IntVar(&concurrency, "concurrency", 50, "Resources evaluated at once")
	f.StringVar(&instanceAction, "instance-action", "terminate", "Action for expired instances: terminate or stop")
	f.StringVarP(&output, "output", "o", "table", "Report format: table or json")
	f.BoolVar(&debug, "debug", false, "Enable debug logging")
}
