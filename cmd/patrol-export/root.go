package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"patrol-export/internal/config"
)

var (
	flagConfig      string
	flagSchema      string
	flagLogLevel    string
	flagLogFormat   string
	flagType        string
	flagLeader      string
	flagSince       string
	flagUntil       string
	flagOut         string
	flagFormats     []string
	flagZip         bool
	flagPrintOnly   bool
	flagSnapshotDir string
	flagRecordDir   string
	flagWorkers     int
)

var rootCmd = &cobra.Command{
	Use:   "patrol-export",
	Short: "Patrol track and event exporter",
	Long: "patrol-export turns patrol observations into track lines and collects the field events " +
		"of the patrolled segments, writing GeoJSON, CSV, JSONL or GreptimeDB.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Path to export configuration YAML")
	pf.StringVar(&flagSchema, "schema", "", "Path to CUE schema file (embedded schema when empty)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&flagType, "type", "", "Patrol type value to export (all types when empty)")
	pf.StringVar(&flagLeader, "leader", "", "Only export patrols led by this subject")
	pf.StringVar(&flagSince, "since", "", "First day of the window (YYYY-MM-DD)")
	pf.StringVar(&flagUntil, "until", "", "Last day of the window (YYYY-MM-DD)")
	pf.StringVar(&flagOut, "out", "", "Output directory")
	pf.StringSliceVar(&flagFormats, "format", nil, "Output formats: geojson, csv, jsonl, stdout, greptime")
	pf.BoolVar(&flagZip, "zip", false, "Bundle the written files into a ZIP archive")
	pf.BoolVar(&flagPrintOnly, "print-only", false, "Print results to STDOUT instead of writing files or DB")
	pf.StringVar(&flagSnapshotDir, "snapshot-dir", "", "Read platform responses from a recorded snapshot")
	pf.StringVar(&flagRecordDir, "record-dir", "", "Record platform responses to this directory")
	pf.IntVar(&flagWorkers, "workers", 0, "Concurrent segment fetches for events")

	rootCmd.AddCommand(tracksCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(replayCmd)
}

// loadConfig reads the config file, or defaults plus environment when none
// is given, then applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.ExportConfig, error) {
	var cfg *config.ExportConfig
	if flagConfig == "" {
		cfg = config.Default()
		cfg.ApplyEnv()
	} else {
		var err error
		if cfg, err = config.Load(flagConfig, flagSchema); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("type") {
		cfg.PatrolType = flagType
	}
	if flags.Changed("leader") {
		cfg.Leader = flagLeader
	}
	if flags.Changed("since") {
		cfg.Since = flagSince
	}
	if flags.Changed("until") {
		cfg.Until = flagUntil
	}
	if flags.Changed("out") {
		cfg.Output.Dir = flagOut
	}
	if flags.Changed("format") {
		cfg.Output.Formats = flagFormats
	}
	if flags.Changed("zip") {
		cfg.Output.Zip = flagZip
	}
	if flags.Changed("snapshot-dir") {
		cfg.SnapshotDir = flagSnapshotDir
	}
	if flags.Changed("record-dir") {
		cfg.RecordDir = flagRecordDir
	}
	if flags.Changed("workers") {
		cfg.Workers = flagWorkers
	}
	return cfg, nil
}
