package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"patrol-export/internal/logging"
)

var tracksCmd = &cobra.Command{
	Use:   "tracks",
	Short: "Export patrol tracks",
	Long: "tracks fetches the matching patrols and their observations and writes one line per patrol. " +
		"Events are collected too when the config sets events: true.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, runOptions{})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Export patrol tracks and the events of their segments",
	Long:  "events exports tracks, then collects and flattens the field events of every tracked segment.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, runOptions{events: true})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run an events export against a recorded snapshot",
	Long:  "replay runs the events export offline, reading platform responses from --snapshot-dir.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, runOptions{events: true, offline: true})
	},
}

func runCommand(cmd *cobra.Command, opts runOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if opts.offline && cfg.SnapshotDir == "" {
		return fmt.Errorf("snapshot directory required: set --snapshot-dir or snapshot_dir")
	}
	if cfg.Events {
		opts.events = true
	}
	opts.printOnly = flagPrintOnly

	log, err := logging.New(os.Stderr, flagLogLevel, flagLogFormat)
	if err != nil {
		return err
	}
	ctx := logging.NewContext(cmd.Context(), log)
	return runExport(ctx, cfg, opts, os.Stdout, os.Stderr)
}
