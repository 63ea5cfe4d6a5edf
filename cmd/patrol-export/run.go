package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"patrol-export/internal/config"
	"patrol-export/internal/earthranger"
	"patrol-export/internal/events"
	"patrol-export/internal/export"
	"patrol-export/internal/logging"
	"patrol-export/internal/pipeline"
	"patrol-export/internal/report"
	"patrol-export/internal/source"
)

type runOptions struct {
	events    bool
	offline   bool
	printOnly bool
}

// runExport wires source, coordinator and sinks for one run and prints the
// summary to stderr.
func runExport(ctx context.Context, cfg *config.ExportConfig, opts runOptions, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logging.FromContext(ctx)

	filter, err := cfg.Filter()
	if err != nil {
		return err
	}
	src, closeSrc, err := newSource(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSrc(); err != nil {
			log.Error("closing source failed", "error", err)
		}
	}()

	runID := uuid.NewString()
	base := export.BaseName(cfg.PatrolType, cfg.Since, cfg.Until)
	sink, err := newWriter(cfg, runID, base, opts.printOnly, stdout)
	if err != nil {
		return err
	}

	var (
		bar      *report.ProgressBar
		progress events.Progress
	)
	if f, ok := stderr.(*os.File); ok && opts.events && report.IsTerminal(f) {
		bar = report.NewProgressBar(f)
		progress = bar.Update
	}

	res, runErr := pipeline.NewCoordinator(src, sink).Run(ctx, pipeline.Options{
		RunID:        runID,
		Filter:       filter,
		Leader:       cfg.Leader,
		Events:       opts.events,
		Workers:      cfg.Workers,
		FetchTimeout: cfg.FetchTimeout,
		Progress:     progress,
	})
	if bar != nil {
		bar.Finish()
	}
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = err
	}

	files := sink.Files()
	if runErr == nil && cfg.Output.Zip && len(files) > 0 {
		zipPath := filepath.Join(cfg.Output.Dir, base+".zip")
		if err := export.Bundle(zipPath, files); err != nil {
			return fmt.Errorf("zip bundle: %w", err)
		}
		files = append(files, zipPath)
	}
	if res != nil {
		if err := report.Print(stderr, summarize(res, files)); err != nil {
			log.Warn("printing summary failed", "error", err)
		}
	}
	return runErr
}

func summarize(res *pipeline.Result, files []string) report.Run {
	r := report.Run{
		RunID:         res.RunID,
		Tracks:        res.Tracks,
		PointsDropped: res.Report.PointsDropped,
		PointsNoTime:  res.Report.PointsNoTime,
		Files:         files,
	}
	if res.Events != nil {
		r.EventsRun = true
		r.Events = res.Events.Table.Len()
		r.EventsDropped = res.Events.Dropped
		r.Diagnostics = res.Events.Diagnostics
	}
	return r
}

// newSource picks the snapshot when one is configured, otherwise the live
// platform client, optionally recording its responses.
func newSource(cfg *config.ExportConfig, log *slog.Logger) (pipeline.Source, func() error, error) {
	noop := func() error { return nil }
	if cfg.SnapshotDir != "" {
		snap, err := source.Open(cfg.SnapshotDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot: %w", err)
		}
		log.Info("reading snapshot", "dir", cfg.SnapshotDir)
		return snap, noop, nil
	}
	if cfg.Server == "" {
		return nil, nil, fmt.Errorf("server required: set server in the config or ER_SERVER")
	}
	client := earthranger.New(cfg.Server, cfg.Token,
		earthranger.WithRateLimit(cfg.RequestsPerSecond),
		earthranger.WithLogger(log),
	)
	if cfg.RecordDir == "" {
		return client, noop, nil
	}
	rec, err := source.NewRecorder(client, cfg.RecordDir)
	if err != nil {
		return nil, nil, fmt.Errorf("record dir: %w", err)
	}
	log.Info("recording platform responses", "dir", cfg.RecordDir)
	return rec, rec.Close, nil
}
