// Package pipeline sequences one export run: patrols, tracks, events, sinks.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"patrol-export/internal/events"
	"patrol-export/internal/export"
	"patrol-export/internal/logging"
	"patrol-export/internal/patrol"
	"patrol-export/internal/track"
)

// Source is everything a run reads from upstream.
type Source interface {
	ListPatrols(ctx context.Context, f patrol.PatrolFilter) ([]patrol.PatrolRecord, error)
	ListObservations(ctx context.Context, patrols []patrol.PatrolRecord) ([]patrol.ObservationPoint, error)
	events.Source
}

// Options select what a run fetches and builds.
type Options struct {
	// RunID names the run; a random one is generated when empty.
	RunID  string
	Filter patrol.PatrolFilter
	// Leader keeps only patrols whose first-segment leader matches.
	Leader string
	// Events turns on event aggregation over every segment of the tracked patrols.
	Events       bool
	Workers      int
	FetchTimeout time.Duration
	Progress     events.Progress
}

// Result is the outcome of a run.
type Result struct {
	RunID   string
	Patrols []patrol.PatrolRecord
	Tracks  []patrol.Track
	Report  track.Report
	// Events is nil unless Options.Events was set.
	Events *events.Result
}

// Coordinator runs exports against one source and an optional sink.
type Coordinator struct {
	src   Source
	sink  export.Writer
	newID func() string
}

// NewCoordinator creates a Coordinator. sink may be nil.
func NewCoordinator(src Source, sink export.Writer) *Coordinator {
	return &Coordinator{src: src, sink: sink, newID: uuid.NewString}
}

// Run fetches patrols, filters them by type and leader, reconstructs tracks
// and, when asked, aggregates the events of every segment of the tracked
// patrols. Results are handed to the sink as soon as they exist.
func (c *Coordinator) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{RunID: opts.RunID}
	if res.RunID == "" {
		res.RunID = c.newID()
	}
	log := logging.FromContext(ctx).With("run_id", res.RunID)
	ctx = logging.NewContext(ctx, log)

	patrols, err := c.src.ListPatrols(ctx, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("list patrols: %w", err)
	}
	res.Patrols = FilterPatrols(patrols, opts.Filter.PatrolType, opts.Leader)
	log.Info("patrols fetched", "fetched", len(patrols), "matched", len(res.Patrols))
	if len(res.Patrols) == 0 {
		return nil, fmt.Errorf("%w (type %q, leader %q)", patrol.ErrNoMatchingPatrols, opts.Filter.PatrolType, opts.Leader)
	}

	points, err := c.src.ListObservations(ctx, res.Patrols)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w (%d patrols)", patrol.ErrNoObservations, len(res.Patrols))
	}

	built, err := track.NewReconstructor(log).Build(res.Patrols, points)
	if err != nil {
		return nil, err
	}
	res.Tracks, res.Report = built.Tracks, built.Report
	if c.sink != nil {
		if err := c.sink.WriteTracks(ctx, res.Tracks); err != nil {
			return res, fmt.Errorf("write tracks: %w", err)
		}
	}

	if !opts.Events {
		return res, nil
	}
	agg := events.NewAggregator(c.src,
		events.WithWorkers(opts.Workers),
		events.WithFetchTimeout(opts.FetchTimeout),
		events.WithProgress(opts.Progress),
	)
	res.Events, err = agg.AggregateEvents(ctx, patrol.SegmentIDs(res.Tracks, res.Patrols))
	if err != nil {
		return res, err
	}
	if c.sink != nil {
		if err := c.sink.WriteEvents(ctx, res.Events.Table); err != nil {
			return res, fmt.Errorf("write events: %w", err)
		}
	}
	return res, nil
}

// FilterPatrols keeps patrols whose type and leader, read from the first
// segment, match. Empty criteria match everything; comparison ignores case.
func FilterPatrols(patrols []patrol.PatrolRecord, patrolType, leader string) []patrol.PatrolRecord {
	patrolType, leader = strings.TrimSpace(patrolType), strings.TrimSpace(leader)
	var out []patrol.PatrolRecord
	for _, p := range patrols {
		if patrolType != "" && !strings.EqualFold(p.Type(), patrolType) {
			continue
		}
		if leader != "" && !strings.EqualFold(p.Leader(), leader) {
			continue
		}
		out = append(out, p)
	}
	return out
}
