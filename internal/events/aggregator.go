// Package events collects the field events of patrol segments into one
// flattened table.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"patrol-export/internal/logging"
	"patrol-export/internal/patrol"
)

// Source fetches events and their details for patrol segments.
type Source interface {
	ListSegmentEvents(ctx context.Context, segmentID string) ([]patrol.EventRecord, error)
	FetchEventDetails(ctx context.Context, eventIDs []string) ([]patrol.EventDetail, error)
}

// Defaults for Aggregator settings.
const (
	DefaultWorkers      = 4
	DefaultFetchTimeout = 30 * time.Second
)

// Result is the outcome of an aggregation: the table of every recovered
// event plus one diagnostic per recoverable failure. Callers must look at both.
type Result struct {
	Table       *patrol.EventTable
	Diagnostics []patrol.Diagnostic
	// Dropped counts events without a recoverable geometry.
	Dropped int
	// Segments is the number of segments processed.
	Segments int
}

// Progress is called once per finished segment. It may be called from
// several goroutines.
type Progress func(done, total int)

// Aggregator runs per-segment fetches on a bounded worker pool.
type Aggregator struct {
	src          Source
	workers      int
	fetchTimeout time.Duration
	progress     Progress
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWorkers bounds the number of segments fetched at once.
func WithWorkers(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithFetchTimeout sets the deadline of every single fetch call.
func WithFetchTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.fetchTimeout = d
		}
	}
}

// WithProgress registers a per-segment completion callback.
func WithProgress(p Progress) Option {
	return func(a *Aggregator) { a.progress = p }
}

// NewAggregator creates an Aggregator over src.
func NewAggregator(src Source, opts ...Option) *Aggregator {
	a := &Aggregator{src: src, workers: DefaultWorkers, fetchTimeout: DefaultFetchTimeout}
	for _, o := range opts {
		o(a)
	}
	return a
}

// segmentResult is the shard written by exactly one task.
type segmentResult struct {
	events  []rawEvent
	diags   []patrol.Diagnostic
	dropped int
}

// AggregateEvents fetches the events of every segment, recovers their
// geometry, joins their details and flattens the result into one table.
//
// A failing segment is reported in Result.Diagnostics and skipped; it never
// cancels the other segments. An empty segment list is an input error.
func (a *Aggregator) AggregateEvents(ctx context.Context, segmentIDs []string) (*Result, error) {
	if len(segmentIDs) == 0 {
		return nil, patrol.ErrNoSegments
	}
	log := logging.FromContext(ctx)

	shards := make([]segmentResult, len(segmentIDs))
	var (
		mu   sync.Mutex
		done int
	)
	// No errgroup.WithContext: a failed segment must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(a.workers)
	for i, id := range segmentIDs {
		g.Go(func() error {
			shards[i] = a.segment(ctx, log, id)
			if a.progress != nil {
				mu.Lock()
				done++
				n := done
				mu.Unlock()
				a.progress(n, len(segmentIDs))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Segments: len(segmentIDs)}
	var all []rawEvent
	for _, s := range shards {
		all = append(all, s.events...)
		res.Diagnostics = append(res.Diagnostics, s.diags...)
		res.Dropped += s.dropped
	}
	res.Table = flatten(all)
	log.Info("events aggregated",
		"segments", len(segmentIDs),
		"events", res.Table.Len(),
		"dropped_no_geometry", res.Dropped,
		"diagnostics", len(res.Diagnostics))
	return res, nil
}

// segment runs the fetch, recover and join steps of one segment. The detail
// fetch completes before the join.
func (a *Aggregator) segment(ctx context.Context, log *slog.Logger, segmentID string) segmentResult {
	var out segmentResult
	log = log.With("segment_id", segmentID)

	records, err := withTimeout(ctx, a.fetchTimeout, func(ctx context.Context) ([]patrol.EventRecord, error) {
		return a.src.ListSegmentEvents(ctx, segmentID)
	})
	if err != nil {
		log.Warn("segment skipped", "err", err)
		out.diags = append(out.diags, patrol.Diagnostic{SegmentID: segmentID, Kind: patrol.ErrSegmentFetch, Err: err})
		return out
	}

	for _, rec := range records {
		ev, ok := recoverGeometry(rec, segmentID)
		if !ok {
			out.dropped++
			continue
		}
		out.events = append(out.events, ev)
	}
	if len(out.events) == 0 {
		return out
	}

	ids := make([]string, len(out.events))
	for i, ev := range out.events {
		ids[i] = ev.record.ID
	}
	details, err := withTimeout(ctx, a.fetchTimeout, func(ctx context.Context) ([]patrol.EventDetail, error) {
		return a.src.FetchEventDetails(ctx, ids)
	})
	if err != nil {
		log.Warn("event details unavailable, keeping base fields", "err", err)
		out.diags = append(out.diags, patrol.Diagnostic{SegmentID: segmentID, Kind: patrol.ErrDetailFetch, Err: err})
		return out
	}
	join(out.events, details)
	return out
}

type outcome[T any] struct {
	v   T
	err error
}

// withTimeout runs fn with a deadline and returns when the deadline passes
// even if fn ignores its context.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ch := make(chan outcome[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome[T]{v, err}
	}()
	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("fetch timed out after %s: %w", d, ctx.Err())
	}
}
