// Package driver implements JobDriver: the top-level entry point that
// enumerates collections, applies include/exclude filters, schedules
// CollectionProcessor runs, and aggregates a RunLog.
package driver

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/gateway"
	"github.com/mongoreindex/mongoreindex/internal/processor"
	"github.com/mongoreindex/mongoreindex/internal/statestore"
)

// errFailedCollections is wrapped into a KindFatal mongoreindex.Error when
// at least one collection ends the run in a failed state.
var errFailedCollections = errors.New("one or more collections failed to rebuild")

// CollectionFilters holds the collection-level include/exclude glob
// patterns; index-level filters are resolved one layer down, per
// collection, by the processor.
type CollectionFilters struct {
	Specified []string
	Ignored   []string
	Index     processor.Filters
}

func (f CollectionFilters) match(name string) bool {
	if len(f.Specified) > 0 && !anyMatch(f.Specified, name) {
		return false
	}
	return !anyMatch(f.Ignored, name)
}

// anyMatch reports whether name matches any of patterns, anchored, with
// "*" matching any run of characters that excludes "." (spec.md §4.6),
// mirroring processor.anyMatch's dots-for-slashes trick over path.Match.
func anyMatch(patterns []string, name string) bool {
	mn := dotsToSlashes(name)
	for _, p := range patterns {
		if ok, err := path.Match(dotsToSlashes(p), mn); err == nil && ok {
			return true
		}
	}
	return false
}

func dotsToSlashes(s string) string {
	return strings.ReplaceAll(s, ".", "/")
}

// Driver is the JobDriver.
type Driver struct {
	gw    gateway.Gateway
	store *statestore.Store
	proc  *processor.Processor

	// FailFast stops scheduling further collections after the first
	// failure (not abort — aborts always stop regardless of this flag).
	FailFast bool
	// Parallelism bounds how many collections are processed concurrently.
	// 1 (the default) processes collections sequentially, matching
	// spec.md's "sequential by default" scheduling model. Above 1, the
	// shared JobState tree is safe to mutate from multiple goroutines:
	// processor.Process and the orchestrator guard every field write and
	// StateStore.Save marshal with JobState.LockState/UnlockState.
	Parallelism int
}

// New creates a Driver. Parallelism defaults to 1 if set to zero or less.
func New(gw gateway.Gateway, store *statestore.Store, proc *processor.Processor) *Driver {
	return &Driver{gw: gw, store: store, proc: proc, Parallelism: 1}
}

// Run enumerates collections in db, applies filters, and schedules
// CollectionProcessor.Process for each one kept, aggregating a RunLog.
// js is mutated in place and persisted by the processor/orchestrator as
// the run proceeds.
func (d *Driver) Run(ctx context.Context, db string, js *mongoreindex.JobState, filters CollectionFilters, interactive bool) (*mongoreindex.RunLog, error) {
	allColls, err := d.gw.ListCollections(ctx, db)
	if err != nil {
		return nil, err
	}

	var targets []string
	for _, c := range allColls {
		if filters.match(c) {
			targets = append(targets, c)
		}
	}

	log := &mongoreindex.RunLog{
		ClusterName: js.ClusterName,
		DBName:      js.DBName,
		StartedAt:   js.StartedAt,
	}

	parallelism := d.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	var mu sync.Mutex
	aborted := false
	failedAny := false

	if parallelism == 1 {
		for _, coll := range targets {
			if aborted || (failedAny && d.FailFast) {
				break
			}
			res := d.proc.Process(ctx, db, coll, js, filters.Index, interactive)
			d.recordResult(log, js, coll, res)
			switch res {
			case processor.ResultAborted:
				aborted = true
			case processor.ResultFailed:
				failedAny = true
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		sem := make(chan struct{}, parallelism)
		for _, coll := range targets {
			coll := coll
			mu.Lock()
			stop := aborted || (failedAny && d.FailFast)
			mu.Unlock()
			if stop {
				break
			}

			sem <- struct{}{}
			g.Go(func() error {
				defer func() { <-sem }()
				res := d.proc.Process(gctx, db, coll, js, filters.Index, interactive)

				mu.Lock()
				d.recordResult(log, js, coll, res)
				switch res {
				case processor.ResultAborted:
					aborted = true
				case processor.ResultFailed:
					failedAny = true
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	log.EndedAt = time.Now()

	if aborted {
		return log, mongoreindex.NewAbortedError("job_driver")
	}
	if failedAny {
		return log, mongoreindex.NewError(mongoreindex.KindFatal, "job_driver", errFailedCollections)
	}
	return log, nil
}

// recordResult appends a CollectionRunLog entry summarizing coll's
// outcome, pulling per-index transition detail from js's CollectionRecord
// if one was created.
func (d *Driver) recordResult(log *mongoreindex.RunLog, js *mongoreindex.JobState, coll string, res processor.Result) {
	cr := js.CollectionByName(coll)
	entry := &mongoreindex.CollectionRunLog{Name: coll}
	if cr != nil {
		entry.Status = cr.Status
		for _, rec := range cr.Indexes {
			entry.Indexes = append(entry.Indexes, &mongoreindex.IndexRunLog{
				OriginalName: rec.OriginalName,
				StartedAt:    rec.StartedAt,
				EndedAt:      rec.UpdatedAt,
				FinalPhase:   rec.Phase,
			})
		}
	} else {
		switch res {
		case processor.ResultAborted:
			entry.Status = mongoreindex.CollectionAborted
		case processor.ResultFailed:
			entry.Status = mongoreindex.CollectionFailed
		default:
			entry.Status = mongoreindex.CollectionDone
		}
	}
	log.Collections = append(log.Collections, entry)
}
