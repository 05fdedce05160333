// Package compaction implements CompactionStage: optional post-rebuild
// storage reclamation, either per-collection manual compact or a single
// node-wide autoCompact sweep.
package compaction

import (
	"context"
	"errors"
	"path"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/gateway"
)

// autoCompactPollInterval is the fixed interval between currentOp polls
// while waiting for an autoCompact/compact op to clear (DESIGN.md, "Open
// questions resolved", item 3).
const autoCompactPollInterval = 5 * time.Second

// Filters restricts compaction to a subset of collections. A non-empty
// Specified list is an include list; Ignored is applied after it.
type Filters struct {
	Specified []string
	Ignored   []string
}

func (f Filters) active() bool {
	return len(f.Specified) > 0 || len(f.Ignored) > 0
}

func (f Filters) match(name string) bool {
	if len(f.Specified) > 0 && !anyMatch(f.Specified, name) {
		return false
	}
	return !anyMatch(f.Ignored, name)
}

func anyMatch(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Stage runs the post-rebuild compaction step.
type Stage struct {
	gw gateway.Gateway

	// ForceManualCompact disables autoCompact and always uses
	// per-collection compact, regardless of filters.
	ForceManualCompact bool
	// FreeSpaceTargetMB is passed through to autoCompact's
	// freeSpaceTargetMB parameter.
	FreeSpaceTargetMB int
}

// New creates a Stage.
func New(gw gateway.Gateway) *Stage {
	return &Stage{gw: gw}
}

// warnFunc is called when filters are present and the caller asked for
// autoCompact, to surface the automatic fallback to the operator; nil is
// a valid no-op.
type warnFunc func(message string)

// Run reclaims storage for the collections selected by filters. If
// filters are active, manual per-collection compact is used regardless
// of useAutoCompact (autoCompact is node-scoped and would touch
// untargeted collections); warn, if non-nil, is called to surface that
// automatic fallback.
func (s *Stage) Run(ctx context.Context, db string, filters Filters, useAutoCompact bool, warn warnFunc) ([]mongoreindex.Reclamation, error) {
	colls, err := s.gw.ListCollections(ctx, db)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, c := range colls {
		if filters.match(c) {
			targets = append(targets, c)
		}
	}

	effectiveAuto := useAutoCompact && !s.ForceManualCompact
	if effectiveAuto && filters.active() {
		if warn != nil {
			warn("collection/index filters are in effect; falling back to manual per-collection compact instead of node-wide autoCompact")
		}
		effectiveAuto = false
	}

	if effectiveAuto {
		before := make(map[string]gateway.CollStats, len(targets))
		for _, coll := range targets {
			stats, err := s.gw.CollStats(ctx, db, coll)
			if err != nil {
				return nil, err
			}
			before[coll] = stats
		}
		if err := s.runAutoCompact(ctx); err != nil {
			return nil, err
		}
		return s.measure(ctx, db, targets, before)
	}
	return s.runManual(ctx, db, targets)
}

// runManual issues `compact: <coll>` for each target and returns the
// before/after storageSize for each, refusing unconditionally on a
// primary-only deployment.
func (s *Stage) runManual(ctx context.Context, db string, targets []string) ([]mongoreindex.Reclamation, error) {
	primary, err := s.gw.IsPrimary(ctx)
	if err != nil {
		return nil, err
	}
	if primary {
		return nil, mongoreindex.NewPreconditionError("compact", errors.New("compact requires a secondary; refusing on a primary-only deployment"))
	}

	out := make([]mongoreindex.Reclamation, 0, len(targets))
	for _, coll := range targets {
		before, err := s.gw.CollStats(ctx, db, coll)
		if err != nil {
			return out, err
		}
		if err := s.gw.Compact(ctx, db, coll); err != nil {
			return out, err
		}
		after, err := s.gw.CollStats(ctx, db, coll)
		if err != nil {
			return out, err
		}
		out = append(out, mongoreindex.Reclamation{Collection: coll, Before: before.StorageSize, After: after.StorageSize})
	}
	return out, nil
}

// runAutoCompact issues a single `{ autoCompact: true, runOnce: true,
// freeSpaceTargetMB }` against the connected node, then runs one
// currentOp poller per node address until each sees no autoCompact op,
// and guarantees `{ autoCompact: false }` on every exit path. The
// autoCompact command itself is not sent to the other nodes.
func (s *Stage) runAutoCompact(ctx context.Context) error {
	nodes, err := s.gw.NodeAddresses(ctx)
	if err != nil {
		return err
	}

	if err := s.gw.AutoCompact(ctx, true, true, s.FreeSpaceTargetMB); err != nil {
		return err
	}
	defer s.gw.AutoCompact(ctx, false, false, 0)

	g, gctx := errgroup.WithContext(ctx)
	for range nodes {
		g.Go(func() error {
			return s.pollUntilDone(gctx)
		})
	}
	return g.Wait()
}

// pollUntilDone polls currentOp for an in-flight autoCompact/compact
// operation; the stopping rule is "no matching op in currentOp".
func (s *Stage) pollUntilDone(ctx context.Context) error {
	for {
		ops, err := s.gw.CurrentOp(ctx, map[string]any{"desc": "autoCompact"})
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(autoCompactPollInterval):
		}
	}
}

// measure reports storageSize for each target without running compact,
// used to report reclamation after an autoCompact sweep. before supplies
// the per-collection sizes Run captured ahead of the sweep; a target
// missing from it reports only the post-sweep size.
func (s *Stage) measure(ctx context.Context, db string, targets []string, before map[string]gateway.CollStats) ([]mongoreindex.Reclamation, error) {
	out := make([]mongoreindex.Reclamation, 0, len(targets))
	for _, coll := range targets {
		after, err := s.gw.CollStats(ctx, db, coll)
		if err != nil {
			return out, err
		}
		r := mongoreindex.Reclamation{Collection: coll, After: after.StorageSize}
		if b, ok := before[coll]; ok {
			r.Before = b.StorageSize
		}
		out = append(out, r)
	}
	return out, nil
}
