// Package reconciler implements OrphanReconciler: it finds leftover
// "_cover_temp" indexes from an interrupted run and removes only those
// safe to remove, consulting recorded state and, when state is silent,
// the operator.
package reconciler

import (
	"context"
	"fmt"
	"strings"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/gateway"
	"github.com/mongoreindex/mongoreindex/internal/prompt"
	"github.com/mongoreindex/mongoreindex/internal/statestore"
)

// Candidate is a temp index found on the server together with its
// classification against recorded state.
type Candidate struct {
	Collection   string
	TempName     string
	OriginalName string
	Phase        mongoreindex.Phase // zero value if no state record exists
	HasRecord    bool
}

// Outcome reports what happened to a Candidate.
type Outcome struct {
	Candidate Candidate
	Dropped   bool
	Reason    string
}

// Reconciler runs the orphan-classification algorithm against a Gateway
// and an optional StateStore.
type Reconciler struct {
	gw     gateway.Gateway
	store  *statestore.Store // nil means no state file: every candidate needs confirmation
	prompt prompt.Prompt
}

// New creates a Reconciler. store may be nil when the caller already
// determined no JobState exists for this run.
func New(gw gateway.Gateway, store *statestore.Store, p prompt.Prompt) *Reconciler {
	return &Reconciler{gw: gw, store: store, prompt: p}
}

// Enumerate lists every "_cover_temp" candidate across all collections in
// db and classifies it against the working set, without dropping
// anything. Safe to call repeatedly and from a standalone `cleanup`
// invocation running in dry-run-only mode.
func (r *Reconciler) Enumerate(ctx context.Context, db string) ([]Candidate, error) {
	colls, err := r.gw.ListCollections(ctx, db)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, coll := range colls {
		idxs, err := r.gw.ListIndexes(ctx, db, coll)
		if err != nil {
			return nil, err
		}
		for _, idx := range idxs {
			if !strings.HasSuffix(idx.Name, mongoreindex.TempIndexSuffix) {
				continue
			}
			orig := strings.TrimSuffix(idx.Name, mongoreindex.TempIndexSuffix)
			c := Candidate{Collection: coll, TempName: idx.Name, OriginalName: orig}

			if r.store != nil {
				recs, err := r.store.IndexesInCollection(coll)
				if err != nil {
					return nil, err
				}
				for _, rec := range recs {
					if rec.OriginalName == orig {
						c.Phase = rec.Phase
						c.HasRecord = true
						break
					}
				}
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// Run enumerates candidates and resolves each one per spec.md §4.4:
//   - phase == done: drop unconditionally (tail-cleanup of a finished rebuild).
//   - any other recorded phase, failed included: dry-run only, surfaced
//     to the operator with the recorded phase, never dropped automatically.
//   - no record at all: dry-run by default; drop only after explicit
//     per-candidate confirmation via the injected Prompt.
//
// batchConfirm, when true, answers every per-candidate confirmation with
// an implicit yes instead of asking — the `cleanup --yes` path.
func (r *Reconciler) Run(ctx context.Context, db string, batchConfirm bool) ([]Outcome, error) {
	candidates, err := r.Enumerate(ctx, db)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(candidates))
	for _, c := range candidates {
		o, err := r.resolve(ctx, db, c, batchConfirm)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (r *Reconciler) resolve(ctx context.Context, db string, c Candidate, batchConfirm bool) (Outcome, error) {
	if c.HasRecord && c.Phase == mongoreindex.PhaseDone {
		if err := r.gw.DropIndex(ctx, db, c.Collection, c.TempName); err != nil {
			return Outcome{}, err
		}
		if r.store != nil {
			if err := r.markDropped(ctx, c); err != nil {
				return Outcome{}, err
			}
		}
		return Outcome{Candidate: c, Dropped: true, Reason: "completed rebuild, tail cleanup"}, nil
	}

	if c.HasRecord {
		return Outcome{Candidate: c, Dropped: false, Reason: fmt.Sprintf("in-flight at phase %s, dry-run only", c.Phase)}, nil
	}

	confirmed := batchConfirm
	if !confirmed {
		msg := fmt.Sprintf("drop orphaned index %s.%s (no recorded state)?", c.Collection, c.TempName)
		ok, err := r.prompt.Confirm(ctx, msg)
		if err != nil {
			return Outcome{}, err
		}
		confirmed = ok
	}
	if !confirmed {
		return Outcome{Candidate: c, Dropped: false, Reason: "no recorded state, confirmation declined"}, nil
	}

	if err := r.gw.DropIndex(ctx, db, c.Collection, c.TempName); err != nil {
		return Outcome{}, err
	}
	return Outcome{Candidate: c, Dropped: true, Reason: "no recorded state, operator confirmed"}, nil
}

// markDropped reloads and re-saves the persisted JobState after a
// tail-cleanup drop. The IndexRecord already carries phase done, so
// nothing is mutated; re-persisting keeps the MemDB working set and the
// JSON file aligned for any subsequent reconciler run in the same
// process.
func (r *Reconciler) markDropped(ctx context.Context, c Candidate) error {
	js, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	if js == nil {
		return nil
	}
	return r.store.Save(ctx, js)
}
