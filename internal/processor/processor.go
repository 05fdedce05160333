// Package processor implements CollectionProcessor: per-collection
// resolution of the index worklist, interactive confirmation, and
// delegation to the CSCOrchestrator.
package processor

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/gateway"
	"github.com/mongoreindex/mongoreindex/internal/indexspec"
	"github.com/mongoreindex/mongoreindex/internal/orchestrator"
	"github.com/mongoreindex/mongoreindex/internal/prompt"
	"github.com/mongoreindex/mongoreindex/internal/statestore"
)

// Filters holds the include/exclude glob patterns applied to index names
// within a single collection. Collection-level filtering happens one
// layer up, in the JobDriver.
type Filters struct {
	Specified []string
	Ignored   []string
}

// match reports whether name should be kept: if Specified is non-empty,
// name must match at least one pattern there; name must not match any
// Ignored pattern.
func (f Filters) match(name string) bool {
	if len(f.Specified) > 0 && !anyMatch(f.Specified, name) {
		return false
	}
	return !anyMatch(f.Ignored, name)
}

// anyMatch reports whether name matches any of patterns, anchored, with
// "*" matching any run of characters that excludes "." (spec.md §4.6).
// path.Match already gives "*" that exact non-crossing behavior for "/";
// dots are swapped for slashes on both sides before matching to borrow it
// verbatim rather than hand-rolling a second globber.
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

// Result is the outcome of processing one collection.
type Result string

// The possible outcomes of Process.
const (
	ResultDone    Result = "done"
	ResultAborted Result = "aborted"
	ResultFailed  Result = "failed"
)

// Processor drives one collection's worklist through the orchestrator.
type Processor struct {
	gw     gateway.Gateway
	store  *statestore.Store
	orch   *orchestrator.Orchestrator
	prompt prompt.Prompt
}

// New creates a Processor.
func New(gw gateway.Gateway, store *statestore.Store, orch *orchestrator.Orchestrator, p prompt.Prompt) *Processor {
	return &Processor{gw: gw, store: store, orch: orch, prompt: p}
}

// Process resolves coll's index worklist, interactively confirms when
// interactive is true, and invokes the orchestrator for each kept index.
// A CollectionRecord for coll is created in js if it does not exist yet.
func (p *Processor) Process(ctx context.Context, db, coll string, js *mongoreindex.JobState, filters Filters, interactive bool) Result {
	// Every read/write of the shared js tree here (as opposed to the Mongo
	// RPCs and prompts, which stay unlocked) is wrapped in LockState/
	// UnlockState: with Driver.Parallelism > 1 another goroutine may be
	// appending to js.Collections or have it mid-marshal in StateStore.Save
	// at the same moment, even though each goroutine owns a distinct
	// CollectionRecord.
	js.LockState()
	cr := js.CollectionByName(coll)
	if cr == nil {
		cr = &mongoreindex.CollectionRecord{Name: coll, Status: mongoreindex.CollectionPending}
		js.Collections = append(js.Collections, cr)
	}
	cr.Status = mongoreindex.CollectionRunning
	js.UnlockState()

	if interactive {
		ok, err := p.prompt.Confirm(ctx, fmt.Sprintf("proceed with collection %q?", coll))
		if err != nil || !ok {
			js.LockState()
			cr.Status = mongoreindex.CollectionAborted
			js.UnlockState()
			return ResultAborted
		}
	}

	originals, err := p.gw.ListIndexes(ctx, db, coll)
	if err != nil {
		js.LockState()
		cr.Status = mongoreindex.CollectionFailed
		js.UnlockState()
		return ResultFailed
	}

	worklist := p.worklist(originals, filters)

	failed := false
	for _, orig := range worklist {
		if interactive {
			ok, err := p.prompt.Confirm(ctx, fmt.Sprintf("rebuild index %q on %q?", orig.Name, coll))
			if err != nil {
				js.LockState()
				cr.Status = mongoreindex.CollectionFailed
				js.UnlockState()
				return ResultFailed
			}
			if !ok {
				continue
			}
		}

		js.LockState()
		rec := cr.IndexByName(orig.Name)
		if rec == nil {
			rec = &mongoreindex.IndexRecord{
				OriginalName: orig.Name,
				Phase:        mongoreindex.PhasePlanned,
				OriginalSpec: orig.Spec,
				StartedAt:    time.Now(),
			}
			cr.Indexes = append(cr.Indexes, rec)
		}
		phaseDone := rec.Phase == mongoreindex.PhaseDone
		js.UnlockState()
		if phaseDone {
			continue
		}

		if err := p.orch.Run(ctx, db, coll, js, rec); err != nil {
			if mongoreindex.IsAborted(err) {
				js.LockState()
				cr.Status = mongoreindex.CollectionAborted
				js.UnlockState()
				return ResultAborted
			}
			failed = true
			continue
		}
	}

	js.LockState()
	defer js.UnlockState()
	if failed {
		cr.Status = mongoreindex.CollectionFailed
		return ResultFailed
	}
	cr.Status = mongoreindex.CollectionDone
	return ResultDone
}

// worklist filters out _id_ and any _cover_temp index (reconciler
// territory), then applies the operator's include/exclude patterns.
func (p *Processor) worklist(originals []mongoreindex.OriginalIndex, filters Filters) []mongoreindex.OriginalIndex {
	out := make([]mongoreindex.OriginalIndex, 0, len(originals))
	for _, idx := range originals {
		if idx.Name == mongoreindex.IDIndexName {
			continue
		}
		if indexspec.IsReservedName(idx.Name) {
			continue
		}
		if !filters.match(idx.Name) {
			continue
		}
		out = append(out, idx)
	}
	return out
}
