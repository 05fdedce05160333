// Package orchestrator implements the CSCOrchestrator state machine:
// Cover -> Verify -> Swap -> Cleanup for a single (collection, index)
// pair, with bounded retries and no automatic rollback on failure.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/gateway"
	"github.com/mongoreindex/mongoreindex/internal/indexspec"
	"github.com/mongoreindex/mongoreindex/internal/statestore"
)

// MetricsRecorder receives phase transition observations. Implemented by
// internal/metrics; nil is a valid no-op recorder substitute handled by
// noopMetrics.
type MetricsRecorder interface {
	ObservePhase(collection, index string, phase mongoreindex.Phase, d time.Duration)
	IncRetry(collection, index string)
	IncFailed(collection, index string)
}

type noopMetrics struct{}

func (noopMetrics) ObservePhase(string, string, mongoreindex.Phase, time.Duration) {}
func (noopMetrics) IncRetry(string, string)                                       {}
func (noopMetrics) IncFailed(string, string)                                      {}

// Orchestrator drives a single IndexRecord through the CSC state machine.
type Orchestrator struct {
	gw      gateway.Gateway
	store   *statestore.Store
	metrics MetricsRecorder
	retry   retryPolicy

	// AllowUniqueRisk permits rebuilding a unique index under live writes
	// (--allow-unique-risk), accepting the documented race between the
	// covering index and concurrent writers. Refused by default.
	AllowUniqueRisk bool
}

// New creates an Orchestrator. A nil metrics recorder is replaced with a
// no-op implementation.
func New(gw gateway.Gateway, store *statestore.Store, metrics MetricsRecorder) *Orchestrator {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Orchestrator{gw: gw, store: store, metrics: metrics, retry: defaultRetryPolicy()}
}

// deriveTemp computes the covering index for rec, honoring AllowUniqueRisk.
func (o *Orchestrator) deriveTemp(rec *mongoreindex.IndexRecord) (mongoreindex.TempIndex, error) {
	return indexspec.DeriveTempWithRisk(mongoreindex.OriginalIndex{Name: rec.OriginalName, Spec: rec.OriginalSpec}, o.AllowUniqueRisk)
}

// persist locks js, applies mutate (the rec/js field writes for the
// transition), unlocks, then saves. Every field write and every marshal of
// js goes through LockState/UnlockState so that with Driver.Parallelism > 1
// another goroutine's concurrent Process call on a different collection
// never races with this one's bookkeeping.
func (o *Orchestrator) persist(ctx context.Context, js *mongoreindex.JobState, mutate func()) error {
	js.LockState()
	mutate()
	js.UnlockState()
	return o.store.Save(ctx, js)
}

// bumpAttempt increments rec.Attempt under js's lock.
func bumpAttempt(js *mongoreindex.JobState, rec *mongoreindex.IndexRecord) {
	js.LockState()
	rec.Attempt++
	js.UnlockState()
}

// Run drives rec (already attached to js under collName) through every
// remaining phase until it reaches done or failed. js is persisted to the
// StateStore at every ordering point spec.md §4.5/§5 requires. Returns the
// terminal error, if any; a Fatal classification leaves rec.Phase ==
// failed and returns that error rather than panicking or rolling back.
func (o *Orchestrator) Run(ctx context.Context, db, collName string, js *mongoreindex.JobState, rec *mongoreindex.IndexRecord) error {
	if rec.OriginalName == mongoreindex.IDIndexName {
		return mongoreindex.NewError(mongoreindex.KindFatal, "orchestrator", errors.New("_id_ index is never a rebuild target"))
	}

	for rec.Phase != mongoreindex.PhaseDone && rec.Phase != mongoreindex.PhaseFailed {
		started := time.Now()
		phase := rec.Phase

		var err error
		switch phase {
		case mongoreindex.PhasePlanned:
			err = o.stepCover(ctx, db, collName, js, rec)
		case mongoreindex.PhaseCovering:
			err = o.stepVerifyCovered(ctx, db, collName, js, rec)
		case mongoreindex.PhaseCovered:
			err = o.stepDropOriginal(ctx, db, collName, js, rec)
		case mongoreindex.PhaseSwapping:
			err = o.stepRecreateOriginal(ctx, db, collName, js, rec)
		case mongoreindex.PhaseSwapped:
			err = o.stepDropTemp(ctx, db, collName, js, rec)
		case mongoreindex.PhaseCleaning:
			err = o.stepVerifyDone(ctx, db, collName, js, rec)
		default:
			err = mongoreindex.NewError(mongoreindex.KindFatal, "orchestrator", errors.New("unknown phase"))
		}

		o.metrics.ObservePhase(collName, rec.OriginalName, phase, time.Since(started))

		if err != nil {
			o.metrics.IncFailed(collName, rec.OriginalName)
			if saveErr := o.persist(ctx, js, func() {
				rec.Phase = mongoreindex.PhaseFailed
				rec.LastError = err.Error()
				rec.UpdatedAt = time.Now()
			}); saveErr != nil {
				return saveErr
			}
			return err
		}
	}
	return nil
}

// withRetry retries fn under the orchestrator's bounded-retry policy as
// long as the returned error classifies as Retryable; any other error (or
// nil) stops the loop immediately. attempt is bumped on rec for every
// retry so resumed runs carry an honest attempt count.
func (o *Orchestrator) withRetry(ctx context.Context, js *mongoreindex.JobState, rec *mongoreindex.IndexRecord, onRetry func(), fn func(ctx context.Context) error) error {
	var lastErr error
	ok, err := o.retry.run(ctx, func(ctx context.Context) (bool, error) {
		if lastErr != nil {
			bumpAttempt(js, rec)
			if onRetry != nil {
				onRetry()
			}
		}
		callErr := fn(ctx)
		if callErr == nil {
			return true, nil
		}
		if mongoreindex.IsRetryable(callErr) {
			lastErr = callErr
			return false, nil
		}
		return false, callErr
	})
	if err != nil {
		return err
	}
	if !ok {
		return lastErr
	}
	return nil
}

// stepCover implements planned -> covering: derive the temp spec, adopt a
// matching existing temp index, drop-and-recreate a mismatched one, or
// create fresh.
func (o *Orchestrator) stepCover(ctx context.Context, db, collName string, js *mongoreindex.JobState, rec *mongoreindex.IndexRecord) error {
	temp, err := o.deriveTemp(rec)
	if err != nil {
		return mongoreindex.NewError(mongoreindex.KindFatal, "derive_temp", err)
	}
	if err := o.persist(ctx, js, func() {
		rec.TempName = temp.Name
		rec.Phase = mongoreindex.PhaseCovering
		rec.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	createErr := o.withRetry(ctx, js, rec, func() { o.metrics.IncRetry(collName, rec.OriginalName) }, func(ctx context.Context) error {
		return o.gw.CreateIndex(ctx, db, collName, temp.Spec)
	})
	if createErr == nil {
		return nil
	}
	if !errors.Is(createErr, gateway.ErrIndexConflict) {
		return createErr
	}

	// Mismatched spec under the temp name: drop and recreate (tie-break
	// rule for step 1).
	if err := o.withRetry(ctx, js, rec, func() { o.metrics.IncRetry(collName, rec.OriginalName) }, func(ctx context.Context) error {
		return o.gw.DropIndex(ctx, db, collName, temp.Name)
	}); err != nil {
		return err
	}
	return o.withRetry(ctx, js, rec, func() { o.metrics.IncRetry(collName, rec.OriginalName) }, func(ctx context.Context) error {
		return o.gw.CreateIndex(ctx, db, collName, temp.Spec)
	})
}

// stepVerifyCovered implements covering -> covered: poll list_indexes
// until the temp index appears with a matching spec.
func (o *Orchestrator) stepVerifyCovered(ctx context.Context, db, collName string, js *mongoreindex.JobState, rec *mongoreindex.IndexRecord) error {
	temp, err := o.deriveTemp(rec)
	if err != nil {
		return mongoreindex.NewError(mongoreindex.KindFatal, "derive_temp", err)
	}

	ok, err := o.retry.run(ctx, func(ctx context.Context) (bool, error) {
		idxs, err := o.gw.ListIndexes(ctx, db, collName)
		if err != nil {
			if mongoreindex.IsRetryable(err) {
				bumpAttempt(js, rec)
				o.metrics.IncRetry(collName, rec.OriginalName)
				return false, nil
			}
			return false, err
		}
		for _, idx := range idxs {
			if idx.Name == temp.Name && indexspec.Equivalent(idx.Spec, temp.Spec) {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return mongoreindex.NewError(mongoreindex.KindFatal, "verify_covered", errors.New("verification retry budget exhausted"))
	}

	return o.persist(ctx, js, func() {
		rec.Phase = mongoreindex.PhaseCovered
		rec.UpdatedAt = time.Now()
	})
}

// stepDropOriginal implements covered -> swapping: persist before the
// destructive drop, per the ordering rule.
func (o *Orchestrator) stepDropOriginal(ctx context.Context, db, collName string, js *mongoreindex.JobState, rec *mongoreindex.IndexRecord) error {
	if err := o.persist(ctx, js, func() {
		rec.Phase = mongoreindex.PhaseSwapping
		rec.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	return o.withRetry(ctx, js, rec, func() { o.metrics.IncRetry(collName, rec.OriginalName) }, func(ctx context.Context) error {
		return o.gw.DropIndex(ctx, db, collName, rec.OriginalName)
	})
}

// stepRecreateOriginal implements swapping -> swapped: recreate the
// original index under its original name and spec. If it already exists
// with a matching spec (a crash after create but before this method
// persisted swapped on a prior attempt), that counts as adoption.
func (o *Orchestrator) stepRecreateOriginal(ctx context.Context, db, collName string, js *mongoreindex.JobState, rec *mongoreindex.IndexRecord) error {
	createErr := o.withRetry(ctx, js, rec, func() { o.metrics.IncRetry(collName, rec.OriginalName) }, func(ctx context.Context) error {
		return o.gw.CreateIndex(ctx, db, collName, rec.OriginalSpec)
	})
	if createErr != nil && !errors.Is(createErr, gateway.ErrIndexConflict) {
		return createErr
	}
	// gateway.ErrIndexConflict here would mean something else holds the
	// original's name with a different spec than recorded; that can only
	// happen if an operator modified the collection out-of-band, which is
	// a fatal precondition rather than something the orchestrator can
	// resolve.
	if createErr != nil {
		return mongoreindex.NewError(mongoreindex.KindFatal, "recreate_original", createErr)
	}

	return o.persist(ctx, js, func() {
		rec.Phase = mongoreindex.PhaseSwapped
		rec.UpdatedAt = time.Now()
	})
}

// stepDropTemp implements swapped -> cleaning: persist before the
// destructive drop.
func (o *Orchestrator) stepDropTemp(ctx context.Context, db, collName string, js *mongoreindex.JobState, rec *mongoreindex.IndexRecord) error {
	if err := o.persist(ctx, js, func() {
		rec.Phase = mongoreindex.PhaseCleaning
		rec.UpdatedAt = time.Now()
	}); err != nil {
		return err
	}

	return o.withRetry(ctx, js, rec, func() { o.metrics.IncRetry(collName, rec.OriginalName) }, func(ctx context.Context) error {
		return o.gw.DropIndex(ctx, db, collName, rec.TempName)
	})
}

// stepVerifyDone implements cleaning -> done: confirm the server shows the
// original present and the temp absent (invariant I3).
func (o *Orchestrator) stepVerifyDone(ctx context.Context, db, collName string, js *mongoreindex.JobState, rec *mongoreindex.IndexRecord) error {
	idxs, err := o.gw.ListIndexes(ctx, db, collName)
	if err != nil {
		return err
	}

	var originalPresent, tempAbsent = false, true
	for _, idx := range idxs {
		if idx.Name == rec.OriginalName && indexspec.Equivalent(idx.Spec, rec.OriginalSpec) {
			originalPresent = true
		}
		if idx.Name == rec.TempName {
			tempAbsent = false
		}
	}
	if !originalPresent || !tempAbsent {
		return mongoreindex.NewError(mongoreindex.KindFatal, "verify_done", errors.New("server state does not match done contract"))
	}

	return o.persist(ctx, js, func() {
		rec.Phase = mongoreindex.PhaseDone
		rec.UpdatedAt = time.Now()
	})
}
