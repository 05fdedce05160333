package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/gateway/fake"
	"github.com/mongoreindex/mongoreindex/internal/statestore"
)

func newJobState(coll, originalName string, spec mongoreindex.IndexSpec) (*mongoreindex.JobState, *mongoreindex.IndexRecord) {
	rec := &mongoreindex.IndexRecord{
		OriginalName: originalName,
		Phase:        mongoreindex.PhasePlanned,
		OriginalSpec: spec,
		StartedAt:    time.Unix(0, 0).UTC(),
	}
	js := &mongoreindex.JobState{
		SchemaVersion: mongoreindex.SchemaVersion,
		ClusterName:   "rs-fake",
		DBName:        "shop",
		StartedAt:     time.Unix(0, 0).UTC(),
		Collections: []*mongoreindex.CollectionRecord{
			{Name: coll, Status: mongoreindex.CollectionRunning, Indexes: []*mongoreindex.IndexRecord{rec}},
		},
	}
	return js, rec
}

func newStore(t *testing.T) *statestore.Store {
	t.Helper()
	s, err := statestore.New(t.TempDir(), "rs-fake", "shop")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestOrchestratorHappyPath(t *testing.T) {
	gw := fake.New()
	spec := mongoreindex.IndexSpec{Name: "email_1", Keys: []mongoreindex.IndexKey{{Field: "email", Value: 1}}}
	gw.Seed("users", mongoreindex.OriginalIndex{Name: "email_1", Spec: spec})

	js, rec := newJobState("users", "email_1", spec)
	o := New(gw, newStore(t), nil)

	if err := o.Run(context.Background(), "shop", "users", js, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Phase != mongoreindex.PhaseDone {
		t.Errorf("expected phase done, got %s", rec.Phase)
	}

	idxs, _ := gw.ListIndexes(context.Background(), "shop", "users")
	names := map[string]bool{}
	for _, idx := range idxs {
		names[idx.Name] = true
	}
	if !names["email_1"] {
		t.Error("expected original index present")
	}
	if names["email_1_cover_temp"] {
		t.Error("expected temp index absent")
	}
}

func TestOrchestratorRejectsIDIndex(t *testing.T) {
	gw := fake.New()
	js, rec := newJobState("users", mongoreindex.IDIndexName, mongoreindex.IndexSpec{Name: mongoreindex.IDIndexName})
	o := New(gw, newStore(t), nil)

	err := o.Run(context.Background(), "shop", "users", js, rec)
	if err == nil {
		t.Fatal("expected error rebuilding _id_")
	}
	if !mongoreindex.IsRetryable(err) && rec.Phase != mongoreindex.PhasePlanned {
		t.Errorf("expected rec untouched, got phase %s", rec.Phase)
	}
}

func TestOrchestratorRetriesRetryableCreateFailure(t *testing.T) {
	gw := fake.New()
	spec := mongoreindex.IndexSpec{Name: "email_1", Keys: []mongoreindex.IndexKey{{Field: "email", Value: 1}}}
	gw.Seed("users", mongoreindex.OriginalIndex{Name: "email_1", Spec: spec})
	gw.FailNextCall("create_index", mongoreindex.NewError(mongoreindex.KindRetryable, "create_index", errors.New("network blip")))

	js, rec := newJobState("users", "email_1", spec)
	o := New(gw, newStore(t), nil)
	o.retry.delay = time.Millisecond
	o.retry.max = 5 * time.Millisecond

	if err := o.Run(context.Background(), "shop", "users", js, rec); err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if rec.Phase != mongoreindex.PhaseDone {
		t.Errorf("expected eventual success, got phase %s", rec.Phase)
	}
	if rec.Attempt == 0 {
		t.Error("expected attempt counter to be bumped by the retry")
	}
}

func TestOrchestratorFatalErrorMarksFailed(t *testing.T) {
	gw := fake.New()
	spec := mongoreindex.IndexSpec{Name: "email_1", Keys: []mongoreindex.IndexKey{{Field: "email", Value: 1}}}
	gw.Seed("users", mongoreindex.OriginalIndex{Name: "email_1", Spec: spec})
	gw.FailNextCall("create_index", mongoreindex.NewError(mongoreindex.KindFatal, "create_index", errors.New("auth failure")))

	js, rec := newJobState("users", "email_1", spec)
	o := New(gw, newStore(t), nil)

	err := o.Run(context.Background(), "shop", "users", js, rec)
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if rec.Phase != mongoreindex.PhaseFailed {
		t.Errorf("expected phase failed, got %s", rec.Phase)
	}
	if rec.LastError == "" {
		t.Error("expected LastError to be recorded")
	}
}

func TestOrchestratorRejectsUniqueIndex(t *testing.T) {
	gw := fake.New()
	spec := mongoreindex.IndexSpec{Name: "ssn_1", Keys: []mongoreindex.IndexKey{{Field: "ssn", Value: 1}}, Options: mongoreindex.IndexOptions{Unique: true}}
	gw.Seed("users", mongoreindex.OriginalIndex{Name: "ssn_1", Spec: spec})

	js, rec := newJobState("users", "ssn_1", spec)
	o := New(gw, newStore(t), nil)

	err := o.Run(context.Background(), "shop", "users", js, rec)
	if err == nil {
		t.Fatal("expected unique index to be refused")
	}
	if rec.Phase != mongoreindex.PhaseFailed {
		t.Errorf("expected phase failed, got %s", rec.Phase)
	}
}

func TestOrchestratorAllowUniqueRiskPermitsRebuild(t *testing.T) {
	gw := fake.New()
	spec := mongoreindex.IndexSpec{Name: "ssn_1", Keys: []mongoreindex.IndexKey{{Field: "ssn", Value: 1}}, Options: mongoreindex.IndexOptions{Unique: true}}
	gw.Seed("users", mongoreindex.OriginalIndex{Name: "ssn_1", Spec: spec})

	js, rec := newJobState("users", "ssn_1", spec)
	o := New(gw, newStore(t), nil)
	o.AllowUniqueRisk = true

	if err := o.Run(context.Background(), "shop", "users", js, rec); err != nil {
		t.Fatalf("unexpected error with AllowUniqueRisk set: %v", err)
	}
	if rec.Phase != mongoreindex.PhaseDone {
		t.Errorf("expected phase done, got %s", rec.Phase)
	}
}

func TestOrchestratorResumesFromCoveringAdoptsMatchingTemp(t *testing.T) {
	gw := fake.New()
	spec := mongoreindex.IndexSpec{Name: "email_1", Keys: []mongoreindex.IndexKey{{Field: "email", Value: 1}}}
	// Simulate a crash after step 1's create succeeded: both original and
	// temp are present.
	gw.Seed("users",
		mongoreindex.OriginalIndex{Name: "email_1", Spec: spec},
		mongoreindex.OriginalIndex{Name: "email_1_cover_temp", Spec: mongoreindex.IndexSpec{Name: "email_1_cover_temp", Keys: spec.Keys}},
	)

	js, rec := newJobState("users", "email_1", spec)
	rec.Phase = mongoreindex.PhaseCovering
	rec.TempName = "email_1_cover_temp"

	o := New(gw, newStore(t), nil)
	o.retry.delay = time.Millisecond
	if err := o.Run(context.Background(), "shop", "users", js, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Phase != mongoreindex.PhaseDone {
		t.Errorf("expected phase done, got %s", rec.Phase)
	}
}

func TestOrchestratorResumesFromSwappingWhenOriginalMissing(t *testing.T) {
	gw := fake.New()
	spec := mongoreindex.IndexSpec{Name: "email_1", Keys: []mongoreindex.IndexKey{{Field: "email", Value: 1}}}
	// Crash between drop-original and create-original: only the temp survives.
	gw.Seed("users", mongoreindex.OriginalIndex{Name: "email_1_cover_temp", Spec: mongoreindex.IndexSpec{Name: "email_1_cover_temp", Keys: spec.Keys}})

	js, rec := newJobState("users", "email_1", spec)
	rec.Phase = mongoreindex.PhaseSwapping
	rec.TempName = "email_1_cover_temp"

	o := New(gw, newStore(t), nil)
	if err := o.Run(context.Background(), "shop", "users", js, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Phase != mongoreindex.PhaseDone {
		t.Errorf("expected phase done, got %s", rec.Phase)
	}

	idxs, _ := gw.ListIndexes(context.Background(), "shop", "users")
	for _, idx := range idxs {
		if idx.Name == "email_1_cover_temp" {
			t.Error("expected temp index to be cleaned up")
		}
	}
}
