package driver

import (
	"context"
	"testing"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/gateway/fake"
	"github.com/mongoreindex/mongoreindex/internal/orchestrator"
	"github.com/mongoreindex/mongoreindex/internal/processor"
	"github.com/mongoreindex/mongoreindex/internal/prompt"
	"github.com/mongoreindex/mongoreindex/internal/statestore"
)

func newJS() *mongoreindex.JobState {
	return &mongoreindex.JobState{SchemaVersion: mongoreindex.SchemaVersion, ClusterName: "rs-fake", DBName: "shop"}
}

func newStore(t *testing.T) *statestore.Store {
	t.Helper()
	s, err := statestore.New(t.TempDir(), "rs-fake", "shop")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDriverSequentialRunsAllCollections(t *testing.T) {
	gw := fake.New()
	gw.Seed("users", mongoreindex.OriginalIndex{Name: "email_1", Spec: mongoreindex.IndexSpec{Name: "email_1", Keys: []mongoreindex.IndexKey{{Field: "email", Value: 1}}}})
	gw.Seed("orders", mongoreindex.OriginalIndex{Name: "created_1", Spec: mongoreindex.IndexSpec{Name: "created_1", Keys: []mongoreindex.IndexKey{{Field: "created", Value: 1}}}})

	store := newStore(t)
	orch := orchestrator.New(gw, store, nil)
	proc := processor.New(gw, store, orch, prompt.AutoYes{})
	d := New(gw, store, proc)

	js := newJS()
	log, err := d.Run(context.Background(), "shop", js, CollectionFilters{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(log.Collections) != 2 {
		t.Fatalf("expected 2 collections in run log, got %d", len(log.Collections))
	}
	for _, cr := range js.Collections {
		if cr.Status != mongoreindex.CollectionDone {
			t.Errorf("expected %s done, got %s", cr.Name, cr.Status)
		}
	}
}

func TestDriverFiltersBySpecifiedCollection(t *testing.T) {
	gw := fake.New()
	gw.Seed("users", mongoreindex.OriginalIndex{Name: "email_1", Spec: mongoreindex.IndexSpec{Name: "email_1", Keys: []mongoreindex.IndexKey{{Field: "email", Value: 1}}}})
	gw.Seed("orders", mongoreindex.OriginalIndex{Name: "created_1", Spec: mongoreindex.IndexSpec{Name: "created_1", Keys: []mongoreindex.IndexKey{{Field: "created", Value: 1}}}})

	store := newStore(t)
	orch := orchestrator.New(gw, store, nil)
	proc := processor.New(gw, store, orch, prompt.AutoYes{})
	d := New(gw, store, proc)

	js := newJS()
	_, err := d.Run(context.Background(), "shop", js, CollectionFilters{Specified: []string{"users"}}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if js.CollectionByName("users") == nil {
		t.Error("expected users to be processed")
	}
	if js.CollectionByName("orders") != nil {
		t.Error("expected orders to be left untouched")
	}
}

func TestDriverAbortStopsSchedulingFurtherCollections(t *testing.T) {
	gw := fake.New()
	gw.Seed("orders", mongoreindex.OriginalIndex{Name: "created_1", Spec: mongoreindex.IndexSpec{Name: "created_1", Keys: []mongoreindex.IndexKey{{Field: "created", Value: 1}}}})
	gw.Seed("users", mongoreindex.OriginalIndex{Name: "email_1", Spec: mongoreindex.IndexSpec{Name: "email_1", Keys: []mongoreindex.IndexKey{{Field: "email", Value: 1}}}})

	store := newStore(t)
	orch := orchestrator.New(gw, store, nil)
	// The first collection-level confirmation declines, so that collection
	// reports aborted and the driver never schedules the second one.
	proc := processor.New(gw, store, orch, prompt.NewCanned(false, false))
	d := New(gw, store, proc)

	js := newJS()
	_, err := d.Run(context.Background(), "shop", js, CollectionFilters{}, true)
	if !mongoreindex.IsAborted(err) {
		t.Fatalf("expected aborted error, got %v", err)
	}
	if len(js.Collections) != 1 {
		t.Errorf("expected only the first collection to be scheduled, got %d", len(js.Collections))
	}
}
