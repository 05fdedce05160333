package statestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mongoreindex/mongoreindex"
)

func newTestState(cluster, db string) *mongoreindex.JobState {
	return &mongoreindex.JobState{
		SchemaVersion: mongoreindex.SchemaVersion,
		ClusterName:   cluster,
		DBName:        db,
		StartedAt:     time.Unix(0, 0).UTC(),
		Collections: []*mongoreindex.CollectionRecord{
			{
				Name:   "orders",
				Status: mongoreindex.CollectionRunning,
				Indexes: []*mongoreindex.IndexRecord{
					{OriginalName: "by_customer", TempName: "by_customer" + mongoreindex.TempIndexSuffix, Phase: mongoreindex.PhaseCovering},
					{OriginalName: "by_date", TempName: "by_date" + mongoreindex.TempIndexSuffix, Phase: mongoreindex.PhaseDone},
				},
			},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "rs0", "shop")
	if err != nil {
		t.Fatal(err)
	}

	want := newTestState("rs0", "shop")
	ctx := context.Background()
	if err := s.Save(ctx, want); err != nil {
		t.Fatal(err)
	}

	s2, err := New(dir, "rs0", "shop")
	if err != nil {
		t.Fatal(err)
	}
	got, err := s2.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected loaded state, got nil")
	}
	if got.ClusterName != want.ClusterName || got.DBName != want.DBName {
		t.Errorf("loaded state mismatch: %+v", got)
	}
	if !got.Completed("orders", "by_date") {
		t.Error("expected by_date to be completed")
	}
	if got.Completed("orders", "by_customer") {
		t.Error("did not expect by_customer to be completed")
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "rs0", "shop")
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for missing state file, got %+v", got)
	}
}

func TestLoadQuarantinesIncompatibleSchema(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "rs0", "shop")
	if err != nil {
		t.Fatal(err)
	}
	js := newTestState("rs0", "shop")
	js.SchemaVersion = mongoreindex.SchemaVersion + 1
	if err := s.Save(context.Background(), js); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected nil for incompatible schema version")
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.incompatible"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Errorf("expected one quarantined state file, got %v", matches)
	}
}

func TestLockRefusesWhileHeld(t *testing.T) {
	dir := t.TempDir()
	s1, _ := New(dir, "rs0", "shop")
	s2, _ := New(dir, "rs0", "shop")

	if err := s1.Lock(time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := s2.Lock(time.Hour); err != mongoreindex.ErrLockHeld {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}
	if err := s1.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := s2.Lock(time.Hour); err != nil {
		t.Errorf("expected lock to succeed after release, got %v", err)
	}
}

func TestLockReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	s1, _ := New(dir, "rs0", "shop")
	if err := s1.Lock(time.Hour); err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(s1.lockPath, past, past); err != nil {
		t.Fatal(err)
	}

	s2, _ := New(dir, "rs0", "shop")
	if err := s2.Lock(time.Minute); err != nil {
		t.Errorf("expected stale lock to be reclaimed, got %v", err)
	}
}

func TestIndexesInCollectionAndByPhase(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "rs0", "shop")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background(), newTestState("rs0", "shop")); err != nil {
		t.Fatal(err)
	}

	recs, err := s.IndexesInCollection("orders")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	done, err := s.IndexesByPhase(mongoreindex.PhaseDone)
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || done[0].OriginalName != "by_date" {
		t.Errorf("unexpected done records: %+v", done)
	}

	covering, err := s.CollectionPhases("orders", mongoreindex.PhaseCovering)
	if err != nil {
		t.Fatal(err)
	}
	if len(covering) != 1 || covering[0].OriginalName != "by_customer" {
		t.Errorf("unexpected covering records: %+v", covering)
	}
}
