// Package statestore implements the durable JobState file, the adjacent
// advisory lock, and a queryable in-memory working-set index over the
// current run's IndexRecords.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/mongoreindex/mongoreindex"
)

// unsafeNameChar matches any character outside [A-Za-z0-9_-], which the
// database name is sanitized against before it becomes part of a file
// name.
var unsafeNameChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitize replaces every character outside [A-Za-z0-9_-] with an
// underscore, so two different databases on the same cluster always get
// disjoint state file names.
func sanitize(s string) string {
	return unsafeNameChar.ReplaceAllString(s, "_")
}

// Store persists a JobState to disk and keeps a queryable in-memory copy
// of it for the duration of one process's run.
type Store struct {
	runtimeDir  string
	clusterName string
	dbName      string

	statePath string
	lockPath  string

	mu   sync.Mutex
	db   *memdb.MemDB
	held bool
}

// New creates a Store rooted at runtimeDir for the given cluster/database
// pair. It does not touch the filesystem until Load or Lock is called.
func New(runtimeDir, clusterName, dbName string) (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, err
	}
	base := fmt.Sprintf("%s_%s", clusterName, sanitize(dbName))
	return &Store{
		runtimeDir:  runtimeDir,
		clusterName: clusterName,
		dbName:      dbName,
		statePath:   filepath.Join(runtimeDir, base+"_state.json"),
		lockPath:    filepath.Join(runtimeDir, base+"_state.lock"),
		db:          db,
	}, nil
}

// StatePath returns the path to the durable state file, for diagnostics.
func (s *Store) StatePath() string { return s.statePath }

// Lock acquires the advisory single-writer lock. It refuses if another
// live holder is detected: the lock file exists and its mtime is within
// staleThreshold. A stale lock file is removed and replaced.
func (s *Store) Lock(staleThreshold time.Duration) error {
	if err := os.MkdirAll(s.runtimeDir, 0o755); err != nil {
		return err
	}

	if info, err := os.Stat(s.lockPath); err == nil {
		if time.Since(info.ModTime()) < staleThreshold {
			return mongoreindex.ErrLockHeld
		}
		// Stale: a prior process crashed without releasing the lock.
		if err := os.Remove(s.lockPath); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return mongoreindex.ErrLockHeld
		}
		return err
	}
	defer f.Close()
	fmt.Fprintf(f, "pid=%d\n", os.Getpid())

	s.mu.Lock()
	s.held = true
	s.mu.Unlock()
	return nil
}

// Unlock releases the advisory lock. Safe to call even if Lock was never
// successfully acquired.
func (s *Store) Unlock() error {
	s.mu.Lock()
	held := s.held
	s.held = false
	s.mu.Unlock()
	if !held {
		return nil
	}
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Touch refreshes the lock file's mtime so a long-running job is never
// mistaken for an abandoned one by a concurrent invocation's staleness
// check.
func (s *Store) Touch() error {
	now := time.Now()
	return os.Chtimes(s.lockPath, now, now)
}

// Load reads the durable JobState file if present. A missing file is not
// an error: it returns (nil, nil), meaning a fresh run should begin. A
// schemaVersion mismatch quarantines the file (renamed with ".incompatible")
// and also returns (nil, nil).
func (s *Store) Load(ctx context.Context) (*mongoreindex.JobState, error) {
	b, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var js mongoreindex.JobState
	if err := json.Unmarshal(b, &js); err != nil {
		return nil, err
	}
	if js.SchemaVersion != mongoreindex.SchemaVersion {
		if err := os.Rename(s.statePath, s.statePath+".incompatible"); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := s.rebuildIndex(&js); err != nil {
		return nil, err
	}
	return &js, nil
}

// Save writes js to disk atomically: encode to "<path>.tmp", fsync, then
// rename over the final path. The orchestrator calls Save before each
// destructive action (drop, swap) and before the temp index is created
// (phase covering), and after the original index is recreated (phase
// swapped) — that ordering, enforced by the caller, is what lets the
// reconciler classify leftovers safely.
func (s *Store) Save(ctx context.Context, js *mongoreindex.JobState) error {
	if err := os.MkdirAll(s.runtimeDir, 0o755); err != nil {
		return err
	}

	js.LockState()
	b, err := json.MarshalIndent(js, "", "  ")
	js.UnlockState()
	if err != nil {
		return err
	}

	tmp := s.statePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		return err
	}

	return s.rebuildIndex(js)
}

// Delete removes the state file. Called once a run ends with every index
// in its terminal done phase, so a completed run leaves no state behind
// (invariant I2).
func (s *Store) Delete() error {
	if err := os.Remove(s.statePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
