// Package mongoreindex contains data models shared across the Cover-Swap-
// Cleanup (CSC) index rebuilder: index specifications, persisted run state,
// and the structured run log produced by a rebuild job.
package mongoreindex

import (
	"sync"
	"time"
)

// Phase describes where an IndexRecord is in the Cover-Swap-Cleanup
// state machine.
type Phase string

// The complete set of phases an IndexRecord can be in. Transitions are
// strictly ordered; failed is reachable from any non-terminal phase.
const (
	PhasePlanned  Phase = "planned"
	PhaseCovering Phase = "covering"
	PhaseCovered  Phase = "covered"
	PhaseSwapping Phase = "swapping"
	PhaseSwapped  Phase = "swapped"
	PhaseCleaning Phase = "cleaning"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// Terminal reports whether the phase requires no further action from the
// orchestrator on its own; done and failed are both terminal, but only
// done is safe for the orphan reconciler to drop unilaterally.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// TempIndexSuffix is appended to an original index name to derive the name
// of its covering temporary index. It is reserved: user collections MUST
// NOT contain indexes ending in this suffix.
const TempIndexSuffix = "_cover_temp"

// IDIndexName is the name MongoDB assigns to the mandatory index on _id.
// It is never a candidate for rebuilding.
const IDIndexName = "_id_"

// IndexOptions is the normalized set of options that can accompany an
// index key specification. Fields left at their zero value are treated as
// absent (MongoDB's own default) by Normalize.
type IndexOptions struct {
	Unique                bool           `json:"unique,omitempty" bson:"unique,omitempty"`
	Sparse                bool           `json:"sparse,omitempty" bson:"sparse,omitempty"`
	Hidden                bool           `json:"hidden,omitempty" bson:"hidden,omitempty"`
	PartialFilterExpr     map[string]any `json:"partialFilterExpression,omitempty" bson:"partialFilterExpression,omitempty"`
	ExpireAfterSeconds    *int32         `json:"expireAfterSeconds,omitempty" bson:"expireAfterSeconds,omitempty"`
	Collation             map[string]any `json:"collation,omitempty" bson:"collation,omitempty"`
	Weights               map[string]any `json:"weights,omitempty" bson:"weights,omitempty"`
	TwoDSphereIndexVer    int32          `json:"2dsphereIndexVersion,omitempty" bson:"2dsphereIndexVersion,omitempty"`
}

// IndexSpec is the canonical, ordered representation of an index's key
// pattern plus its options. Key order is significant: two specs are only
// equivalent if their key sequences match element-wise in order.
type IndexSpec struct {
	Name    string         `json:"name" bson:"name"`
	Keys    []IndexKey     `json:"keys" bson:"keys"`
	Options IndexOptions   `json:"options" bson:"options"`
}

// IndexKey is a single (field, direction|type) pair in an index key
// pattern. Value holds 1, -1, "hashed", "text", "2dsphere", etc. — whatever
// the server reports or the caller specifies.
type IndexKey struct {
	Field string `json:"field" bson:"field"`
	Value any    `json:"value" bson:"value"`
}

// OriginalIndex is an index as enumerated from the server, prior to any
// rebuild activity.
type OriginalIndex struct {
	Name      string     `json:"name"`
	Spec      IndexSpec  `json:"spec"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// TempIndex is the covering replacement index created by the orchestrator.
// Its name is always OriginalName+TempIndexSuffix.
type TempIndex struct {
	Name string    `json:"name"`
	Spec IndexSpec `json:"spec"`
}

// IndexRecord is the durable, per-index progress record tracked by the
// StateStore for a single (collection, originalName) pair.
type IndexRecord struct {
	OriginalName    string       `json:"originalName"`
	TempName        string       `json:"tempName"`
	Phase           Phase        `json:"phase"`
	OriginalSpec    IndexSpec    `json:"originalSpec"`
	OriginalOptions IndexOptions `json:"originalOptions"`
	Attempt         int          `json:"attempt"`
	StartedAt       time.Time    `json:"startedAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	LastError       string       `json:"lastError,omitempty"`
}

// CollectionStatus describes the aggregate outcome of processing a
// collection.
type CollectionStatus string

// The set of statuses a CollectionRecord can carry.
const (
	CollectionPending CollectionStatus = "pending"
	CollectionRunning CollectionStatus = "running"
	CollectionDone    CollectionStatus = "done"
	CollectionAborted CollectionStatus = "aborted"
	CollectionFailed  CollectionStatus = "failed"
)

// CollectionRecord tracks the rebuild progress of every kept index within
// one collection.
type CollectionRecord struct {
	Name    string            `json:"name"`
	Status  CollectionStatus  `json:"status"`
	Indexes []*IndexRecord    `json:"indexes"`
}

// IndexByName returns the IndexRecord for originalName, or nil if absent.
func (c *CollectionRecord) IndexByName(originalName string) *IndexRecord {
	for _, r := range c.Indexes {
		if r.OriginalName == originalName {
			return r
		}
	}
	return nil
}

// SchemaVersion is the current version of the persisted JobState format.
// A mismatch causes the state file to be quarantined and a fresh run to
// begin, per spec.
const SchemaVersion = 1

// JobState is the complete durable record of a rebuild run for one
// (clusterName, dbName) pair.
type JobState struct {
	SchemaVersion int                 `json:"schemaVersion"`
	ClusterName   string              `json:"clusterName"`
	DBName        string              `json:"dbName"`
	StartedAt     time.Time           `json:"startedAt"`
	Collections   []*CollectionRecord `json:"collections"`

	// mu guards the tree against concurrent mutation when Driver.Parallelism
	// processes more than one collection at once; every caller that mutates
	// Collections or an IndexRecord, or marshals the tree for persistence,
	// holds it via LockState/UnlockState for the duration. Unexported and
	// zero-value-usable, so it never appears in the JSON encoding.
	mu sync.Mutex
}

// LockState acquires the tree-wide mutex. Sequential (Parallelism == 1)
// runs never contend on it; it exists for the Parallelism > 1 knob, where
// multiple goroutines drive different collections against the same
// JobState concurrently.
func (s *JobState) LockState() { s.mu.Lock() }

// UnlockState releases the mutex acquired by LockState.
func (s *JobState) UnlockState() { s.mu.Unlock() }

// CollectionByName returns the CollectionRecord for name, or nil if absent.
func (s *JobState) CollectionByName(name string) *CollectionRecord {
	for _, c := range s.Collections {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Completed reports whether (collection, originalName) is recorded as done.
func (s *JobState) Completed(collection, originalName string) bool {
	c := s.CollectionByName(collection)
	if c == nil {
		return false
	}
	r := c.IndexByName(originalName)
	return r != nil && r.Phase == PhaseDone
}

// RunLog is the structured, machine-readable record JobDriver assembles
// over the course of a run, per collection and per index. The job driver
// fills start/end times and final phases; it does not fill
// IndexRunLog's phase transitions or bytes reclaimed.
type RunLog struct {
	ClusterName string               `json:"clusterName"`
	DBName      string               `json:"dbName"`
	StartedAt   time.Time            `json:"startedAt"`
	EndedAt     time.Time            `json:"endedAt"`
	Collections []*CollectionRunLog  `json:"collections"`
}

// CollectionRunLog is the per-collection section of a RunLog.
type CollectionRunLog struct {
	Name    string          `json:"name"`
	Status  CollectionStatus `json:"status"`
	Indexes []*IndexRunLog  `json:"indexes"`
}

// IndexRunLog is the per-index section of a RunLog.
type IndexRunLog struct {
	OriginalName     string        `json:"originalName"`
	StartedAt        time.Time     `json:"startedAt"`
	EndedAt          time.Time     `json:"endedAt"`
	Transitions      []Transition  `json:"transitions"`
	FinalPhase       Phase         `json:"finalPhase"`
	BytesReclaimed   int64         `json:"bytesReclaimed,omitempty"`
}

// Transition records a single phase change with its timestamp, for the
// run log's audit trail.
type Transition struct {
	Phase Phase     `json:"phase"`
	At    time.Time `json:"at"`
}

// Reclamation reports the storageSize measured before and after a
// compaction step for a single collection.
type Reclamation struct {
	Collection string `json:"collection"`
	Before     int64  `json:"storageSizeBefore"`
	After      int64  `json:"storageSizeAfter"`
}

// Reclaimed returns the number of bytes freed, clamped at zero.
func (r Reclamation) Reclaimed() int64 {
	if r.Before <= r.After {
		return 0
	}
	return r.Before - r.After
}
