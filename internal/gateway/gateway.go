// Package gateway defines the interface for storage engine implementations.
// MongoGateway is the single seam over the driver: every method takes a
// context carrying an explicit deadline, and errors are uniformly mapped
// to mongoreindex.Error by the implementation.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/mongoreindex/mongoreindex"
)

// ErrIndexConflict is returned by CreateIndex when an index with the
// requested name already exists but its specification does not match the
// one requested. The orchestrator drops and recreates the temp index in
// this case; a conflict while recreating the original index is fatal.
var ErrIndexConflict = errors.New("index exists with a conflicting specification")

// CollStats is the subset of the collStats command output the rebuild
// consumes. storageSize is the only metric used for reclamation accounting
// — collStats.size (the logical data size) must never be used for that.
type CollStats struct {
	StorageSize int64
	Count       int64
}

// Op is a single in-flight operation as reported by currentOp, used to
// poll autoCompact/compact progress.
type Op struct {
	OpID    string
	Desc    string
	Ns      string
	Running time.Duration
}

// ServerVersion is the (major, minor, patch) version of the connected
// deployment, used to require online index builds (>= 4.4) at connect
// time. autoCompact is not gated on the server version.
type ServerVersion struct {
	Major, Minor, Patch int
}

// AtLeast reports whether v is greater than or equal to (major, minor).
func (v ServerVersion) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// Gateway is the thin contract over the MongoDB driver consumed by every
// core component. Implementations must make create_index and drop_index
// idempotent (drop succeeds if the index is already absent) and must map
// transient/retryable server errors into mongoreindex.Error with
// mongoreindex.KindRetryable.
type Gateway interface {

	// Open connects to the deployment. Close disconnects.
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	// ListCollections lists user collections in db, filtering out views
	// and system.* namespaces.
	ListCollections(ctx context.Context, db string) ([]string, error)
	// ListIndexes lists all indexes on db.coll.
	ListIndexes(ctx context.Context, db, coll string) ([]mongoreindex.OriginalIndex, error)
	// CreateIndex creates an index and blocks until the online build
	// completes. Returns nil without error if an index with the same name
	// and an equivalent spec already exists.
	CreateIndex(ctx context.Context, db, coll string, spec mongoreindex.IndexSpec) error
	// DropIndex drops an index by name. Idempotent: returns nil if the
	// index is already absent.
	DropIndex(ctx context.Context, db, coll, name string) error

	// CollStats returns storage statistics for db.coll.
	CollStats(ctx context.Context, db, coll string) (CollStats, error)
	// Compact runs the compact command against db.coll. It does not check
	// the node's role; the compaction stage refuses on a primary via
	// IsPrimary before calling it.
	Compact(ctx context.Context, db, coll string) error
	// AutoCompact issues { autoCompact: enable, runOnce, freeSpaceTargetMB }
	// against the current node.
	AutoCompact(ctx context.Context, enable bool, runOnce bool, freeSpaceTargetMB int) error
	// CurrentOp lists in-flight operations matching filter, used to poll
	// compact/autoCompact progress.
	CurrentOp(ctx context.Context, filter map[string]any) ([]Op, error)

	// ClusterName returns the replica-set name, or a deterministic
	// identifier derived from the seed host list when not in a replica
	// set. Never empty.
	ClusterName(ctx context.Context) (string, error)
	// ServerVersion returns the connected deployment's version.
	ServerVersion(ctx context.Context) (ServerVersion, error)
	// IsPrimary reports whether the connection is currently talking to a
	// primary (or a standalone, which counts as its own primary).
	IsPrimary(ctx context.Context) (bool, error)
	// NodeAddresses returns the addresses of the primary and every
	// secondary in the deployment, for per-node autoCompact fan-out.
	NodeAddresses(ctx context.Context) ([]string, error)
}
