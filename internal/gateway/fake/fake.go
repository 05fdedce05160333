// Package fake provides an in-memory implementation of gateway.Gateway for
// testing the orchestrator, reconciler, processor, and driver without a
// real MongoDB deployment. It supports single-fault injection so property
// tests can exercise the retry/reconciliation behavior described by
// spec.md's testable properties.
package fake

import (
	"context"
	"sync"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/gateway"
	"github.com/mongoreindex/mongoreindex/internal/indexspec"
)

// Gateway is an in-memory, single-database fake implementation of
// gateway.Gateway.
type Gateway struct {
	mu sync.Mutex

	cluster       string
	version       gateway.ServerVersion
	primary       bool
	nodes         []string
	collections   map[string]map[string]mongoreindex.OriginalIndex // coll -> name -> index
	stats         map[string]gateway.CollStats
	autoCompactOn bool

	// faults maps an operation name to an error to return exactly once.
	faults map[string]error
	calls  []string
}

// New creates a fake gateway seeded with reasonable defaults: a replica
// set name, server version 7.0.0, and primary status.
func New() *Gateway {
	return &Gateway{
		cluster:     "rs-fake",
		version:     gateway.ServerVersion{Major: 7, Minor: 0, Patch: 0},
		primary:     true,
		nodes:       []string{"node-0:27017"},
		collections: make(map[string]map[string]mongoreindex.OriginalIndex),
		stats:       make(map[string]gateway.CollStats),
		faults:      make(map[string]error),
	}
}

// Seed registers a collection with the given indexes, always including
// the mandatory _id_ index.
func (g *Gateway) Seed(coll string, idx ...mongoreindex.OriginalIndex) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := map[string]mongoreindex.OriginalIndex{
		mongoreindex.IDIndexName: {Name: mongoreindex.IDIndexName, Spec: mongoreindex.IndexSpec{Name: mongoreindex.IDIndexName, Keys: []mongoreindex.IndexKey{{Field: "_id", Value: 1}}}},
	}
	for _, i := range idx {
		m[i.Name] = i
	}
	g.collections[coll] = m
	if _, ok := g.stats[coll]; !ok {
		g.stats[coll] = gateway.CollStats{StorageSize: 1000, Count: 0}
	}
}

// SetStats overrides the collStats response for a collection, for
// exercising compaction reclamation accounting.
func (g *Gateway) SetStats(coll string, s gateway.CollStats) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats[coll] = s
}

// SetPrimary controls what IsPrimary reports, for exercising the
// refuse-compact-on-primary precondition.
func (g *Gateway) SetPrimary(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.primary = v
}

// FailNextCall arranges for the next invocation of the named operation to
// return err instead of succeeding. Operation names match those passed to
// classify() in the mongodb package: create_index, drop_index,
// list_indexes, compact, auto_compact.
func (g *Gateway) FailNextCall(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faults[op] = err
}

// Calls returns the list of operations invoked so far, in order — used to
// assert that an aborted run issued zero further mutating calls (P6).
func (g *Gateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// consumeFault returns and clears a pending fault for op, recording the
// call regardless of outcome.
func (g *Gateway) consumeFault(op string) error {
	g.calls = append(g.calls, op)
	if err, ok := g.faults[op]; ok {
		delete(g.faults, op)
		return err
	}
	return nil
}

func (g *Gateway) Open(ctx context.Context) error  { return nil }
func (g *Gateway) Close(ctx context.Context) error { return nil }

func (g *Gateway) ListCollections(ctx context.Context, db string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("list_collections"); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(g.collections))
	for name := range g.collections {
		out = append(out, name)
	}
	return out, nil
}

func (g *Gateway) ListIndexes(ctx context.Context, db, coll string) ([]mongoreindex.OriginalIndex, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("list_indexes"); err != nil {
		return nil, err
	}
	m := g.collections[coll]
	out := make([]mongoreindex.OriginalIndex, 0, len(m))
	for _, idx := range m {
		out = append(out, idx)
	}
	return out, nil
}

func (g *Gateway) CreateIndex(ctx context.Context, db, coll string, spec mongoreindex.IndexSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("create_index"); err != nil {
		return err
	}
	m := g.collections[coll]
	if m == nil {
		m = make(map[string]mongoreindex.OriginalIndex)
		g.collections[coll] = m
	}
	if existing, ok := m[spec.Name]; ok && !indexspec.Equivalent(existing.Spec, spec) {
		return gateway.ErrIndexConflict
	}
	m[spec.Name] = mongoreindex.OriginalIndex{Name: spec.Name, Spec: spec}
	return nil
}

func (g *Gateway) DropIndex(ctx context.Context, db, coll, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("drop_index"); err != nil {
		return err
	}
	delete(g.collections[coll], name)
	return nil
}

func (g *Gateway) CollStats(ctx context.Context, db, coll string) (gateway.CollStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("coll_stats"); err != nil {
		return gateway.CollStats{}, err
	}
	return g.stats[coll], nil
}

func (g *Gateway) Compact(ctx context.Context, db, coll string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("compact"); err != nil {
		return err
	}
	s := g.stats[coll]
	s.StorageSize = s.StorageSize / 2
	g.stats[coll] = s
	return nil
}

func (g *Gateway) AutoCompact(ctx context.Context, enable bool, runOnce bool, freeSpaceTargetMB int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("auto_compact"); err != nil {
		return err
	}
	g.autoCompactOn = enable
	if enable && runOnce {
		for coll, s := range g.stats {
			s.StorageSize = s.StorageSize / 2
			g.stats[coll] = s
		}
	}
	return nil
}

func (g *Gateway) CurrentOp(ctx context.Context, filter map[string]any) ([]gateway.Op, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("current_op"); err != nil {
		return nil, err
	}
	// The fake always reports compaction as already finished: no matching
	// op, which is the documented stopping rule.
	return nil, nil
}

func (g *Gateway) ClusterName(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("cluster_name"); err != nil {
		return "", err
	}
	return g.cluster, nil
}

func (g *Gateway) ServerVersion(ctx context.Context) (gateway.ServerVersion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("server_version"); err != nil {
		return gateway.ServerVersion{}, err
	}
	return g.version, nil
}

func (g *Gateway) IsPrimary(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("is_primary"); err != nil {
		return false, err
	}
	return g.primary, nil
}

func (g *Gateway) NodeAddresses(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.consumeFault("node_addresses"); err != nil {
		return nil, err
	}
	return append([]string(nil), g.nodes...), nil
}

var _ gateway.Gateway = (*Gateway)(nil)
