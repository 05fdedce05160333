package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/gateway"
)

// ListCollections lists user collections in db, filtering out views and
// system.* namespaces.
func (g *Gateway) ListCollections(ctx context.Context, db string) ([]string, error) {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	f := bson.D{{Key: "type", Value: "collection"}}
	names, err := g.client.Database(db).ListCollectionNames(ctx, f)
	if err != nil {
		return nil, classify("list_collections", err)
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		if len(n) >= 7 && n[:7] == "system." {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// ListIndexes lists all indexes on db.coll.
func (g *Gateway) ListIndexes(ctx context.Context, db, coll string) ([]mongoreindex.OriginalIndex, error) {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	cur, err := g.collection(db, coll).Indexes().List(ctx)
	if err != nil {
		return nil, classify("list_indexes", err)
	}
	var raw []bson.Raw
	if err := cur.All(ctx, &raw); err != nil {
		return nil, classify("list_indexes", err)
	}

	out := make([]mongoreindex.OriginalIndex, 0, len(raw))
	for _, doc := range raw {
		out = append(out, decodeIndex(doc))
	}
	return out, nil
}

// decodeIndex converts a raw listIndexes document into an OriginalIndex.
// Unrecognized option keys are intentionally dropped: IndexSpecModel only
// cares about the options spec.md enumerates.
func decodeIndex(raw bson.Raw) mongoreindex.OriginalIndex {
	var doc bson.M
	_ = bson.Unmarshal(raw, &doc)
	name, _ := doc["name"].(string)

	var keys []mongoreindex.IndexKey
	// The registry maps every embedded document to bson.M, which loses
	// field order; "key" must stay ordered (spec.md §3 compares key
	// sequences element-wise), so it's decoded straight off the raw bytes
	// into a bson.D instead of through the generic doc map above.
	if kv, err := raw.LookupErr("key"); err == nil {
		var kd bson.D
		if err := kv.Unmarshal(&kd); err == nil {
			for _, e := range kd {
				keys = append(keys, mongoreindex.IndexKey{Field: e.Key, Value: e.Value})
			}
		}
	}

	opts := mongoreindex.IndexOptions{}
	if v, ok := doc["unique"].(bool); ok {
		opts.Unique = v
	}
	if v, ok := doc["sparse"].(bool); ok {
		opts.Sparse = v
	}
	if v, ok := doc["hidden"].(bool); ok {
		opts.Hidden = v
	}
	if v, ok := doc["partialFilterExpression"].(bson.M); ok {
		opts.PartialFilterExpr = map[string]any(v)
	}
	if v, ok := asInt32(doc["expireAfterSeconds"]); ok {
		opts.ExpireAfterSeconds = &v
	}
	if v, ok := doc["collation"].(bson.M); ok {
		opts.Collation = map[string]any(v)
	}
	if v, ok := doc["weights"].(bson.M); ok {
		opts.Weights = map[string]any(v)
	}
	if v, ok := asInt32(doc["2dsphereIndexVersion"]); ok {
		opts.TwoDSphereIndexVer = v
	}

	return mongoreindex.OriginalIndex{
		Name: name,
		Spec: mongoreindex.IndexSpec{
			Name:    name,
			Keys:    keys,
			Options: opts,
		},
	}
}

func asInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int64:
		return int32(n), true
	case int:
		return int32(n), true
	case float64:
		return int32(n), true
	default:
		return 0, false
	}
}

// indexKeysDocument converts an ordered key sequence into a bson.D,
// preserving field order since key order is significant.
func indexKeysDocument(keys []mongoreindex.IndexKey) bson.D {
	d := make(bson.D, 0, len(keys))
	for _, k := range keys {
		d = append(d, bson.E{Key: k.Field, Value: k.Value})
	}
	return d
}

// indexOptionsDocument builds the *options.IndexOptions for a create_index
// call from the normalized IndexOptions record.
func indexOptionsDocument(name string, o mongoreindex.IndexOptions) *options.IndexOptions {
	opt := options.Index().SetName(name)
	if o.Unique {
		opt = opt.SetUnique(true)
	}
	if o.Sparse {
		opt = opt.SetSparse(true)
	}
	if o.Hidden {
		opt = opt.SetHidden(true)
	}
	if len(o.PartialFilterExpr) > 0 {
		opt = opt.SetPartialFilterExpression(bson.M(o.PartialFilterExpr))
	}
	if o.ExpireAfterSeconds != nil {
		opt = opt.SetExpireAfterSeconds(*o.ExpireAfterSeconds)
	}
	if len(o.Collation) > 0 {
		var c options.Collation
		if loc, ok := o.Collation["locale"].(string); ok {
			c.Locale = loc
		}
		opt = opt.SetCollation(&c)
	}
	if len(o.Weights) > 0 {
		opt = opt.SetWeights(bson.M(o.Weights))
	}
	if o.TwoDSphereIndexVer != 0 {
		opt = opt.SetSphereVersion(o.TwoDSphereIndexVer)
	}
	return opt
}

// CreateIndex creates an index and blocks until the online build
// completes. If an index with the same name already exists, MongoDB
// returns success without rebuilding as long as the spec matches; a
// mismatched spec surfaces as IndexOptionsConflict, which the caller (the
// orchestrator) is expected to resolve by dropping and recreating.
func (g *Gateway) CreateIndex(ctx context.Context, db, coll string, spec mongoreindex.IndexSpec) error {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	m := mongo.IndexModel{
		Keys:    indexKeysDocument(spec.Keys),
		Options: indexOptionsDocument(spec.Name, spec.Options),
	}
	if _, err := g.collection(db, coll).Indexes().CreateOne(ctx, m); err != nil {
		if indexOptionsConflict(err) {
			return gateway.ErrIndexConflict
		}
		return classify("create_index", err)
	}
	return nil
}

// DropIndex drops an index by name. Idempotent: returns nil if the index
// is already absent.
func (g *Gateway) DropIndex(ctx context.Context, db, coll, name string) error {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	if _, err := g.collection(db, coll).Indexes().DropOne(ctx, name); err != nil {
		if indexNotFound(err) {
			return nil
		}
		return classify("drop_index", err)
	}
	return nil
}

// IndexOptionsConflict reports whether err reflects a mismatched spec for
// an index that already exists under the requested name.
func IndexOptionsConflict(err error) bool {
	return indexOptionsConflict(err)
}
