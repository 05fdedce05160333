package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoreindex/mongoreindex/internal/gateway"
)

// CollStats returns storage statistics for db.coll. storageSize is the
// only field the rebuild ever reports for reclamation accounting;
// collStats.size (the logical data size) is intentionally not surfaced
// here so no caller can accidentally use it.
func (g *Gateway) CollStats(ctx context.Context, db, coll string) (gateway.CollStats, error) {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	cmd := bson.D{{Key: "collStats", Value: coll}}
	var out struct {
		StorageSize int64 `bson:"storageSize"`
		Count       int64 `bson:"count"`
	}
	if err := g.client.Database(db).RunCommand(ctx, cmd).Decode(&out); err != nil {
		return gateway.CollStats{}, classify("coll_stats", err)
	}
	return gateway.CollStats{StorageSize: out.StorageSize, Count: out.Count}, nil
}
