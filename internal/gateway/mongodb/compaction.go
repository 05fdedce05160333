package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoreindex/mongoreindex/internal/gateway"
)

// Compact runs the compact command against db.coll. MongoDB refuses this
// command on a primary in most deployments; the caller is expected to
// check IsPrimary first and surface a Precondition error rather than
// attempting the call and hoping for a clean refusal.
func (g *Gateway) Compact(ctx context.Context, db, coll string) error {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	cmd := bson.D{{Key: "compact", Value: coll}}
	if err := g.client.Database(db).RunCommand(ctx, cmd).Err(); err != nil {
		return classify("compact", err)
	}
	return nil
}

// AutoCompact issues { autoCompact: enable, runOnce, freeSpaceTargetMB }
// against the connected node. Disabling (enable=false) is always safe to
// call even if no autoCompact run is in progress, so callers can
// unconditionally defer it as their try/finally cleanup.
func (g *Gateway) AutoCompact(ctx context.Context, enable bool, runOnce bool, freeSpaceTargetMB int) error {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	cmd := bson.D{{Key: "autoCompact", Value: enable}}
	if enable {
		cmd = append(cmd, bson.E{Key: "runOnce", Value: runOnce})
		if freeSpaceTargetMB > 0 {
			cmd = append(cmd, bson.E{Key: "freeSpaceTargetMB", Value: freeSpaceTargetMB})
		}
	}
	if err := g.client.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		return classify("auto_compact", err)
	}
	return nil
}

// CurrentOp lists in-flight operations matching filter. The stopping rule
// for autoCompact/compact progress is "no matching op in currentOp" —
// callers poll this on an interval until the result is empty.
func (g *Gateway) CurrentOp(ctx context.Context, filter map[string]any) ([]gateway.Op, error) {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	agg := bson.D{{Key: "$currentOp", Value: bson.D{{Key: "allUsers", Value: true}}}}
	pipeline := []bson.D{agg, {{Key: "$match", Value: bson.M(filter)}}}

	cur, err := g.client.Database("admin").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, classify("current_op", err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, classify("current_op", err)
	}

	out := make([]gateway.Op, 0, len(raw))
	for _, doc := range raw {
		op := gateway.Op{}
		if v, ok := doc["opid"]; ok {
			op.OpID = toString(v)
		}
		if v, ok := doc["desc"].(string); ok {
			op.Desc = v
		}
		if v, ok := doc["ns"].(string); ok {
			op.Ns = v
		}
		out = append(out, op)
	}
	return out, nil
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
