package mongodb

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoreindex/mongoreindex/internal/gateway"
)

// ClusterName returns the replica-set name if available, otherwise a
// deterministic hash of the seed host list. Never empty.
func (g *Gateway) ClusterName(ctx context.Context) (string, error) {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	var status struct {
		Set string `bson:"set"`
	}
	err := g.client.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).Decode(&status)
	if err == nil && status.Set != "" {
		return status.Set, nil
	}

	// Not a replica set (or replSetGetStatus is unavailable, e.g. on a
	// standalone or mongos): derive a deterministic identifier from the
	// seed host list instead of failing the whole operation.
	hosts := hostsFromConnectionString(g.config.URI)
	return hashHosts(hosts), nil
}

// hostsFromConnectionString extracts the host list from a mongodb:// URI
// without pulling in a URL-parsing dependency beyond the stdlib, since the
// driver already validated the URI during New.
func hostsFromConnectionString(uri string) []string {
	s := uri
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ",")
	sort.Strings(parts)
	return parts
}

// hashHosts computes a short, stable, filename-safe identifier from a host
// list. Sorts its own copy first so the result is independent of the
// caller's ordering.
func hashHosts(hosts []string) string {
	sorted := make([]string, len(hosts))
	copy(sorted, hosts)
	sort.Strings(sorted)

	h := fnv.New64a()
	h.Write([]byte(strings.Join(sorted, ",")))
	return "cluster-" + strconv.FormatUint(h.Sum64(), 36)
}

// ServerVersion returns the connected deployment's version.
func (g *Gateway) ServerVersion(ctx context.Context) (gateway.ServerVersion, error) {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	var out struct {
		Version string `bson:"version"`
	}
	if err := g.client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&out); err != nil {
		return gateway.ServerVersion{}, classify("server_version", err)
	}
	return parseVersion(out.Version), nil
}

func parseVersion(s string) gateway.ServerVersion {
	var v gateway.ServerVersion
	fmt.Sscanf(s, "%d.%d.%d", &v.Major, &v.Minor, &v.Patch)
	return v
}

// IsPrimary reports whether the connection is currently talking to a
// primary (or a standalone, which counts as its own primary).
func (g *Gateway) IsPrimary(ctx context.Context) (bool, error) {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	var out struct {
		IsMaster    bool `bson:"isWritablePrimary"`
		SetName     string `bson:"setName"`
	}
	if err := g.client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&out); err != nil {
		return false, classify("is_primary", err)
	}
	if out.SetName == "" {
		// Standalone deployment: there is no replica set, so the single
		// node is always its own primary for the purposes of refusing
		// compact on a primary.
		return true, nil
	}
	return out.IsMaster, nil
}

// NodeAddresses returns the addresses of the primary and every secondary
// in the deployment, for per-node autoCompact fan-out.
func (g *Gateway) NodeAddresses(ctx context.Context) ([]string, error) {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	var status struct {
		Members []struct {
			Name string `bson:"name"`
		} `bson:"members"`
	}
	err := g.client.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).Decode(&status)
	if err != nil {
		// Not a replica set: the single connected node is the only target.
		return hostsFromConnectionString(g.config.URI), nil
	}

	out := make([]string, 0, len(status.Members))
	for _, m := range status.Members {
		out = append(out, m.Name)
	}
	return out, nil
}
