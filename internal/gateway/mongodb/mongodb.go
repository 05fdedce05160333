// Package mongodb implements the gateway.Gateway interface against a real
// MongoDB deployment.
package mongodb

import (
	"context"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config contains configurations for the MongoDB gateway. Fields carry
// arg tags so they can be embedded directly into a CLI args struct, in
// the same style as the rest of internal/config.
type Config struct {
	URI          string        `arg:"--uri,required,env:MONGODB_URI" placeholder:"URI" help:"connection URI of the MongoDB deployment to connect to"`
	Database     string        `arg:"--database,required,env:MONGODB_DATABASE" placeholder:"NAME" help:"name of the database to operate on"`
	CallDeadline time.Duration `arg:"--call-deadline" placeholder:"DURATION" help:"per-call deadline applied to every MongoDB RPC" default:"5m"`
}

// Gateway implements gateway.Gateway against a real MongoDB deployment.
type Gateway struct {
	config   *Config
	client   *mongo.Client
	database *mongo.Database
}

// New creates a new MongoDB gateway instance without connecting; I/O
// happens in Open.
func New(c *Config) (*Gateway, error) {
	// By default, BSON documents decode into interface values as bson.D.
	// This custom registry maps bsontype.EmbeddedDocument entries to
	// bson.M, which is easier to normalize and JSON-marshal.
	r := bson.NewRegistryBuilder().RegisterTypeMapEntry(bsontype.EmbeddedDocument, reflect.TypeOf(bson.M{})).Build()

	client, err := mongo.NewClient(options.Client().ApplyURI(c.URI).SetRegistry(r))
	if err != nil {
		return nil, err
	}

	return &Gateway{
		config:   c,
		client:   client,
		database: client.Database(c.Database),
	}, nil
}

// Open connects to the deployment. Ping is intentionally not used here:
// requiring a successful ping at startup would make the process fail to
// start during a brief primary failover.
func (g *Gateway) Open(ctx context.Context) error {
	return g.client.Connect(ctx)
}

// Close disconnects from the deployment.
func (g *Gateway) Close(ctx context.Context) error {
	return g.client.Disconnect(ctx)
}

// Ready probes the deployment and returns an error if it is not ready.
func (g *Gateway) Ready(ctx context.Context) error {
	return g.client.Ping(ctx, readpref.Primary())
}

// withDeadline applies the configured per-call deadline to ctx if it does
// not already carry one.
func (g *Gateway) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.config.CallDeadline)
}

// collection returns a handle for db.coll.
func (g *Gateway) collection(db, coll string) *mongo.Collection {
	if db == g.config.Database {
		return g.database.Collection(coll)
	}
	return g.client.Database(db).Collection(coll)
}
