// Package catalog wraps a MongoDB database with the domain-level
// operations the orchestrator needs: existence check by hash, and
// record insert. Two collections exist, "images" and "videos"; which
// one a given call affects is chosen explicitly by the caller rather
// than through mutable client-side state, so concurrent stages can't
// race on a forgotten SelectCollection call.
package catalog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yinguobing/dwarf/internal/model"
)

const connectTimeout = 10 * time.Second

// Catalog wraps the Mongo client and exposes domain-level operations.
type Catalog struct {
	client *mongo.Client
	db     *mongo.Database
}

// Dial connects to MongoDB and verifies the connection with a Ping.
func Dial(ctx context.Context, uri, dbName string) (*Catalog, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}

	return &Catalog{client: client, db: client.Database(dbName)}, nil
}

// Close disconnects the underlying Mongo client.
func (c *Catalog) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// EnsureIndexes creates a unique index on "hash" in the named collection.
// This is the concurrency backstop spec.md §4.4 recommends: the
// orchestrator's own Exists-before-Insert check is the primary defense,
// the index defends against a second consumer existing despite the
// single-consumer deployment assumption.
func (c *Catalog) EnsureIndexes(ctx context.Context, collection string) error {
	_, err := c.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "hash", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Exists reports whether a record with the given hash is already present
// in the named collection.
func (c *Catalog) Exists(ctx context.Context, hash, collection string) (bool, error) {
	err := c.db.Collection(collection).FindOne(ctx, bson.M{"hash": hash}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("catalog: exists: %w", err)
	}
	return true, nil
}

// Insert inserts record into the named collection and returns the opaque
// record id Mongo assigns.
func (c *Catalog) Insert(ctx context.Context, collection string, record *model.Record) (any, error) {
	res, err := c.db.Collection(collection).InsertOne(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("catalog: insert: %w", err)
	}
	return res.InsertedID, nil
}

// NameFor returns the configured collection name for a routed collection.
func NameFor(routed model.Collection, images, videos string) string {
	if routed == model.CollectionVideos {
		return videos
	}
	return images
}
