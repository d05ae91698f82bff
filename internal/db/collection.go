package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidID is returned when an id is not a 24-character hex ObjectID.
	ErrInvalidID = errors.New("invalid document id")
)

// Document is a schemaless record as stored in MongoDB.
type Document = bson.M

// Collection is a generic document store bound to one MongoDB collection.
// The handle is resolved from the Connector on every call so it can be
// constructed before the connection is established.
type Collection struct {
	conn *Connector
	name string
	now  func() time.Time
}

// NewCollection returns a store for the named collection.
func NewCollection(conn *Connector, name string) *Collection {
	return &Collection{conn: conn, name: name, now: time.Now}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) coll() (*mongo.Collection, error) {
	database := c.conn.Database()
	if database == nil {
		return nil, ErrNotConnected
	}
	return database.Collection(c.name), nil
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return oid, nil
}

// Insert stores doc and returns its generated id. Any caller-supplied _id
// or timestamps are overwritten.
func (c *Collection) Insert(ctx context.Context, doc Document) (Document, error) {
	coll, err := c.coll()
	if err != nil {
		return nil, err
	}

	stored := make(Document, len(doc)+3)
	for k, v := range doc {
		stored[k] = v
	}
	now := primitive.NewDateTimeFromTime(c.now())
	stored["_id"] = primitive.NewObjectID()
	stored["createdAt"] = now
	stored["updatedAt"] = now

	if _, err := coll.InsertOne(ctx, stored); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", c.name, err)
	}
	return stored, nil
}

// List returns up to limit documents, newest first.
func (c *Collection) List(ctx context.Context, limit int64) ([]Document, error) {
	coll, err := c.coll()
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(limit)

	cur, err := coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.name, err)
	}

	docs := make([]Document, 0)
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}
	return docs, nil
}

// Get returns the document with the given id.
func (c *Collection) Get(ctx context.Context, id string) (Document, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	coll, err := c.coll()
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find %s/%s: %w", c.name, id, err)
	}
	return doc, nil
}

// Update merges fields into the document and returns the updated version.
func (c *Collection) Update(ctx context.Context, id string, fields Document) (Document, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	coll, err := c.coll()
	if err != nil {
		return nil, err
	}

	set := make(Document, len(fields)+1)
	for k, v := range fields {
		if k == "_id" || k == "createdAt" {
			continue
		}
		set[k] = v
	}
	set["updatedAt"] = primitive.NewDateTimeFromTime(c.now())

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc Document
	err = coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update %s/%s: %w", c.name, id, err)
	}
	return doc, nil
}

// Delete removes the document with the given id.
func (c *Collection) Delete(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	coll, err := c.coll()
	if err != nil {
		return err
	}

	res, err := coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", c.name, id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
