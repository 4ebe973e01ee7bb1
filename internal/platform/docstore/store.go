// Package docstore provides a small JSON document store with filter, patch and
// counter primitives. Domain packages persist aggregates through the Store
// interface and never see the backing database.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no document matched the filter.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrDuplicate indicates a unique constraint rejected the write.
	ErrDuplicate = errors.New("docstore: duplicate document")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("docstore: store unavailable")
	// ErrInvalidPath indicates a malformed field path or an array index out of range.
	ErrInvalidPath = errors.New("docstore: invalid path")
)

// Reserved field names addressing document metadata instead of body fields.
const (
	FieldID        = "_id"
	FieldVersion   = "_version"
	FieldCreatedAt = "_createdAt"
	FieldUpdatedAt = "_updatedAt"
)

// Document is a stored JSON body plus its metadata.
type Document struct {
	ID        string
	Version   int64
	Body      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Body, v)
}

// Store is the document persistence contract consumed by domain services.
type Store interface {
	// Insert stores body under id. An empty id is replaced by a generated one.
	Insert(ctx context.Context, collection, id string, body any) (Document, error)
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	FindMany(ctx context.Context, collection string, q Query) ([]Document, int, error)
	// UpdateOne applies patch to the first document matching filter and bumps its version.
	UpdateOne(ctx context.Context, collection string, filter Filter, patch Patch) (Document, error)
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)
	Count(ctx context.Context, collection string, filter Filter) (int, error)
	Sum(ctx context.Context, collection string, filter Filter, fields ...string) (map[string]float64, error)
}

// SeedFunc returns the authoritative starting value for a counter key that
// does not exist yet.
type SeedFunc func(ctx context.Context) (int64, error)

// Counter hands out strictly increasing values per key.
type Counter interface {
	Next(ctx context.Context, key string, seed SeedFunc) (int64, error)
}
