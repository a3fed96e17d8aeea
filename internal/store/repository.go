// Package store implements the abstract document Repository (SPEC_FULL.md §6) as a generic
// Postgres JSONB collection: one table, many logical collections, so every domain package
// shares a single storage adapter instead of a hand-rolled typed repository each.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by FindOne, UpdateOne, ReplaceOne, and DeleteOne when no document
// matches the query.
var ErrNotFound = errors.New("store: document not found")

// Query is a set of equality filters matched against a document's top-level fields. An empty
// Query matches every document in the collection.
type Query map[string]any

// Sort orders Find results by a single top-level field.
type Sort struct {
	Field      string
	Descending bool
}

// Document is a single stored record: its logical id and its JSON-encoded body.
type Document struct {
	ID   string
	Data []byte
}

// Result reports the effect of a mutating Repository call.
type Result struct {
	InsertedID    string
	ModifiedCount int64
	DeletedCount  int64
}

// Repository is the abstract persistent document store every domain package is built against.
// It is intentionally collection-style (find/insert/update/replace/delete by filter) rather
// than table-and-column shaped, matching the MongoDB-like contract SPEC_FULL.md §6 names.
//
// Every doc argument to InsertOne and ReplaceOne must marshal to a JSON object with a top-level
// string "id" field; that field becomes the document's id and the value Query{"id": ...} matches
// against. UpdateOne patches need no id.
type Repository interface {
	FindOne(ctx context.Context, collection string, query Query) (Document, error)
	Find(ctx context.Context, collection string, query Query, sort Sort) ([]Document, error)
	InsertOne(ctx context.Context, collection string, doc any) (Result, error)
	UpdateOne(ctx context.Context, collection string, query Query, patch any) (Result, error)
	ReplaceOne(ctx context.Context, collection string, query Query, doc any) (Result, error)
	DeleteOne(ctx context.Context, collection string, query Query) (Result, error)
	DeleteMany(ctx context.Context, collection string, query Query) (Result, error)
	Count(ctx context.Context, collection string, query Query) (int64, error)
}
