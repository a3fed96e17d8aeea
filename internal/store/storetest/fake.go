// Package storetest provides an in-memory store.Repository for exercising domain service code
// in tests without a live Postgres connection.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/nocturnechat/nocturne-gateway/internal/store"
)

// ErrUniqueViolation is returned by InsertOne when a document with the same id already exists
// in the collection. store.IsUniqueViolation does not recognize it (that check is specific to
// pgconn.PgError); tests that need to exercise the collision-retry path should check for this
// sentinel directly rather than through store.IsUniqueViolation.
var ErrUniqueViolation = errors.New("storetest: document already exists")

// Repository is a minimal, non-concurrent-safe-across-collections-but-mutex-guarded in-memory
// implementation of store.Repository, keyed by collection then id.
type Repository struct {
	mu   sync.Mutex
	docs map[string]map[string][]byte
}

// New returns an empty Repository.
func New() *Repository {
	return &Repository{docs: make(map[string]map[string][]byte)}
}

func (f *Repository) FindOne(_ context.Context, collection string, query store.Query) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := query["id"].(string); ok {
		data, ok := f.docs[collection][id]
		if !ok {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{ID: id, Data: data}, nil
	}

	for id, data := range f.docs[collection] {
		if matches(data, query) {
			return store.Document{ID: id, Data: data}, nil
		}
	}
	return store.Document{}, store.ErrNotFound
}

func (f *Repository) Find(_ context.Context, collection string, query store.Query, _ store.Sort) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []store.Document
	for id, data := range f.docs[collection] {
		if matches(data, query) {
			out = append(out, store.Document{ID: id, Data: data})
		}
	}
	return out, nil
}

func (f *Repository) InsertOne(_ context.Context, collection string, doc any) (store.Result, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return store.Result{}, err
	}
	var withID struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &withID); err != nil {
		return store.Result{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[collection] == nil {
		f.docs[collection] = make(map[string][]byte)
	}
	if _, exists := f.docs[collection][withID.ID]; exists {
		return store.Result{}, ErrUniqueViolation
	}
	f.docs[collection][withID.ID] = data
	return store.Result{InsertedID: withID.ID}, nil
}

func (f *Repository) UpdateOne(_ context.Context, collection string, query store.Query, patch any) (store.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, existing, ok := f.locate(collection, query)
	if !ok {
		return store.Result{}, store.ErrNotFound
	}

	var merged map[string]any
	_ = json.Unmarshal(existing, &merged)
	patchData, _ := json.Marshal(patch)
	var patchMap map[string]any
	_ = json.Unmarshal(patchData, &patchMap)
	for k, v := range patchMap {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return store.Result{}, err
	}
	f.docs[collection][id] = out
	return store.Result{ModifiedCount: 1}, nil
}

func (f *Repository) ReplaceOne(_ context.Context, collection string, query store.Query, doc any) (store.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, _, ok := f.locate(collection, query)
	if !ok {
		return store.Result{}, store.ErrNotFound
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return store.Result{}, err
	}
	f.docs[collection][id] = data
	return store.Result{ModifiedCount: 1}, nil
}

func (f *Repository) DeleteOne(_ context.Context, collection string, query store.Query) (store.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, _, ok := f.locate(collection, query)
	if !ok {
		return store.Result{}, store.ErrNotFound
	}
	delete(f.docs[collection], id)
	return store.Result{DeletedCount: 1}, nil
}

func (f *Repository) DeleteMany(_ context.Context, collection string, query store.Query) (store.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for id, data := range f.docs[collection] {
		if matches(data, query) {
			delete(f.docs[collection], id)
			n++
		}
	}
	return store.Result{DeletedCount: n}, nil
}

func (f *Repository) Count(_ context.Context, collection string, query store.Query) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, data := range f.docs[collection] {
		if matches(data, query) {
			n++
		}
	}
	return n, nil
}

// locate finds the (id, data) pair in collection matching query. Callers must hold f.mu.
func (f *Repository) locate(collection string, query store.Query) (string, []byte, bool) {
	if id, ok := query["id"].(string); ok {
		data, ok := f.docs[collection][id]
		return id, data, ok
	}
	for id, data := range f.docs[collection] {
		if matches(data, query) {
			return id, data, true
		}
	}
	return "", nil, false
}

// matches reports whether every field in query equals the corresponding top-level field in
// data, mirroring the real repository's jsonb containment semantics closely enough for tests.
func matches(data []byte, query store.Query) bool {
	if len(query) == 0 {
		return true
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	for k, v := range query {
		docVal, ok := doc[k]
		if !ok {
			return false
		}
		if toComparable(docVal) != toComparable(v) {
			return false
		}
	}
	return true
}

// toComparable normalizes JSON-decoded values and Go literals so numeric types compare equal
// regardless of whether they came from json.Unmarshal (float64) or a literal int in a test.
func toComparable(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return v
	}
}
