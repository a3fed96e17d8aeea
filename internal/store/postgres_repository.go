package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository against a single `documents(collection, id, data)`
// table, where data is jsonb. Equality filters in a Query are matched with jsonb containment
// (@>); this covers every filter shape the domain packages need (lookup by id, by guild_id, by
// channel_id, ...) without needing a query language richer than the spec's interface implies.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an already-connected pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (r *PostgresRepository) FindOne(ctx context.Context, collection string, query Query) (Document, error) {
	filter, err := json.Marshal(query)
	if err != nil {
		return Document{}, fmt.Errorf("store: marshal query: %w", err)
	}

	var id string
	var data []byte
	row := r.pool.QueryRow(ctx,
		`SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb LIMIT 1`,
		collection, filter)
	if err := row.Scan(&id, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("store: find one in %s: %w", collection, err)
	}
	return Document{ID: id, Data: data}, nil
}

func (r *PostgresRepository) Find(ctx context.Context, collection string, query Query, sort Sort) ([]Document, error) {
	filter, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("store: marshal query: %w", err)
	}

	stmt := `SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb`
	if sort.Field != "" {
		if !identifierPattern.MatchString(sort.Field) {
			return nil, fmt.Errorf("store: invalid sort field %q", sort.Field)
		}
		direction := "ASC"
		if sort.Descending {
			direction = "DESC"
		}
		stmt += fmt.Sprintf(` ORDER BY data->>'%s' %s`, sort.Field, direction)
	}

	rows, err := r.pool.Query(ctx, stmt, collection, filter)
	if err != nil {
		return nil, fmt.Errorf("store: find in %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Data); err != nil {
			return nil, fmt.Errorf("store: scan row in %s: %w", collection, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate rows in %s: %w", collection, err)
	}
	return docs, nil
}

func (r *PostgresRepository) InsertOne(ctx context.Context, collection string, doc any) (Result, error) {
	data, id, err := encodeDocument(doc)
	if err != nil {
		return Result{}, err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
		collection, id, data)
	if err != nil {
		return Result{}, fmt.Errorf("store: insert one into %s: %w", collection, err)
	}
	return Result{InsertedID: id}, nil
}

func (r *PostgresRepository) UpdateOne(ctx context.Context, collection string, query Query, patch any) (Result, error) {
	filter, err := json.Marshal(query)
	if err != nil {
		return Result{}, fmt.Errorf("store: marshal query: %w", err)
	}
	patchData, err := json.Marshal(patch)
	if err != nil {
		return Result{}, fmt.Errorf("store: marshal patch: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET data = data || $3::jsonb
		WHERE ctid = (
			SELECT ctid FROM documents WHERE collection = $1 AND data @> $2::jsonb LIMIT 1
		)`, collection, filter, patchData)
	if err != nil {
		return Result{}, fmt.Errorf("store: update one in %s: %w", collection, err)
	}
	if tag.RowsAffected() == 0 {
		return Result{}, ErrNotFound
	}
	return Result{ModifiedCount: tag.RowsAffected()}, nil
}

func (r *PostgresRepository) ReplaceOne(ctx context.Context, collection string, query Query, doc any) (Result, error) {
	filter, err := json.Marshal(query)
	if err != nil {
		return Result{}, fmt.Errorf("store: marshal query: %w", err)
	}
	data, _, err := encodeDocument(doc)
	if err != nil {
		return Result{}, err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET data = $3::jsonb
		WHERE ctid = (
			SELECT ctid FROM documents WHERE collection = $1 AND data @> $2::jsonb LIMIT 1
		)`, collection, filter, data)
	if err != nil {
		return Result{}, fmt.Errorf("store: replace one in %s: %w", collection, err)
	}
	if tag.RowsAffected() == 0 {
		return Result{}, ErrNotFound
	}
	return Result{ModifiedCount: tag.RowsAffected()}, nil
}

func (r *PostgresRepository) DeleteOne(ctx context.Context, collection string, query Query) (Result, error) {
	filter, err := json.Marshal(query)
	if err != nil {
		return Result{}, fmt.Errorf("store: marshal query: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		DELETE FROM documents
		WHERE ctid = (
			SELECT ctid FROM documents WHERE collection = $1 AND data @> $2::jsonb LIMIT 1
		)`, collection, filter)
	if err != nil {
		return Result{}, fmt.Errorf("store: delete one from %s: %w", collection, err)
	}
	if tag.RowsAffected() == 0 {
		return Result{}, ErrNotFound
	}
	return Result{DeletedCount: tag.RowsAffected()}, nil
}

func (r *PostgresRepository) DeleteMany(ctx context.Context, collection string, query Query) (Result, error) {
	filter, err := json.Marshal(query)
	if err != nil {
		return Result{}, fmt.Errorf("store: marshal query: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND data @> $2::jsonb`,
		collection, filter)
	if err != nil {
		return Result{}, fmt.Errorf("store: delete many from %s: %w", collection, err)
	}
	return Result{DeletedCount: tag.RowsAffected()}, nil
}

func (r *PostgresRepository) Count(ctx context.Context, collection string, query Query) (int64, error) {
	filter, err := json.Marshal(query)
	if err != nil {
		return 0, fmt.Errorf("store: marshal query: %w", err)
	}

	var n int64
	row := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM documents WHERE collection = $1 AND data @> $2::jsonb`,
		collection, filter)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count in %s: %w", collection, err)
	}
	return n, nil
}

// encodeDocument marshals doc to JSON and extracts its top-level "id" field, which every
// domain entity is required to carry (see Repository doc comment).
func encodeDocument(doc any) (data []byte, id string, err error) {
	data, err = json.Marshal(doc)
	if err != nil {
		return nil, "", fmt.Errorf("store: marshal document: %w", err)
	}

	var withID struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &withID); err != nil {
		return nil, "", fmt.Errorf("store: document missing a decodable id field: %w", err)
	}
	if withID.ID == "" {
		return nil, "", errors.New("store: document has an empty id field")
	}
	return data, withID.ID, nil
}
