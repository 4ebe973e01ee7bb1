package docstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/db"
)

//go:embed schema.sql
var schemaSQL string

const documentColumns = "id, version, body, created_at, updated_at"

type uniqueIndex struct {
	collection string
	field      string
}

// Postgres stores documents as JSONB rows in a single documents table.
type Postgres struct {
	pool    *pgxpool.Pool
	uniques []uniqueIndex
}

// PostgresOption configures the Postgres store.
type PostgresOption func(*Postgres)

// WithUniqueIndex creates a partial unique index on field for collection during Migrate.
func WithUniqueIndex(collection, field string) PostgresOption {
	return func(p *Postgres) {
		p.uniques = append(p.uniques, uniqueIndex{collection: collection, field: field})
	}
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) *Postgres {
	p := &Postgres{pool: pool}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Migrate creates the tables and configured unique indexes.
func (p *Postgres) Migrate(ctx context.Context) error {
	var script strings.Builder
	script.WriteString(schemaSQL)
	for _, u := range p.uniques {
		parts, err := splitPath(u.field)
		if err != nil {
			return err
		}
		if _, err := splitPath(u.collection); err != nil {
			return err
		}
		name := "documents_" + u.collection + "_" + strings.Join(parts, "_") + "_key"
		fmt.Fprintf(&script, "\nCREATE UNIQUE INDEX IF NOT EXISTS %s ON documents ((body #>> %s)) WHERE collection = '%s';\n",
			name, pathLiteral(parts), u.collection)
	}
	return db.Migrate(ctx, p.pool, script.String())
}

// Insert implements Store.
func (p *Postgres) Insert(ctx context.Context, collection, id string, body any) (Document, error) {
	raw, _, err := encodeBody(body)
	if err != nil {
		return Document{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	row := p.pool.QueryRow(ctx,
		`INSERT INTO documents (collection, id, version, body) VALUES ($1, $2, 1, $3::jsonb) RETURNING `+documentColumns,
		collection, id, string(raw))
	doc, err := scanDocument(row)
	return doc, mapError(err)
}

// FindOne implements Store.
func (p *Postgres) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	b := &sqlBuilder{}
	coll := b.arg(collection)
	where, err := b.where(filter)
	if err != nil {
		return Document{}, err
	}
	row := p.pool.QueryRow(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE collection = "+coll+" AND "+where+" ORDER BY created_at, id LIMIT 1",
		b.args...)
	doc, err := scanDocument(row)
	return doc, mapError(err)
}

// FindMany implements Store.
func (p *Postgres) FindMany(ctx context.Context, collection string, q Query) ([]Document, int, error) {
	b := &sqlBuilder{}
	coll := b.arg(collection)
	where, err := b.where(q.Filter)
	if err != nil {
		return nil, 0, err
	}
	order, err := b.orderBy(q.Sort)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := p.pool.QueryRow(ctx,
		"SELECT count(*) FROM documents WHERE collection = "+coll+" AND "+where, b.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	stmt := "SELECT " + documentColumns + " FROM documents WHERE collection = " + coll + " AND " + where + " ORDER BY " + order
	args := append([]any(nil), b.args...)
	if q.Skip > 0 {
		args = append(args, q.Skip)
		stmt += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		stmt += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, mapError(err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err)
	}
	return docs, total, nil
}

// UpdateOne implements Store. The matched row is locked for the duration of
// the statement so concurrent patches serialise.
func (p *Postgres) UpdateOne(ctx context.Context, collection string, filter Filter, patch Patch) (Document, error) {
	b := &sqlBuilder{}
	coll := b.arg(collection)
	where, err := b.where(filter)
	if err != nil {
		return Document{}, err
	}
	expr, err := b.patchExpr(patch)
	if err != nil {
		return Document{}, err
	}
	stmt := "UPDATE documents SET body = " + expr + ", version = version + 1, updated_at = now()" +
		" WHERE collection = " + coll + " AND id = (SELECT id FROM documents WHERE collection = " + coll +
		" AND " + where + " ORDER BY created_at, id LIMIT 1 FOR UPDATE)" +
		" RETURNING " + documentColumns
	doc, err := scanDocument(p.pool.QueryRow(ctx, stmt, b.args...))
	return doc, mapError(err)
}

// Delete implements Store.
func (p *Postgres) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	b := &sqlBuilder{}
	coll := b.arg(collection)
	where, err := b.where(filter)
	if err != nil {
		return 0, err
	}
	tag, err := p.pool.Exec(ctx, "DELETE FROM documents WHERE collection = "+coll+" AND "+where, b.args...)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// Count implements Store.
func (p *Postgres) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	b := &sqlBuilder{}
	coll := b.arg(collection)
	where, err := b.where(filter)
	if err != nil {
		return 0, err
	}
	var n int
	err = p.pool.QueryRow(ctx, "SELECT count(*) FROM documents WHERE collection = "+coll+" AND "+where, b.args...).Scan(&n)
	return n, mapError(err)
}

// Sum implements Store.
func (p *Postgres) Sum(ctx context.Context, collection string, filter Filter, fields ...string) (map[string]float64, error) {
	if len(fields) == 0 {
		return map[string]float64{}, nil
	}
	b := &sqlBuilder{}
	coll := b.arg(collection)
	where, err := b.where(filter)
	if err != nil {
		return nil, err
	}
	selects := make([]string, 0, len(fields))
	for _, field := range fields {
		parts, err := splitPath(field)
		if err != nil {
			return nil, err
		}
		selects = append(selects, "COALESCE(SUM((body #>> "+pathLiteral(parts)+")::double precision), 0)")
	}
	values := make([]float64, len(fields))
	dest := make([]any, len(fields))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := p.pool.QueryRow(ctx,
		"SELECT "+strings.Join(selects, ", ")+" FROM documents WHERE collection = "+coll+" AND "+where,
		b.args...).Scan(dest...); err != nil {
		return nil, mapError(err)
	}
	out := make(map[string]float64, len(fields))
	for i, field := range fields {
		out[field] = values[i]
	}
	return out, nil
}

// Next implements Counter using the doc_counters table.
func (p *Postgres) Next(ctx context.Context, key string, seed SeedFunc) (int64, error) {
	var value int64
	err := db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `UPDATE doc_counters SET value = value + 1 WHERE key = $1 RETURNING value`, key).Scan(&value)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		var start int64
		if seed != nil {
			if start, err = seed(ctx); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx,
			`INSERT INTO doc_counters (key, value) VALUES ($1, $2 + 1)
			 ON CONFLICT (key) DO UPDATE SET value = doc_counters.value + 1
			 RETURNING value`, key, start).Scan(&value)
	})
	if err != nil {
		return 0, mapError(err)
	}
	return value, nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var body []byte
	if err := row.Scan(&doc.ID, &doc.Version, &body, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	doc.Body = body
	return doc, nil
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate), errors.Is(err, ErrUnavailable), errors.Is(err, ErrInvalidPath):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case db.IsUnavailable(err):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("docstore: %w", err)
}
