// Package sqlstore keeps documents as JSON rows in a single SQL table. It
// runs on Postgres (lib/pq) and SQLite (modernc.org/sqlite) through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"social-service/docstore"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const uniqueViolation = "23505"

var schemas = map[string]string{
	"postgres": `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       JSONB NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
	"sqlite": `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
}

type Store struct {
	db        *sqlx.DB
	forUpdate string
	planner   planner
}

type row struct {
	ID   string `db:"id"`
	Data []byte `db:"data"`
}

// New creates the documents table if needed. The store takes ownership of
// db and closes it on Close.
func New(ctx context.Context, db *sqlx.DB) (*Store, error) {
	schema, ok := schemas[db.DriverName()]
	if !ok {
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", db.DriverName())
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, docstore.WrapStorage("migrate", "", err)
	}

	s := &Store{db: db, planner: planner{d: sqliteDialect{}}}
	if db.DriverName() == "postgres" {
		s.forUpdate = " FOR UPDATE"
		s.planner = planner{d: postgresDialect{}}
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var r row
	query := s.db.Rebind(`SELECT id, data FROM documents WHERE collection = ? AND id = ?`)
	if err := s.db.GetContext(ctx, &r, query, collection, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &docstore.NotFoundError{Collection: collection, ID: id}
		}
		return nil, docstore.WrapStorage("get", collection, err)
	}
	return decodeRow(collection, r)
}

// Query runs filters, ordering, the cursor and the limit in the database.
// docstore.Apply still checks the rows so results match every other backend.
// When a LIMIT was applied but the ordered fields hold arrays or maps, whose
// SQL order differs, the whole collection is evaluated in process instead.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	q, err := q.Validate()
	if err != nil {
		return nil, err
	}
	if !pushable(q) {
		return s.scan(ctx, q)
	}

	p := s.planner.build(q)
	docs, err := s.selectDocs(ctx, q.Collection, p.query)
	if err != nil {
		return nil, err
	}
	if p.exact && q.Limit > 0 && !orderedScalars(q, docs) {
		return s.scan(ctx, q)
	}
	return docstore.Apply(q, docs)
}

func (s *Store) scan(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	docs, err := s.selectDocs(ctx, q.Collection, expr{
		sql:  "SELECT id, data FROM documents WHERE collection = ?",
		args: []any{q.Collection},
	})
	if err != nil {
		return nil, err
	}
	return docstore.Apply(q, docs)
}

func (s *Store) selectDocs(ctx context.Context, collection string, e expr) ([]docstore.Document, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(e.sql), e.args...); err != nil {
		return nil, docstore.WrapStorage("query", collection, err)
	}
	docs := make([]docstore.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := decodeRow(collection, r)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	return s.Commit(ctx, docstore.NewBatch().Set(collection, id, data))
}

func (s *Store) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	return s.Commit(ctx, docstore.NewBatch().Update(collection, id, updates...))
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.Commit(ctx, docstore.NewBatch().Delete(collection, id))
}

func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := docstore.NewID()
	if err := s.Commit(ctx, docstore.NewBatch().Create(collection, id, data)); err != nil {
		return "", err
	}
	return id, nil
}

// Commit applies every write of b inside one transaction.
func (s *Store) Commit(ctx context.Context, b *docstore.Batch) error {
	if err := b.Err(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return docstore.WrapStorage("begin", "", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	for _, w := range b.Writes() {
		if err := s.apply(ctx, tx, w, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return docstore.WrapStorage("commit", "", err)
	}
	return nil
}

func (s *Store) apply(ctx context.Context, tx *sqlx.Tx, w docstore.Write, now int64) error {
	switch w.Kind {
	case docstore.WriteCreate:
		exists, err := s.exists(ctx, tx, w.Collection, w.ID)
		if err != nil {
			return err
		}
		if exists {
			return &docstore.ExistsError{Collection: w.Collection, ID: w.ID}
		}
		raw, err := json.Marshal(w.Data)
		if err != nil {
			return docstore.WrapStorage("create", w.Collection, err)
		}
		query := tx.Rebind(`INSERT INTO documents (collection, id, data, updated_at) VALUES (?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, query, w.Collection, w.ID, string(raw), now); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return &docstore.ExistsError{Collection: w.Collection, ID: w.ID}
			}
			return docstore.WrapStorage("create", w.Collection, err)
		}

	case docstore.WriteSet:
		if err := s.upsert(ctx, tx, w.Collection, w.ID, w.Data, now); err != nil {
			return err
		}

	case docstore.WriteUpdate:
		var r row
		query := tx.Rebind(`SELECT id, data FROM documents WHERE collection = ? AND id = ?` + s.forUpdate)
		if err := tx.GetContext(ctx, &r, query, w.Collection, w.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &docstore.NotFoundError{Collection: w.Collection, ID: w.ID}
			}
			return docstore.WrapStorage("update", w.Collection, err)
		}
		doc, err := decodeRow(w.Collection, r)
		if err != nil {
			return err
		}
		apply, err := w.Check(doc.Data)
		if err != nil || !apply {
			return err
		}
		if err := s.upsert(ctx, tx, w.Collection, w.ID, docstore.ApplyUpdates(doc.Data, w.Updates), now); err != nil {
			return err
		}

	case docstore.WriteDelete:
		query := tx.Rebind(`DELETE FROM documents WHERE collection = ? AND id = ?`)
		if _, err := tx.ExecContext(ctx, query, w.Collection, w.ID); err != nil {
			return docstore.WrapStorage("delete", w.Collection, err)
		}
	}
	return nil
}

func (s *Store) exists(ctx context.Context, tx *sqlx.Tx, collection, id string) (bool, error) {
	var n int
	query := tx.Rebind(`SELECT COUNT(*) FROM documents WHERE collection = ? AND id = ?`)
	if err := tx.GetContext(ctx, &n, query, collection, id); err != nil {
		return false, docstore.WrapStorage("create", collection, err)
	}
	return n > 0, nil
}

func (s *Store) upsert(ctx context.Context, tx *sqlx.Tx, collection, id string, data map[string]any, now int64) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return docstore.WrapStorage("set", collection, err)
	}
	query := tx.Rebind(`
		INSERT INTO documents (collection, id, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`)
	if _, err := tx.ExecContext(ctx, query, collection, id, string(raw), now); err != nil {
		return docstore.WrapStorage("set", collection, err)
	}
	return nil
}

func decodeRow(collection string, r row) (*docstore.Document, error) {
	data, err := docstore.DecodeJSON(r.Data)
	if err != nil {
		return nil, docstore.WrapStorage("decode", collection, err)
	}
	return &docstore.Document{ID: r.ID, Data: data}, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return docstore.WrapStorage("ping", "", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}
