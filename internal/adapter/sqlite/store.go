package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/hasan-murad02/rag/internal/vector"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
    name   TEXT PRIMARY KEY,
    dim    INTEGER NOT NULL,
    metric TEXT NOT NULL DEFAULT 'cosine'
);
CREATE TABLE IF NOT EXISTS points (
    collection TEXT NOT NULL,
    id         INTEGER NOT NULL,
    payload    TEXT NOT NULL,
    embedding  BLOB NOT NULL,
    PRIMARY KEY (collection, id)
);
`

// Store is a single-file vector store for local runs and tests. Queries are
// a brute-force cosine scan over the collection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// modernc connections do not share an in-memory database.
	db.SetMaxOpenConns(1)
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite: db is nil")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := s.dim(ctx, name)
	if errors.Is(err, vector.ErrCollectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) dim(ctx context.Context, name string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dim FROM collections WHERE name = ?`, name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("sqlite: collection %s: %w", name, vector.ErrCollectionNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: lookup collection %s: %w", name, err)
	}
	return dim, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("sqlite: create collection %s: invalid dimension %d", name, dim)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO collections(name, dim, metric) VALUES(?, ?, 'cosine')`, name, dim); err != nil {
		return fmt.Errorf("sqlite: create collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM points WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("sqlite: delete points of %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("sqlite: delete collection %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *Store) Upsert(ctx context.Context, name string, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	dim, err := s.dim(ctx, name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO points(collection, id, payload, embedding) VALUES(?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET payload = excluded.payload, embedding = excluded.embedding`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("sqlite: point %d has dimension %d, collection %s expects %d", p.ID, len(p.Vector), name, dim)
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("sqlite: encode payload of point %d: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, name, int64(p.ID), string(payload), vector.Encode(p.Vector)); err != nil {
			return fmt.Errorf("sqlite: upsert point %d: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// Scroll uses the id of the first row of the next page as cursor.
func (s *Store) Scroll(ctx context.Context, name string, pageSize int, cursor string) ([]vector.Record, string, error) {
	if _, err := s.dim(ctx, name); err != nil {
		return nil, "", err
	}
	var from int64
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("sqlite: invalid scroll cursor %q: %w", cursor, err)
		}
		from = n
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM points WHERE collection = ? AND id >= ? ORDER BY id LIMIT ?`,
		name, from, pageSize+1)
	if err != nil {
		return nil, "", fmt.Errorf("sqlite: scroll %s: %w", name, err)
	}
	defer rows.Close()

	var records []vector.Record
	next := ""
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, "", err
		}
		if len(records) == pageSize {
			next = strconv.FormatInt(id, 10)
			break
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, "", fmt.Errorf("sqlite: decode payload of point %d: %w", id, err)
		}
		records = append(records, vector.Record{ID: uint64(id), Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	return records, next, nil
}

func (s *Store) Query(ctx context.Context, name string, vec []float32, limit int, threshold float32) ([]vector.Match, error) {
	if _, err := s.dim(ctx, name); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, embedding FROM points WHERE collection = ? ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query %s: %w", name, err)
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		var id int64
		var raw string
		var blob []byte
		if err := rows.Scan(&id, &raw, &blob); err != nil {
			return nil, err
		}
		emb, err := vector.Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite: decode embedding of point %d: %w", id, err)
		}
		score, err := vector.Cosine(vec, emb)
		if err != nil {
			return nil, fmt.Errorf("sqlite: score point %d: %w", id, err)
		}
		if score < threshold {
			continue
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlite: decode payload of point %d: %w", id, err)
		}
		matches = append(matches, vector.Match{ID: uint64(id), Score: score, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE collection = ?`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", name, err)
	}
	return n, nil
}

func decodePayload(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

var _ vector.Store = (*Store)(nil)
