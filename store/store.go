// Package store persists stream instances in SQLite and answers similarity
// searches through an in-memory vector index kept in step with the table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viant/mtree/index"
	"github.com/viant/mtree/vector"
)

// Record is one stored instance.
type Record struct {
	ID        string
	Label     string
	Time      time.Time
	Embedding []float32
}

// Match is a record with its similarity score, higher meaning closer.
type Match struct {
	Record
	Score float64
}

// Store defines the instance store API.
type Store interface {
	// Put inserts or replaces records.
	Put(ctx context.Context, records []Record) error

	// SimilaritySearch returns up to k records closest to query.
	SimilaritySearch(ctx context.Context, query []float32, k int) ([]Match, error)

	// Remove deletes the record with the given ID and reports whether it
	// existed.
	Remove(ctx context.Context, id string) (bool, error)
}

// SQLiteStore keeps records in a SQLite table and their embeddings in an
// index.Mutable.
type SQLiteStore struct {
	db    *sql.DB
	index index.Mutable
}

// NewSQLiteStore ensures the schema and loads every stored embedding into
// idx.
func NewSQLiteStore(ctx context.Context, db *sql.DB, idx index.Mutable) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("store: db is nil")
	}
	if idx == nil {
		return nil, errors.New("store: index is nil")
	}
	if err := EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	s := &SQLiteStore{db: db, index: idx}
	records, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	vectors := make([][]float32, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) == 0 {
			continue
		}
		ids = append(ids, r.ID)
		vectors = append(vectors, r.Embedding)
	}
	if err := idx.Build(ids, vectors); err != nil {
		return nil, fmt.Errorf("store: build index: %w", err)
	}
	return s, nil
}

// Index returns the index backing similarity search.
func (s *SQLiteStore) Index() index.Mutable { return s.index }

// Put inserts or replaces records in one transaction, then indexes them.
func (s *SQLiteStore) Put(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO instances(id, label, ts, embedding) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if r.ID == "" {
			return errors.New("store: Record.ID must be set")
		}
		emb, err := vector.EncodeEmbedding(r.Embedding)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Label, r.Time.UnixNano(), emb); err != nil {
			return fmt.Errorf("store: put %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, r := range records {
		if len(r.Embedding) == 0 {
			s.index.Remove(r.ID)
			continue
		}
		if err := s.index.Add(r.ID, r.Embedding); err != nil {
			return fmt.Errorf("store: index %s: %w", r.ID, err)
		}
	}
	return nil
}

// SimilaritySearch queries the index and loads the matching records in
// score order.
func (s *SQLiteStore) SimilaritySearch(ctx context.Context, query []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	ids, scores, err := s.index.Query(query, k)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	byID, err := s.get(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(ids))
	for i, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, Match{Record: r, Score: scores[i]})
		}
	}
	return out, nil
}

func (s *SQLiteStore) get(ctx context.Context, ids []string) (map[string]Record, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, ts, embedding FROM instances WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	records, err := scan(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(records))
	for _, r := range records {
		out[r.ID] = r
	}
	return out, nil
}

// Load returns every record ordered by time.
func (s *SQLiteStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, ts, embedding FROM instances ORDER BY ts, id`)
	if err != nil {
		return nil, err
	}
	return scan(rows)
}

// NearestSQL ranks records by Euclidean distance inside SQLite using the
// vec_l2 function, which must be registered before the connection opened.
func (s *SQLiteStore) NearestSQL(ctx context.Context, query []float32, k int) ([]Match, error) {
	q, err := vector.EncodeEmbedding(query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, ts, embedding, vec_l2(embedding, ?) AS d
FROM instances WHERE embedding IS NOT NULL ORDER BY d LIMIT ?`, q, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Match
	for rows.Next() {
		var (
			m   Match
			ts  int64
			emb []byte
			d   float64
		)
		if err := rows.Scan(&m.ID, &m.Label, &ts, &emb, &d); err != nil {
			return nil, err
		}
		if m.Embedding, err = vector.DecodeEmbedding(emb); err != nil {
			return nil, err
		}
		m.Time = time.Unix(0, ts).UTC()
		m.Score = -d
		out = append(out, m)
	}
	return out, rows.Err()
}

// Remove deletes a record from the table and the index.
func (s *SQLiteStore) Remove(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("store: Remove called with empty id")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	s.index.Remove(id)
	n, err := res.RowsAffected()
	return n > 0, err
}

// Prune deletes every record older than before and returns how many were
// removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM instances WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE ts < ?`, before.UnixNano()); err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.index.Remove(id)
	}
	return len(ids), nil
}

func scan(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			r     Record
			label sql.NullString
			ts    int64
			emb   []byte
		)
		if err := rows.Scan(&r.ID, &label, &ts, &emb); err != nil {
			return nil, err
		}
		vec, err := vector.DecodeEmbedding(emb)
		if err != nil {
			return nil, fmt.Errorf("store: record %s: %w", r.ID, err)
		}
		r.Label, r.Time, r.Embedding = label.String, time.Unix(0, ts).UTC(), vec
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
