// Package postgres provides a PostgreSQL-backed [detectionlog.Store].
//
// Fingerprints are stored in a pgvector column with an HNSW index so that
// [Store.Similar] is an approximate nearest-neighbour search. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 40)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Record(ctx, entry)
//	matches, _ := store.Similar(ctx, entry.Fingerprint, 5)
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/hearken/pkg/detectionlog"
)

// defaultRecentLimit applies when Recent is called with limit <= 0.
const defaultRecentLimit = 100

var _ detectionlog.Store = (*Store)(nil)

// Store is the PostgreSQL detection log. All methods are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate].
//
// fingerprintDims must match the feature dimension (mel bands or cepstral
// coefficients). Changing it after the first migration requires a manual
// schema change.
func NewStore(ctx context.Context, dsn string, fingerprintDims int) (*Store, error) {
	if fingerprintDims <= 0 {
		return nil, fmt.Errorf("detectionlog postgres: fingerprint dimension must be positive, got %d", fingerprintDims)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("detectionlog postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("detectionlog postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("detectionlog postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, fingerprintDims); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, dims: fingerprintDims}, nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [detectionlog.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("detectionlog postgres: ping: %w", err)
	}
	return nil
}

// Record implements [detectionlog.Store]. A fingerprint whose length does
// not match the column dimension is stored as NULL.
func (s *Store) Record(ctx context.Context, e detectionlog.Entry) error {
	const q = `
		INSERT INTO detections
		    (id, kind, label, score, source, detected_at, fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	var fp *pgvector.Vector
	if len(e.Fingerprint) == s.dims {
		v := pgvector.NewVector(e.Fingerprint)
		fp = &v
	}
	_, err := s.pool.Exec(ctx, q,
		e.ID,
		e.Kind,
		e.Label,
		e.Score,
		e.Source,
		e.DetectedAt,
		fp,
	)
	if err != nil {
		return fmt.Errorf("detectionlog postgres: record: %w", err)
	}
	return nil
}

// Recent implements [detectionlog.Store].
func (s *Store) Recent(ctx context.Context, limit int, f detectionlog.Filter) ([]detectionlog.Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if f.Label != "" {
		conditions = append(conditions, "label = "+next(f.Label))
	}
	if f.Kind != "" {
		conditions = append(conditions, "kind = "+next(f.Kind))
	}
	if !f.After.IsZero() {
		conditions = append(conditions, "detected_at > "+next(f.After))
	}
	if !f.Before.IsZero() {
		conditions = append(conditions, "detected_at < "+next(f.Before))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}
	limitArg := next(limit)

	q := fmt.Sprintf(`
		SELECT id, kind, label, score, source, detected_at, fingerprint
		FROM   detections
		%s
		ORDER  BY detected_at DESC, id
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("detectionlog postgres: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (detectionlog.Entry, error) {
		var (
			e  detectionlog.Entry
			fp *pgvector.Vector
		)
		if err := row.Scan(&e.ID, &e.Kind, &e.Label, &e.Score, &e.Source, &e.DetectedAt, &fp); err != nil {
			return detectionlog.Entry{}, err
		}
		if fp != nil {
			e.Fingerprint = fp.Slice()
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("detectionlog postgres: scan rows: %w", err)
	}
	if entries == nil {
		entries = []detectionlog.Entry{}
	}
	return entries, nil
}

// Similar implements [detectionlog.Store]. Results are ordered by ascending
// cosine distance.
func (s *Store) Similar(ctx context.Context, fingerprint []float32, topK int) ([]detectionlog.Match, error) {
	if len(fingerprint) != s.dims {
		return nil, fmt.Errorf("detectionlog postgres: similar: fingerprint has %d dimensions, want %d", len(fingerprint), s.dims)
	}
	if topK <= 0 {
		topK = 10
	}

	const q = `
		SELECT id, kind, label, score, source, detected_at, fingerprint,
		       fingerprint <=> $1 AS distance
		FROM   detections
		WHERE  fingerprint IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(fingerprint), topK)
	if err != nil {
		return nil, fmt.Errorf("detectionlog postgres: similar: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (detectionlog.Match, error) {
		var (
			m  detectionlog.Match
			fp pgvector.Vector
		)
		if err := row.Scan(&m.ID, &m.Kind, &m.Label, &m.Score, &m.Source, &m.DetectedAt, &fp, &m.Distance); err != nil {
			return detectionlog.Match{}, err
		}
		m.Fingerprint = fp.Slice()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("detectionlog postgres: scan rows: %w", err)
	}
	if matches == nil {
		matches = []detectionlog.Match{}
	}
	return matches, nil
}
