package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlDetections returns the DDL with the fingerprint dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlDetections(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS detections (
    id           TEXT         PRIMARY KEY,
    kind         TEXT         NOT NULL,
    label        TEXT         NOT NULL,
    score        REAL         NOT NULL,
    source       TEXT         NOT NULL DEFAULT '',
    detected_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    fingerprint  vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_detections_detected_at
    ON detections (detected_at);

CREATE INDEX IF NOT EXISTS idx_detections_label_detected_at
    ON detections (label, detected_at);

CREATE INDEX IF NOT EXISTS idx_detections_fingerprint
    ON detections USING hnsw (fingerprint vector_cosine_ops);
`, dims)
}

// Migrate creates or ensures the detections table and the pgvector extension
// exist. It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fingerprintDims int) error {
	if _, err := pool.Exec(ctx, ddlDetections(fingerprintDims)); err != nil {
		return fmt.Errorf("detectionlog postgres: migrate: %w", err)
	}
	return nil
}
