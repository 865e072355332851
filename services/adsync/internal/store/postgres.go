package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSnapshotRepository is the production Postgres-backed implementation.
//
// Schema:
//
//	CREATE TABLE ad_session_snapshots (
//	    event_id    uuid PRIMARY KEY,
//	    session_id  text NOT NULL,
//	    occurred_at timestamptz NOT NULL,
//	    payload     jsonb NOT NULL
//	);
//	CREATE INDEX ON ad_session_snapshots (session_id, occurred_at DESC);
type PostgresSnapshotRepository struct {
	db *pgxpool.Pool
}

func NewPostgresSnapshotRepository(db *pgxpool.Pool) *PostgresSnapshotRepository {
	return &PostgresSnapshotRepository{db: db}
}

func (r *PostgresSnapshotRepository) Insert(ctx context.Context, rec SnapshotRecord) (bool, error) {
	q := `INSERT INTO ad_session_snapshots (event_id, session_id, occurred_at, payload)
	      VALUES ($1, $2, $3, $4)
	      ON CONFLICT (event_id) DO NOTHING`
	ct, err := r.db.Exec(ctx, q, rec.EventID, rec.SessionID, rec.OccurredAt, rec.Payload)
	if err != nil {
		return false, fmt.Errorf("insert snapshot: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *PostgresSnapshotRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]SnapshotRecord, error) {
	q := `SELECT event_id, occurred_at, payload
	      FROM ad_session_snapshots
	      WHERE session_id = $1
	      ORDER BY occurred_at DESC
	      LIMIT $2`
	rows, err := r.db.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		rec := SnapshotRecord{SessionID: sessionID}
		if err := rows.Scan(&rec.EventID, &rec.OccurredAt, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
