// Package store persists ad session snapshots consumed from the event bus.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SnapshotRecord is one persisted schedule snapshot event.
type SnapshotRecord struct {
	EventID    uuid.UUID
	SessionID  string
	OccurredAt time.Time
	Payload    []byte
}

// SnapshotRepository defines persistence for snapshot history.
type SnapshotRepository interface {
	// Insert stores a snapshot, ignoring duplicates by event id.
	// Returns false when the event was already stored.
	Insert(ctx context.Context, rec SnapshotRecord) (bool, error)
	// ListBySession returns up to limit snapshots for a session, newest first.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]SnapshotRecord, error)
}
