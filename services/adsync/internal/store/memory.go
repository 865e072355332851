package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemorySnapshotRepository is an in-memory implementation for tests and
// deployments without Postgres.
type MemorySnapshotRepository struct {
	mu   sync.Mutex
	byID map[uuid.UUID]SnapshotRecord
}

func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{byID: make(map[uuid.UUID]SnapshotRecord)}
}

func (r *MemorySnapshotRepository) Insert(_ context.Context, rec SnapshotRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[rec.EventID]; exists {
		return false, nil
	}
	r.byID[rec.EventID] = rec
	return true, nil
}

func (r *MemorySnapshotRepository) ListBySession(_ context.Context, sessionID string, limit int) ([]SnapshotRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SnapshotRecord
	for _, rec := range r.byID {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
