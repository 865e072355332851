// Package worker consumes ad delivery events from JetStream and persists
// snapshot history.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/ads-platform/internal/platform/analytics"
	"github.com/example/ads-platform/internal/platform/config"
	"github.com/example/ads-platform/services/adsync/internal/store"
)

// StartSnapshotConsumer pull-subscribes to session snapshot events and
// applies idempotent inserts to the history store. Runs until ctx is done.
func StartSnapshotConsumer(ctx context.Context, nc *nats.Conn, repo store.SnapshotRepository, log *zap.Logger) {
	js, err := nc.JetStream()
	if err != nil {
		log.Error("snapshot_consumer: jetstream", zap.Error(err))
		return
	}
	sub, err := js.PullSubscribe(analytics.SubjectSessionSnapshot, "adsync_snapshots")
	if err != nil {
		log.Error("snapshot_consumer: subscribe", zap.Error(err))
		return
	}

	batchSize := config.EnvInt("WORKER_BATCH_SIZE", 100)
	maxWait := config.EnvDuration("WORKER_BATCH_INTERVAL", 2*time.Second)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := sub.Fetch(batchSize, nats.MaxWait(maxWait))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			log.Warn("snapshot_consumer: fetch", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, m := range msgs {
			if err := consumeSnapshot(ctx, repo, m.Data); err != nil {
				log.Warn("snapshot_consumer: apply", zap.Error(err))
				if err := m.Nak(); err != nil {
					log.Warn("snapshot_consumer: nak", zap.Error(err))
				}
				continue
			}
			if err := m.Ack(); err != nil {
				log.Warn("snapshot_consumer: ack", zap.Error(err))
			}
		}
	}
}

func consumeSnapshot(ctx context.Context, repo store.SnapshotRepository, data []byte) error {
	var ev analytics.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	eventID, err := uuid.Parse(ev.EventID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev.Properties)
	if err != nil {
		return err
	}
	_, err = repo.Insert(ctx, store.SnapshotRecord{
		EventID:    eventID,
		SessionID:  ev.SessionID,
		OccurredAt: ev.OccurredAt,
		Payload:    payload,
	})
	return err
}
