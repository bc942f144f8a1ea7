package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eduspark/eduspark-backend/internal/config"
)

const (
	HeartbeatBatchSize    = 100
	HeartbeatBatchTimeout = 2 * time.Second
	HeartbeatPollTimeout  = 1 * time.Second
)

// HeartbeatWorker consumes persist_heartbeats_queue and persists the
// client-reported countdown in batches. The write only ever lowers
// time_remaining and only touches in-progress attempts, so a stale or
// inflated heartbeat can never extend a deadline or revive a finalized
// attempt.
type HeartbeatWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewHeartbeatWorker creates a new HeartbeatWorker.
func NewHeartbeatWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *HeartbeatWorker {
	return &HeartbeatWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "heartbeat_worker").Logger(),
	}
}

type heartbeatPayload struct {
	AttemptID string `json:"attempt_id"`
	Seconds   int    `json:"seconds"`
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *HeartbeatWorker) Start(ctx context.Context) {
	w.log.Info().Msg("HeartbeatWorker started")

	batch := make([]*heartbeatPayload, 0, HeartbeatBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= HeartbeatBatchSize || time.Since(lastFlush) >= HeartbeatBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, HeartbeatPollTimeout, config.WorkerKey.PersistHeartbeatsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p heartbeatPayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

func (w *HeartbeatWorker) flushSafe(ctx context.Context, batch []*heartbeatPayload) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkUpdateCountdowns(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("bulk countdown update failed, using fallback")

		for _, p := range batch {
			if err := w.persistSingle(ctx, p); err != nil {
				w.log.Error().Err(err).Msg("persistSingle failed — requeueing")
				raw, _ := json.Marshal(p)
				w.rdb.RPush(ctx, config.WorkerKey.PersistHeartbeatsQueue, raw)
			}
		}
	}
}

// bulkUpdateCountdowns lowers time_remaining for a whole batch in one UPDATE
// using UNNEST. LEAST keeps the countdown monotonic when heartbeats arrive
// out of order.
func (w *HeartbeatWorker) bulkUpdateCountdowns(ctx context.Context, batch []*heartbeatPayload) error {
	n := len(batch)

	attemptIDs := make([]uuid.UUID, 0, n)
	seconds := make([]int, 0, n)

	for _, p := range batch {
		id, err := uuid.Parse(p.AttemptID)
		if err != nil {
			return err
		}
		attemptIDs = append(attemptIDs, id)
		seconds = append(seconds, p.Seconds)
	}

	query := `
		UPDATE attempts AS at
		SET time_remaining = LEAST(at.time_remaining, t.seconds),
		    updated_at = NOW()
		FROM (
			SELECT u.attempt_id, u.seconds
			FROM UNNEST(
				$1::uuid[],
				$2::int[]
			) AS u (attempt_id, seconds)
		) AS t
		WHERE at.id = t.attempt_id
		  AND at.status = 'in_progress'
	`

	_, err := w.pool.Exec(ctx, query, attemptIDs, seconds)
	return err
}

func (w *HeartbeatWorker) persistSingle(ctx context.Context, p *heartbeatPayload) error {
	id, err := uuid.Parse(p.AttemptID)
	if err != nil {
		return err
	}

	_, err = w.pool.Exec(ctx,
		`UPDATE attempts
		 SET time_remaining = LEAST(time_remaining, $1),
		     updated_at = NOW()
		 WHERE id = $2 AND status = 'in_progress'`,
		p.Seconds, id,
	)
	return err
}
