package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const SweepBatchLimit = 200

// ExpiryFinalizer finalizes attempts whose deadline has passed.
// Implemented by service.AttemptService.
type ExpiryFinalizer interface {
	FinalizeExpired(ctx context.Context, limit int) (int, error)
}

// SweeperWorker periodically finalizes abandoned attempts. Learners who close
// the browser never submit; the sweep guarantees their attempts still time
// out and get graded.
type SweeperWorker struct {
	finalizer ExpiryFinalizer
	interval  time.Duration
	log       zerolog.Logger
}

// NewSweeperWorker creates a new SweeperWorker.
func NewSweeperWorker(finalizer ExpiryFinalizer, interval time.Duration, log zerolog.Logger) *SweeperWorker {
	return &SweeperWorker{
		finalizer: finalizer,
		interval:  interval,
		log:       log.With().Str("component", "sweeper_worker").Logger(),
	}
}

// Start begins the periodic sweep loop. Call in a goroutine.
func (w *SweeperWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("SweeperWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("SweeperWorker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweeperWorker) sweep(ctx context.Context) {
	finalized, err := w.finalizer.FinalizeExpired(ctx, SweepBatchLimit)
	if err != nil {
		w.log.Error().Err(err).Msg("Sweep failed")
		return
	}
	if finalized > 0 {
		w.log.Info().Int("finalized", finalized).Msg("Expired attempts finalized")
	}
}
