// Package dlq implements the DLQ consumer (spec.md §4.3): it inspects
// dead-lettered messages, and either re-drives them with exponential
// backoff (attempts < max_attempts) or marks the task terminally FAILED
// (budget exhausted).
package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/altify/altify/internal/broker"
	"github.com/altify/altify/internal/domain"
	"github.com/altify/altify/internal/store"
)

const queueMain = "tasks.main"

// Consumer polls the dead-letter set rather than consuming it as a queue:
// the Broker contract models dead letters as an inspectable set
// (ListDeadLetters/RequeueDeadLetter/DropDeadLetter), mirroring asynq's
// Inspector-based archived-task API rather than a consumable AMQP DLX
// queue.
type Consumer struct {
	broker      broker.Broker
	store       store.Store
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	log         zerolog.Logger
}

func New(bk broker.Broker, st store.Store, maxAttempts int, baseBackoff, maxBackoff time.Duration, log zerolog.Logger) *Consumer {
	return &Consumer{broker: bk, store: st, maxAttempts: maxAttempts, baseBackoff: baseBackoff, maxBackoff: maxBackoff, log: log}
}

// Run polls the dead-letter set at interval until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sweepOnce(ctx)
		}
	}
}

func (c *Consumer) sweepOnce(ctx context.Context) {
	letters, err := c.broker.ListDeadLetters(ctx, queueMain, 100)
	if err != nil {
		c.log.Error().Err(err).Msg("dlq: list dead letters failed")
		return
	}
	for _, dl := range letters {
		c.handleOne(ctx, dl)
	}
}

func (c *Consumer) handleOne(ctx context.Context, dl broker.DeadLetter) {
	log := c.log.With().Str("task_id", dl.ID).Logger()

	task, ok, err := c.store.GetTask(ctx, dl.ID)
	if err != nil {
		log.Error().Err(err).Msg("dlq: fetch task failed, leaving dead letter for next sweep")
		return
	}
	if !ok || task.Status.Terminal() {
		// Task already resolved (terminal, or deleted by a rollback) — the
		// dead letter is stale, drop it.
		if err := c.broker.DropDeadLetter(ctx, queueMain, dl.ID); err != nil {
			log.Warn().Err(err).Msg("dlq: drop stale dead letter failed")
		}
		return
	}

	if task.Attempts >= c.maxAttempts {
		c.markFailed(ctx, dl, log)
		return
	}
	c.redrive(ctx, dl, task.Attempts, log)
}

func (c *Consumer) markFailed(ctx context.Context, dl broker.DeadLetter, log zerolog.Logger) {
	lastErr := dl.LastErr
	if lastErr == "" {
		lastErr = "retry budget exhausted"
	}
	_, err := c.store.UpdateIfStatusIn(ctx, dl.ID, []domain.Status{domain.StatusProcessing}, store.TaskPatch{
		Status:    domain.StatusFailed,
		LastError: &lastErr,
	})
	if err != nil {
		log.Error().Err(err).Msg("dlq: failed to record terminal FAILED status")
		return
	}
	if err := c.broker.DropDeadLetter(ctx, queueMain, dl.ID); err != nil {
		log.Warn().Err(err).Msg("dlq: drop dead letter after marking FAILED failed")
	}
	log.Info().Int("attempts", dl.Attempts).Msg("dlq: retry budget exhausted, task marked FAILED")
}

func (c *Consumer) redrive(ctx context.Context, dl broker.DeadLetter, attempts int, log zerolog.Logger) {
	// Reset PROCESSING -> PENDING so the worker guard (spec §4.2 step 3)
	// accepts the re-drive as a fresh claim.
	_, err := c.store.UpdateIfStatusIn(ctx, dl.ID, []domain.Status{domain.StatusProcessing}, store.TaskPatch{
		Status: domain.StatusPending,
	})
	if err != nil {
		log.Error().Err(err).Msg("dlq: reset to PENDING before redrive failed")
		return
	}

	delay := backoffFor(attempts, c.baseBackoff, c.maxBackoff)
	err = c.broker.RequeueDeadLetter(ctx, queueMain, dl.ID, delay)
	if err != nil && !errors.Is(err, broker.ErrAlreadyQueued) {
		log.Warn().Err(err).Msg("dlq: requeue failed")
		return
	}
	log.Info().Int("attempts", attempts).Dur("delay", delay).Msg("dlq: re-drove task")
}

// backoffFor computes base * 2^(attempts-1), capped at maxBackoff.
func backoffFor(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
