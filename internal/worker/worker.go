// Package worker implements the Worker Pool's message loop (spec.md §4.2):
// one inference slot per process, pulling one message at a time, running
// the optimistic RS guard, fetching the image, asking the Inferencer for
// two candidates, and persisting the result or routing to the dead-letter
// set.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/altify/altify/internal/blob"
	"github.com/altify/altify/internal/broker"
	"github.com/altify/altify/internal/domain"
	"github.com/altify/altify/internal/inference"
	"github.com/altify/altify/internal/store"
)

type taskMessage struct {
	ID       string `json:"id"`
	ImageKey string `json:"image_key"`
	Context  string `json:"context"`
}

// Worker owns exactly one inference slot: within a process there is at
// most one active call to inferencer.Generate at a time, matching the
// spec's "at most one active inference" constraint. The broker adapter
// enforces the one-message-at-a-time prefetch; Worker itself just needs to
// not fan Consume's handler out concurrently, which broker.Consume (both
// the asynq and memory adapters) already guarantees per queue-slot.
type Worker struct {
	store      store.Store
	blob       blob.Store
	inferencer inference.Inferencer
	log        zerolog.Logger
}

func New(st store.Store, bs blob.Store, inf inference.Inferencer, log zerolog.Logger) *Worker {
	return &Worker{store: st, blob: bs, inferencer: inf, log: log}
}

// Handle implements broker.Handler. A non-nil return routes the message to
// the dead-letter set (the broker adapter is configured with zero
// in-broker retries); a nil return acks.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var msg taskMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		w.log.Error().Err(err).Msg("worker: undecodable message, dropping")
		return nil // malformed message can never succeed; ack and drop rather than loop forever
	}
	log := w.log.With().Str("task_id", msg.ID).Logger()

	// Step 3: transactional guard. Zero rows affected means the task is
	// already terminal (or its row no longer exists) — ack and drop, the
	// idempotent-dedup path for at-least-once delivery. The guard admits
	// PROCESSING, so a task another delivery is still working on is claimed
	// again rather than dropped.
	n, err := w.store.UpdateIfStatusIn(ctx, msg.ID, domain.ActiveStatuses, store.TaskPatch{
		Status:            domain.StatusProcessing,
		IncrementAttempts: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("worker: RS guard unavailable, nacking for redrive")
		return fmt.Errorf("rs guard: %w", domain.ErrUnavailable)
	}
	if n == 0 {
		log.Debug().Msg("worker: task already terminal or missing, dropping duplicate delivery")
		return nil
	}

	// Step 4: fetch image bytes.
	image, err := w.blob.Get(ctx, msg.ImageKey)
	if errors.Is(err, domain.ErrNotFound) {
		w.markFailed(ctx, msg.ID, "image not found in blob store", log)
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("worker: BS unavailable, nacking for redrive")
		return fmt.Errorf("bs fetch: %w", domain.ErrUnavailable)
	}

	// Step 5: run inference for two distinct candidates.
	candidates, err := w.inferencer.Generate(ctx, image, msg.Context, 2)
	if err != nil {
		return w.handleInferenceError(ctx, msg.ID, err, log)
	}
	if len(candidates) != 2 || candidates[0] == "" || candidates[1] == "" {
		w.markFailed(ctx, msg.ID, "inferencer returned fewer than two non-empty candidates", log)
		return nil
	}

	// Step 6: persist success.
	if _, err := w.store.UpdateIfStatusIn(ctx, msg.ID, []domain.Status{domain.StatusProcessing}, store.TaskPatch{
		Status:         domain.StatusDone,
		Alt1:           &candidates[0],
		Alt2:           &candidates[1],
		ClearLastError: true,
	}); err != nil {
		log.Warn().Err(err).Msg("worker: RS update unavailable after successful inference, nacking for redrive")
		return fmt.Errorf("rs update: %w", domain.ErrUnavailable)
	}
	log.Info().Msg("worker: task completed")
	return nil
}

// handleInferenceError implements steps 7-8: transient failures (OOM,
// timeout) nack without requeue and leave status=PROCESSING for the DLQ
// consumer to reset; deterministic failures (decode error, malformed
// output) are terminal.
func (w *Worker) handleInferenceError(ctx context.Context, id string, err error, log zerolog.Logger) error {
	var ie *domain.InferenceError
	if errors.As(err, &ie) {
		if ie.Class.IsTransient() {
			log.Warn().Str("class", string(ie.Class)).Err(err).Msg("worker: transient inference failure, nacking for redrive")
			return fmt.Errorf("%w: %v", domain.ErrTransientInference, err)
		}
		w.markFailed(ctx, id, err.Error(), log)
		return nil
	}
	// Unclassified errors (e.g. context deadline from an overloaded
	// backend) are treated as transient rather than silently terminal.
	log.Warn().Err(err).Msg("worker: unclassified inference error, nacking for redrive")
	return fmt.Errorf("%w: %v", domain.ErrTransientInference, err)
}

func (w *Worker) markFailed(ctx context.Context, id, reason string, log zerolog.Logger) {
	lastErr := reason
	if _, err := w.store.UpdateIfStatusIn(ctx, id, []domain.Status{domain.StatusProcessing}, store.TaskPatch{
		Status:    domain.StatusFailed,
		LastError: &lastErr,
	}); err != nil {
		log.Error().Err(err).Msg("worker: failed to record terminal FAILED status")
		return
	}
	log.Info().Str("reason", reason).Msg("worker: task marked FAILED")
}

// Run drives the message loop against queue until ctx is cancelled.
// Consume checks ctx between deliveries, but the ctx each broker adapter
// hands to Handle is passed straight through to Generate, so a
// cancellation that reaches it interrupts an in-flight inference call.
func (w *Worker) Run(ctx context.Context, bk broker.Broker, queue string) error {
	return bk.Consume(ctx, queue, w.Handle)
}
