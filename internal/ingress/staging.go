package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/altify/altify/internal/broker"
	"github.com/altify/altify/internal/domain"
)

// taskMessage is the BK payload shape spec §4.1 step 4 names: {id,
// image_key, context}.
type taskMessage struct {
	ID       string `json:"id"`
	ImageKey string `json:"image_key"`
	Context  string `json:"context"`
}

// stageOne runs the atomic staging protocol for a single accepted item
// (spec §4.1): allocate id, BS put-if-absent, RS insert PENDING, BK
// publish; on any failed step, undo the completed steps in reverse. This
// is the exact "write, then unwind on partial failure" shape spec.md
// specifies, grounded in idiom on the teacher's executor.go rollback
// pattern (best-effort compensating deletes, logged not propagated).
func (s *Server) stageOne(ctx context.Context, imageBytes []byte, contentType, context_ string) (string, error) {
	id := uuid.NewString()
	imageKey := "tasks/" + id

	if err := s.blob.Put(ctx, imageKey, imageBytes, contentType); err != nil {
		return "", fmt.Errorf("stage blob: %w", wrapUnavailable(err))
	}

	now := time.Now().UTC()
	task := domain.Task{
		ID:          id,
		ImageKey:    imageKey,
		ContextText: context_,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		s.rollbackBlob(ctx, imageKey)
		return "", fmt.Errorf("stage task row: %w", wrapUnavailable(err))
	}

	body, err := json.Marshal(taskMessage{ID: id, ImageKey: imageKey, Context: context_})
	if err != nil {
		s.rollbackRow(ctx, id)
		s.rollbackBlob(ctx, imageKey)
		return "", fmt.Errorf("encode task message: %w", domain.ErrInternal)
	}
	if err := s.broker.Publish(ctx, queueMain, id, body, 0); err != nil && !errors.Is(err, broker.ErrAlreadyQueued) {
		s.rollbackRow(ctx, id)
		s.rollbackBlob(ctx, imageKey)
		return "", fmt.Errorf("stage publish: %w", wrapUnavailable(err))
	}

	return id, nil
}

// rollbackBlob/rollbackRow are best-effort: a failure here is logged, not
// propagated, matching spec §4.1's "a failure after BK confirm is not
// possible in this order" — by the time these run, the only caller-visible
// outcome is already an error for the failed step itself.
func (s *Server) rollbackBlob(ctx context.Context, key string) {
	if err := s.blob.Delete(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("image_key", key).Msg("rollback: failed to delete staged blob")
	}
}

func (s *Server) rollbackRow(ctx context.Context, id string) {
	if err := s.store.DeleteTask(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("task_id", id).Msg("rollback: failed to delete staged task row")
	}
}

func wrapUnavailable(err error) error {
	if errors.Is(err, domain.ErrBadInput) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}

// reconcileLoop re-publishes PENDING rows older than T_reconcile, per spec
// §4.1: "a crash between step 3 and step 4 leaves a PENDING row with no
// message." Workers deduplicate via the UpdateIfStatusIn guard, so a
// harmless re-publish of an already-dispatched row is an accepted cost.
func (s *Server) reconcileLoop(ctx context.Context, interval, grace, gcWindow time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileOnce(ctx, grace)
			s.gcOnce(ctx, gcWindow)
		}
	}
}

func (s *Server) reconcileOnce(ctx context.Context, grace time.Duration) {
	cutoff := time.Now().UTC().Add(-grace)
	rows, err := s.store.ListPendingBefore(ctx, cutoff, 500)
	if err != nil {
		s.log.Error().Err(err).Msg("reconciler: list pending rows failed")
		return
	}
	for _, t := range rows {
		body, err := json.Marshal(taskMessage{ID: t.ID, ImageKey: t.ImageKey, Context: t.ContextText})
		if err != nil {
			continue
		}
		err = s.broker.Publish(ctx, queueMain, t.ID, body, 0)
		if err != nil && !errors.Is(err, broker.ErrAlreadyQueued) {
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("reconciler: re-publish failed")
			continue
		}
		logEvent := s.log.Info()
		if errors.Is(err, broker.ErrAlreadyQueued) {
			logEvent = s.log.Debug()
		}
		logEvent.Str("task_id", t.ID).Msg("reconciler: re-published pending task")
	}
}

// gcOnce is the reconciler's orphan-row repair: it deletes RS rows older
// than gcWindow that have no matching BS object. A row reaches this state
// only when the best-effort rollback in stageOne itself failed; stageOne
// logs that failure and returns the error of the step that failed (503 for
// an unavailable adapter), not a separate internal error. gcWindow is
// chosen well past T_reconcile to avoid racing an in-flight staging attempt.
func (s *Server) gcOnce(ctx context.Context, gcWindow time.Duration) {
	cutoff := time.Now().UTC().Add(-gcWindow)
	rows, err := s.store.ListCreatedBefore(ctx, cutoff, 500)
	if err != nil {
		s.log.Error().Err(err).Msg("reconciler: gc list failed")
		return
	}
	for _, t := range rows {
		exists, err := s.blob.Exists(ctx, t.ImageKey)
		if err != nil {
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("reconciler: gc blob check failed")
			continue
		}
		if exists {
			continue
		}
		if err := s.store.DeleteTask(ctx, t.ID); err != nil {
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("reconciler: gc delete orphan row failed")
			continue
		}
		s.log.Info().Str("task_id", t.ID).Str("image_key", t.ImageKey).Msg("reconciler: deleted orphan row with no matching blob")
	}
}
