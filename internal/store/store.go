// Package store implements the Relational Store (RS) adapter described in
// spec.md §4.5: Insert, Get, an optimistic conditional update guarding the
// worker state machine, and the scans the Ingress reconciler needs.
package store

import (
	"context"
	"time"

	"github.com/altify/altify/internal/domain"
)

// TaskPatch carries the optional fields a conditional update may set. Nil
// fields are left untouched; IncrementAttempts mirrors the `attempts =
// attempts + 1` clause from spec §4.2 step 3.
type TaskPatch struct {
	Status           domain.Status
	IncrementAttempts bool
	Alt1             *string
	Alt2             *string
	LastError        *string
	ClearLastError   bool
}

// Store is the RS adapter contract. PostgresStore and MemoryStore both
// implement it; the worker, ingress, and DLQ consumer packages depend only
// on this interface.
type Store interface {
	InsertTask(ctx context.Context, task domain.Task) error
	GetTask(ctx context.Context, id string) (domain.Task, bool, error)
	DeleteTask(ctx context.Context, id string) error
	UpdateTask(ctx context.Context, task domain.Task) error

	// UpdateIfStatusIn applies patch to the row with id if its current
	// status is one of allowed, returning the number of rows affected (0
	// or 1). This is the sole serialization point for concurrent/duplicate
	// delivery (spec §5).
	UpdateIfStatusIn(ctx context.Context, id string, allowed []domain.Status, patch TaskPatch) (int, error)

	// ListPendingBefore returns PENDING rows whose updated_at predates
	// cutoff, for the Ingress reconciler (spec §4.1).
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Task, error)

	// ListCreatedBefore returns rows of any status whose created_at
	// predates cutoff, for the reconciler's orphan-row GC pass (spec §7:
	// "reconciler deletes RS rows older than T_gc that have no matching
	// BS object").
	ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Task, error)

	Close() error
}
