// Package broker implements the Broker (BK) adapter from spec.md §4.5: a
// durable FIFO queue with a paired dead-letter set and a depth-introspection
// API the autoscaler polls.
package broker

import (
	"context"
	"errors"
	"time"
)

// Handler processes one message body and returns nil to ack. A non-nil
// error is treated as "nack without requeue" (spec §4.2 step 7): the
// concrete AsynqBroker configures zero in-broker retries, so any handler
// error routes the message straight to the dead-letter set, leaving all
// retry/backoff policy to the DLQ consumer (spec §4.3).
type Handler func(ctx context.Context, body []byte) error

// DeadLetter is one message sitting in the dead-letter set, with enough
// metadata for the DLQ consumer to decide whether to re-drive it.
type DeadLetter struct {
	ID       string
	Payload  []byte
	LastErr  string
	Attempts int
}

var ErrAlreadyQueued = errors.New("message already queued")

type Broker interface {
	// Publish enqueues body under id on queue, optionally delayed.
	// Re-publishing the same id while it is already queued is idempotent
	// and returns ErrAlreadyQueued rather than a duplicate entry (the
	// reconciler relies on this, spec §4.1).
	Publish(ctx context.Context, queue, id string, body []byte, delay time.Duration) error

	// Consume runs handler against queue until ctx is cancelled. It is
	// blocking; callers run it in its own goroutine or as main().
	Consume(ctx context.Context, queue string, handler Handler) error

	// QueueDepth returns (ready, in-flight) counts for the autoscaler.
	QueueDepth(ctx context.Context, queue string) (ready, unacked int, err error)

	ListDeadLetters(ctx context.Context, queue string, limit int) ([]DeadLetter, error)
	// RequeueDeadLetter re-publishes a dead-lettered message to queue after
	// delay and removes it from the dead-letter set.
	RequeueDeadLetter(ctx context.Context, queue string, id string, delay time.Duration) error
	// DropDeadLetter permanently discards a dead-lettered message (the
	// caller has already recorded status=FAILED in the RS).
	DropDeadLetter(ctx context.Context, queue string, id string) error

	Close() error
}
