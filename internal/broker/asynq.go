package broker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const taskType = "altify:task"

// AsynqBroker is the production BK adapter. Grounded on the real asynq +
// go-redis API shapes demonstrated in
// other_examples/haturatu-x-media-downloder__main.go; replaces the
// teacher's hand-rolled RESP client in internal/state/redis_queue.go (see
// DESIGN.md).
//
// Every task is enqueued with asynq.MaxRetry(0): a handler error routes
// straight to asynq's archived (dead-letter) set on the first failure,
// matching spec §4.2 step 7's "nack without requeue, rely on broker DLX."
// All retry/backoff policy lives in the DLQ consumer (spec §4.3), which
// re-publishes a fresh task with asynq.ProcessIn(delay) rather than relying
// on asynq's own backoff schedule.
type AsynqBroker struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redisOpt  asynq.RedisClientOpt
}

func NewAsynqBroker(addr, password string, db int) *AsynqBroker {
	opt := asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
	return &AsynqBroker{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		redisOpt:  opt,
	}
}

func (b *AsynqBroker) Publish(ctx context.Context, queue, id string, body []byte, delay time.Duration) error {
	t := asynq.NewTask(taskType, body, asynq.TaskID(id))
	opts := []asynq.Option{asynq.Queue(queue), asynq.MaxRetry(0)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	_, err := b.client.EnqueueContext(ctx, t, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return ErrAlreadyQueued
	}
	return err
}

func (b *AsynqBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	srv := asynq.NewServer(b.redisOpt, asynq.Config{
		Concurrency: 1, // one inference slot per process, spec §4.2
		Queues:      map[string]int{queue: 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		return handler(ctx, t.Payload())
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(mux) }()

	select {
	case <-ctx.Done():
		srv.Shutdown()
		return nil
	case err := <-errCh:
		return err
	}
}

func (b *AsynqBroker) QueueDepth(_ context.Context, queue string) (int, int, error) {
	info, err := b.inspector.GetQueueInfo(queue)
	if err != nil {
		return 0, 0, err
	}
	return info.Pending + info.Scheduled, info.Active, nil
}

func (b *AsynqBroker) ListDeadLetters(_ context.Context, queue string, limit int) ([]DeadLetter, error) {
	infos, err := b.inspector.ListArchivedTasks(queue, asynq.PageSize(limit))
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(infos))
	for _, info := range infos {
		out = append(out, DeadLetter{
			ID:       info.ID,
			Payload:  info.Payload,
			LastErr:  info.LastErr,
			Attempts: info.Retried,
		})
	}
	return out, nil
}

func (b *AsynqBroker) RequeueDeadLetter(ctx context.Context, queue, id string, delay time.Duration) error {
	info, err := b.inspector.GetTaskInfo(queue, id)
	if err != nil {
		return err
	}
	if err := b.inspector.DeleteTask(queue, id); err != nil {
		return err
	}
	return b.Publish(ctx, queue, id, info.Payload, delay)
}

func (b *AsynqBroker) DropDeadLetter(_ context.Context, queue, id string) error {
	return b.inspector.DeleteTask(queue, id)
}

func (b *AsynqBroker) Close() error {
	b.client.Close()
	return b.inspector.Close()
}
