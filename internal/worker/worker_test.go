package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/altify/altify/internal/blob"
	"github.com/altify/altify/internal/domain"
	"github.com/altify/altify/internal/inference"
	"github.com/altify/altify/internal/store"
)

func seedTask(t *testing.T, st store.Store, bs blob.Store, id string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := st.InsertTask(ctx, domain.Task{ID: id, ImageKey: "tasks/" + id, ContextText: "cat on mat", Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if err := bs.Put(ctx, "tasks/"+id, []byte("pngbytes"), "image/png"); err != nil {
		t.Fatalf("seed blob: %v", err)
	}
}

func encodeMsg(t *testing.T, id string) []byte {
	t.Helper()
	b, err := json.Marshal(taskMessage{ID: id, ImageKey: "tasks/" + id, Context: "cat on mat"})
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	return b
}

func TestHandleHappyPath(t *testing.T) {
	st := store.NewMemoryStore()
	bs := blob.NewMemoryStore()
	seedTask(t, st, bs, "t1")
	inf := inference.NewStubInferencer().AndReturn("A cat.", "A kitten.")
	w := New(st, bs, inf, zerolog.Nop())

	if err := w.Handle(context.Background(), encodeMsg(t, "t1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	task, _, _ := st.GetTask(context.Background(), "t1")
	if task.Status != domain.StatusDone {
		t.Fatalf("expected DONE, got %s", task.Status)
	}
	if task.Alt1 == nil || *task.Alt1 != "A cat." || task.Alt2 == nil || *task.Alt2 != "A kitten." {
		t.Fatalf("unexpected candidates: %+v", task)
	}
	if task.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", task.Attempts)
	}
}

func TestHandleDuplicateDeliveryIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	bs := blob.NewMemoryStore()
	seedTask(t, st, bs, "t1")
	inf := inference.NewStubInferencer().AndReturn("A cat.", "A kitten.")
	w := New(st, bs, inf, zerolog.Nop())

	if err := w.Handle(context.Background(), encodeMsg(t, "t1")); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	// Second delivery of the same message after the task is already DONE
	// must ack-and-drop without calling the inferencer again.
	if err := w.Handle(context.Background(), encodeMsg(t, "t1")); err != nil {
		t.Fatalf("duplicate handle: %v", err)
	}
	if inf.Calls() != 1 {
		t.Fatalf("expected inferencer called exactly once across both deliveries, got %d", inf.Calls())
	}
}

func TestHandleMissingBlobIsTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	bs := blob.NewMemoryStore()
	now := time.Now().UTC()
	st.InsertTask(context.Background(), domain.Task{ID: "t1", ImageKey: "tasks/t1", Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now})
	inf := inference.NewStubInferencer()
	w := New(st, bs, inf, zerolog.Nop())

	if err := w.Handle(context.Background(), encodeMsg(t, "t1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	task, _, _ := st.GetTask(context.Background(), "t1")
	if task.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", task.Status)
	}
}

func TestHandleTransientOOMNacksWithoutMutatingStatus(t *testing.T) {
	st := store.NewMemoryStore()
	bs := blob.NewMemoryStore()
	seedTask(t, st, bs, "t1")
	inf := inference.NewStubInferencer().AndFail(&domain.InferenceError{Class: domain.InferenceOOM, Err: errors.New("cuda oom")})
	w := New(st, bs, inf, zerolog.Nop())

	err := w.Handle(context.Background(), encodeMsg(t, "t1"))
	if !errors.Is(err, domain.ErrTransientInference) {
		t.Fatalf("expected ErrTransientInference, got %v", err)
	}
	task, _, _ := st.GetTask(context.Background(), "t1")
	if task.Status != domain.StatusProcessing {
		t.Fatalf("expected status to remain PROCESSING after transient failure, got %s", task.Status)
	}
}

func TestHandleDecodeErrorIsTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	bs := blob.NewMemoryStore()
	seedTask(t, st, bs, "t1")
	inf := inference.NewStubInferencer().AndFail(&domain.InferenceError{Class: domain.InferenceDecodeError, Err: errors.New("unreadable image")})
	w := New(st, bs, inf, zerolog.Nop())

	if err := w.Handle(context.Background(), encodeMsg(t, "t1")); err != nil {
		t.Fatalf("expected ack (nil error) on deterministic failure, got %v", err)
	}
	task, _, _ := st.GetTask(context.Background(), "t1")
	if task.Status != domain.StatusFailed || task.LastError == nil {
		t.Fatalf("expected FAILED with last_error set, got %+v", task)
	}
}
