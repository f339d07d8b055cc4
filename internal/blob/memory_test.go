package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/altify/altify/internal/domain"
)

func TestMemoryStorePutIfAbsent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.Put(ctx, "tasks/t1", []byte("data"), "image/png"); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := m.Put(ctx, "tasks/t1", []byte("other"), "image/png"); err == nil {
		t.Fatalf("expected put-if-absent to reject a second write to the same key")
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreExists(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	exists, err := m.Exists(ctx, "tasks/t3")
	if err != nil || exists {
		t.Fatalf("expected missing key to report false, got exists=%v err=%v", exists, err)
	}
	if err := m.Put(ctx, "tasks/t3", []byte("data"), "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}
	exists, err = m.Exists(ctx, "tasks/t3")
	if err != nil || !exists {
		t.Fatalf("expected key to report true after put, got exists=%v err=%v", exists, err)
	}
}

func TestMemoryStoreDeleteThenGet(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.Put(ctx, "tasks/t2", []byte("data"), "image/png")
	if err := m.Delete(ctx, "tasks/t2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, "tasks/t2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
