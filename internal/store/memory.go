package store

import (
	"context"
	"sync"
	"time"

	"github.com/altify/altify/internal/domain"
)

// MemoryStore is the in-memory RS fake, grounded on the teacher's
// internal/state/memory_store.go: same lock-a-map-and-copy-out shape,
// re-keyed onto a single tasks table instead of jobs+tasks+workers.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]domain.Task)}
}

func (m *MemoryStore) InsertTask(_ context.Context, task domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	m.tasks[task.ID] = task
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (domain.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok, nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, task domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return domain.ErrNotFound
	}
	task.UpdatedAt = time.Now().UTC()
	m.tasks[task.ID] = task
	return nil
}

func (m *MemoryStore) UpdateIfStatusIn(_ context.Context, id string, allowed []domain.Status, patch TaskPatch) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return 0, nil
	}
	if !statusAllowed(t.Status, allowed) {
		return 0, nil
	}
	if patch.IncrementAttempts {
		t.Attempts++
	}
	if patch.Status != "" {
		t.Status = patch.Status
	}
	if patch.Alt1 != nil {
		t.Alt1 = patch.Alt1
	}
	if patch.Alt2 != nil {
		t.Alt2 = patch.Alt2
	}
	if patch.LastError != nil {
		t.LastError = patch.LastError
	}
	if patch.ClearLastError {
		t.LastError = nil
	}
	t.UpdatedAt = time.Now().UTC()
	m.tasks[id] = t
	return 1, nil
}

func (m *MemoryStore) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Task, 0, 16)
	for _, t := range m.tasks {
		if t.Status != domain.StatusPending {
			continue
		}
		if !t.UpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Task, 0, 16)
	for _, t := range m.tasks {
		if !t.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func statusAllowed(s domain.Status, allowed []domain.Status) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
