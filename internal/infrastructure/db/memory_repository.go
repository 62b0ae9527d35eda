package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/logger"
)

// MemoryStore keeps tasks, groups and history in process memory. It backs the
// "memory" database driver and the service tests. Every read returns copies.
type MemoryStore struct {
	logger *logger.Logger
	limit  int

	mu      sync.RWMutex
	tasks   map[string]domain.Task
	groups  map[string]domain.TaskGroup
	history map[string][]domain.TaskHistory
	nextID  uint
}

func NewMemoryStore(log *logger.Logger, historyLimit int) *MemoryStore {
	return &MemoryStore{
		logger:  log,
		limit:   historyLimit,
		tasks:   make(map[string]domain.Task),
		groups:  make(map[string]domain.TaskGroup),
		history: make(map[string][]domain.TaskHistory),
	}
}

func (m *MemoryStore) Tasks() ports.TaskRepository { return memoryTasks{m} }

func (m *MemoryStore) Groups() ports.TaskGroupRepository { return memoryGroups{m} }

func (m *MemoryStore) History() ports.TaskHistoryRepository { return memoryHistory{m} }

type memoryTasks struct{ m *MemoryStore }

func (r memoryTasks) Create(ctx context.Context, task *domain.Task) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.tasks[task.ID]; exists {
		return ports.ErrAlreadyExists
	}
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	r.m.tasks[task.ID] = copyTask(*task)
	r.m.logger.Debugw("memory_task_create_ok", "id", task.ID)
	return nil
}

func (r memoryTasks) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	t, ok := r.m.tasks[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	out := copyTask(t)
	return &out, nil
}

func (r memoryTasks) ListByUser(ctx context.Context, username string) ([]domain.Task, error) {
	out := r.filter(func(t domain.Task) bool { return t.Username == username })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memoryTasks) ListByGroup(ctx context.Context, groupID string) ([]domain.Task, error) {
	out := r.filter(func(t domain.Task) bool { return t.GroupID != nil && *t.GroupID == groupID })
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r memoryTasks) ListByStatus(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.Task, error) {
	want := make(map[domain.TaskStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	out := r.filter(func(t domain.Task) bool { return want[t.Status] })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memoryTasks) filter(keep func(domain.Task) bool) []domain.Task {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []domain.Task
	for _, t := range r.m.tasks {
		if keep(t) {
			out = append(out, copyTask(t))
		}
	}
	return out
}

func (r memoryTasks) Update(ctx context.Context, id string, u ports.TaskUpdate) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.tasks[id]
	if !ok {
		return ports.ErrNotFound
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.LastOutput != nil {
		t.LastOutput = *u.LastOutput
	}
	if u.OutputFile != nil {
		t.OutputFile = domain.StringPtr(*u.OutputFile)
	}
	if u.FileSize != nil {
		t.FileSize = *u.FileSize
	}
	if u.TempDir != nil {
		t.TempDir = domain.StringPtr(*u.TempDir)
	}
	t.UpdatedAt = time.Now()
	r.m.tasks[id] = t
	return nil
}

func (r memoryTasks) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.tasks[id]; !ok {
		return ports.ErrNotFound
	}
	delete(r.m.tasks, id)
	return nil
}

type memoryGroups struct{ m *MemoryStore }

func (r memoryGroups) Create(ctx context.Context, group *domain.TaskGroup) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.groups[group.ID]; exists {
		return ports.ErrAlreadyExists
	}
	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	r.m.groups[group.ID] = *group
	return nil
}

func (r memoryGroups) GetByID(ctx context.Context, id string) (*domain.TaskGroup, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	g, ok := r.m.groups[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &g, nil
}

func (r memoryGroups) ListByUser(ctx context.Context, username string) ([]domain.TaskGroup, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []domain.TaskGroup
	for _, g := range r.m.groups {
		if g.Username == username {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memoryGroups) UpdateStatus(ctx context.Context, id string, status domain.GroupStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g, ok := r.m.groups[id]
	if !ok {
		return ports.ErrNotFound
	}
	g.Status = status
	g.UpdatedAt = time.Now()
	r.m.groups[id] = g
	return nil
}

func (r memoryGroups) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.groups[id]; !ok {
		return ports.ErrNotFound
	}
	delete(r.m.groups, id)
	return nil
}

type memoryHistory struct{ m *MemoryStore }

func (r memoryHistory) Append(ctx context.Context, entry *domain.TaskHistory) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextID++
	entry.ID = r.m.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	rows := append(r.m.history[entry.TaskID], *entry)
	if r.m.limit > 0 && len(rows) > r.m.limit {
		rows = append(rows[:0:0], rows[len(rows)-r.m.limit:]...)
	}
	r.m.history[entry.TaskID] = rows
	return nil
}

func (r memoryHistory) ListByTask(ctx context.Context, taskID string, limit int) ([]domain.TaskHistory, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	rows := r.m.history[taskID]
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]domain.TaskHistory, len(rows))
	copy(out, rows)
	return out, nil
}

func (r memoryHistory) DeleteByTask(ctx context.Context, taskID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.history, taskID)
	return nil
}

func copyTask(t domain.Task) domain.Task {
	if t.OutputFile != nil {
		t.OutputFile = domain.StringPtr(*t.OutputFile)
	}
	if t.TempDir != nil {
		t.TempDir = domain.StringPtr(*t.TempDir)
	}
	if t.GroupID != nil {
		t.GroupID = domain.StringPtr(*t.GroupID)
	}
	if t.Options != nil {
		opts := make(domain.JSONB, len(t.Options))
		for k, v := range t.Options {
			opts[k] = v
		}
		t.Options = opts
	}
	return t
}
