package processes

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo for development and tests.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[string]Process
	// FailCompleteWrites makes MarkCompleted fail; used to exercise stalled runs.
	FailCompleteWrites error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: map[string]Process{}}
}

func (r *MemoryRepo) CreateIfNoActive(ctx context.Context, p Process) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.SubjectKey == p.SubjectKey && existing.Status.Active() {
			return Process{}, &ConflictError{ActiveID: existing.ID}
		}
	}
	r.items[p.ID] = clone(p)
	return clone(p), nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return Process{}, ErrNotFound
	}
	return clone(p), nil
}

func (r *MemoryRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return Process{}, ErrNotFound
	}
	if p.Status != StatusPending {
		return Process{}, ErrNotRunnable
	}
	p.Status = StatusProcessing
	if p.StartedAt == nil {
		p.StartedAt = &startedAt
	}
	p.UpdatedAt = startedAt
	r.items[id] = p
	return clone(p), nil
}

func (r *MemoryRepo) UpdateProgress(ctx context.Context, id string, progress Progress, partial json.RawMessage, at time.Time) error {
	return r.update(id, StatusProcessing, func(p *Process) {
		p.Progress = &progress
		if partial != nil {
			p.PartialResult = append(json.RawMessage(nil), partial...)
		}
		p.UpdatedAt = at
	})
}

func (r *MemoryRepo) MarkCompleted(ctx context.Context, id string, result json.RawMessage, completedAt time.Time) error {
	if r.FailCompleteWrites != nil {
		return r.FailCompleteWrites
	}
	return r.update(id, StatusProcessing, func(p *Process) {
		p.Status = StatusCompleted
		p.Result = append(json.RawMessage(nil), result...)
		p.ErrorCode = ""
		p.ErrorMessage = nil
		p.Progress = nil
		p.CompletedAt = &completedAt
		p.UpdatedAt = completedAt
	})
}

func (r *MemoryRepo) MarkFailed(ctx context.Context, id, code, message string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != StatusProcessing {
		return ErrInvalidTransition
	}
	p.Status = StatusFailed
	p.ErrorCode = code
	p.ErrorMessage = &message
	p.Progress = nil
	p.CompletedAt = &completedAt
	p.UpdatedAt = completedAt
	r.items[id] = p
	return nil
}

func (r *MemoryRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Process
	for _, p := range r.items {
		if p.Status == StatusProcessing && p.UpdatedAt.Before(before) {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Requeue(ctx context.Context, id string, staleBefore, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != StatusProcessing || !p.UpdatedAt.Before(staleBefore) {
		return ErrInvalidTransition
	}
	p.Status = StatusPending
	p.RetryCount++
	p.UpdatedAt = at
	r.items[id] = p
	return nil
}

// Touch sets UpdatedAt; tests use it to age a process.
func (r *MemoryRepo) Touch(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.items[id]; ok {
		p.UpdatedAt = at
		r.items[id] = p
	}
}

func (r *MemoryRepo) update(id string, want Status, fn func(p *Process)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != want {
		return ErrInvalidTransition
	}
	fn(&p)
	r.items[id] = p
	return nil
}

func clone(p Process) Process {
	if p.Progress != nil {
		cp := *p.Progress
		p.Progress = &cp
	}
	if p.Result != nil {
		p.Result = append(json.RawMessage(nil), p.Result...)
	}
	if p.PartialResult != nil {
		p.PartialResult = append(json.RawMessage(nil), p.PartialResult...)
	}
	return p
}

var _ Repo = (*MemoryRepo)(nil)
