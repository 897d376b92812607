package processes

import (
	"context"
	"encoding/json"
	"time"
)

// Repo persists processes. Every status write is conditional on the current status.
type Repo interface {
	// CreateIfNoActive inserts p unless an active process exists for p.SubjectKey,
	// in which case it returns a *ConflictError.
	CreateIfNoActive(ctx context.Context, p Process) (Process, error)
	GetByID(ctx context.Context, id string) (Process, error)
	// MarkProcessing claims a PENDING process; ErrNotRunnable otherwise.
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) (Process, error)
	// UpdateProgress records the cursor and partial result of a PROCESSING process.
	UpdateProgress(ctx context.Context, id string, progress Progress, partial json.RawMessage, at time.Time) error
	MarkCompleted(ctx context.Context, id string, result json.RawMessage, completedAt time.Time) error
	// MarkFailed moves a PROCESSING process to FAILED.
	MarkFailed(ctx context.Context, id, code, message string, completedAt time.Time) error
	// ListStale returns PROCESSING processes not updated since before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]Process, error)
	// Requeue moves a still-stale PROCESSING process back to PENDING and bumps RetryCount.
	Requeue(ctx context.Context, id string, staleBefore, at time.Time) error
}
