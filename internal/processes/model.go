package processes

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"insights-backend/internal/subject"
)

// Status is the lifecycle state of a process.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Active reports whether the status blocks new submissions for the same subject.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrNotFound = errors.New("process not found")
	// ErrConflict means an active process already exists for the subject.
	ErrConflict = errors.New("active process exists for subject")
	// ErrNotRunnable means the process is not PENDING and cannot be claimed.
	ErrNotRunnable = errors.New("process is not runnable")
	// ErrInvalidTransition means a conditional status write matched no row.
	ErrInvalidTransition  = errors.New("invalid process status transition")
	ErrQueueNotConfigured = errors.New("job queue not configured")
	// ErrProcessFailed wraps run errors that were persisted as FAILED.
	ErrProcessFailed = errors.New("process failed")
)

// ConflictError carries the id of the active process that blocked a submission.
type ConflictError struct {
	ActiveID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict.Error(), e.ActiveID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

const (
	ErrorCodeEnrichment      = "ENRICHMENT_FAILED"
	ErrorCodeModelsExhausted = "MODELS_EXHAUSTED"
	ErrorCodeMerge           = "MERGE_FAILED"
	ErrorCodeStorage         = "STORAGE_ERROR"
	ErrorCodeInternal        = "INTERNAL_ERROR"
	ErrorCodeStalled         = "STALLED"
)

// Progress is the resume cursor of a decomposable process.
type Progress struct {
	Step           string `json:"step"`
	ItemIndex      int    `json:"itemIndex"`
	ItemsCompleted int    `json:"itemsCompleted"`
	ItemsTotal     int    `json:"itemsTotal"`
}

const (
	StepEnrich   = "enrich"
	StepAnalyze  = "analyze"
	StepEvaluate = "evaluate"
	StepMerge    = "merge"
)

// Process is one tracked analysis job.
type Process struct {
	ID            string          `json:"id"`
	Subject       subject.Ref     `json:"subject"`
	SubjectKey    string          `json:"subjectKey"`
	Status        Status          `json:"status"`
	Progress      *Progress       `json:"progress,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	PartialResult json.RawMessage `json:"partialResult,omitempty"`
	ErrorCode     string          `json:"errorCode,omitempty"`
	ErrorMessage  *string         `json:"errorMessage,omitempty"`
	RetryCount    int             `json:"retryCount"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
