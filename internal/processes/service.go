package processes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"insights-backend/internal/archive"
	"insights-backend/internal/cascade"
	"insights-backend/internal/enrichment"
	"insights-backend/internal/insights"
	"insights-backend/internal/llm"
	"insights-backend/internal/shared/metrics"
	"insights-backend/internal/shared/telemetry"
	"insights-backend/internal/subject"
)

// Collector turns a subject into a model payload.
type Collector interface {
	Collect(ctx context.Context, ref subject.Ref) (enrichment.Payload, error)
}

// Cascade obtains a structured result from the configured models.
type Cascade interface {
	ObtainResult(ctx context.Context, req llm.Request) (cascade.Outcome, error)
}

// Merger folds derived attributes into the insight store.
type Merger interface {
	Merge(ctx context.Context, userID string, category insights.Category, attrs map[string]float64) error
}

const sweepBatch = 100

// Service orchestrates analysis processes.
type Service struct {
	Repo       Repo
	Collector  Collector
	Cascade    Cascade
	Merger     Merger
	Dispatcher Dispatcher
	Archive    *archive.Archive
	// StaleAfter is how long a PROCESSING row may go without an update
	// before the sweep reclaims it. Zero disables the sweep.
	StaleAfter  time.Duration
	MaxRequeues int
	Now         func() time.Time

	spawn func(fn func())
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) goAsync(fn func()) {
	if s.spawn != nil {
		s.spawn(fn)
		return
	}
	go fn()
}

// Submit records a PENDING process for ref and hands it to a worker.
// It returns a *ConflictError when ref already has an active process.
func (s *Service) Submit(ctx context.Context, ref subject.Ref) (Process, error) {
	if err := ref.Validate(); err != nil {
		return Process{}, err
	}
	now := s.now()
	p := Process{
		ID:         uuid.NewString(),
		Subject:    ref,
		SubjectKey: ref.Key(),
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, err := s.Repo.CreateIfNoActive(ctx, p)
	if err != nil {
		return Process{}, err
	}
	metrics.IncAnalysisSubmitted()
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"process_id":        created.ID,
		"subject_key":       created.SubjectKey,
		"status":            StatusPending,
		"status_transition": "none->pending",
	})
	s.dispatch(ctx, created.ID)
	return created, nil
}

// dispatch prefers the configured dispatcher and falls back to an in-process run.
func (s *Service) dispatch(ctx context.Context, processID string) {
	if s.Dispatcher != nil {
		err := s.Dispatcher.Dispatch(ctx, processID)
		if err == nil {
			return
		}
		telemetry.Warn("analysis.dispatch_failed", map[string]any{
			"request_id": RequestIDFromContext(ctx),
			"process_id": processID,
			"error":      err,
		})
	}
	runCtx := backgroundWithRequestID(ctx)
	s.goAsync(func() { s.runDetached(runCtx, processID) })
}

func (s *Service) runDetached(ctx context.Context, processID string) {
	defer func() {
		if r := recover(); r != nil {
			s.failProcess(ctx, Process{ID: processID}, fmt.Errorf("panic: %v", r), nil)
		}
	}()
	if err := s.Run(ctx, processID); err != nil && !errors.Is(err, ErrNotRunnable) && !errors.Is(err, ErrProcessFailed) {
		log.Printf("analysis run id=%s err=%v", processID, err)
	}
}

// Get returns the current state of a process.
func (s *Service) Get(ctx context.Context, processID string) (Process, error) {
	return s.Repo.GetByID(ctx, processID)
}

// Run executes a PENDING process to completion. Processes that are not
// PENDING return ErrNotRunnable without side effects.
func (s *Service) Run(ctx context.Context, processID string) error {
	if _, err := s.Repo.GetByID(ctx, processID); err != nil {
		return err
	}
	startedAt := s.now()
	p, err := s.Repo.MarkProcessing(ctx, processID, startedAt)
	if err != nil {
		return err
	}
	metrics.IncAnalysisStarted()
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"process_id":        p.ID,
		"subject_key":       p.SubjectKey,
		"retry_count":       p.RetryCount,
		"status":            StatusProcessing,
		"status_transition": "pending->processing",
	})

	result, err := s.execute(ctx, p)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Left PROCESSING; the sweep reclaims it.
			telemetry.Warn("analysis.interrupted", map[string]any{
				"request_id": RequestIDFromContext(ctx),
				"process_id": p.ID,
			})
			return err
		}
		s.failProcess(ctx, p, err, &startedAt)
		return fmt.Errorf("%w: %w", ErrProcessFailed, err)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		s.failProcess(ctx, p, fmt.Errorf("encode result: %w", err), &startedAt)
		return fmt.Errorf("%w: encode result: %w", ErrProcessFailed, err)
	}
	completedAt := s.now()
	if err := s.Repo.MarkCompleted(ctx, p.ID, encoded, completedAt); err != nil {
		metrics.IncAnalysisStalled()
		telemetry.Error("analysis.stalled", map[string]any{
			"request_id": RequestIDFromContext(ctx),
			"process_id": p.ID,
			"error":      err,
		})
		return fmt.Errorf("mark completed %s: %w", p.ID, err)
	}
	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(durationMs(&startedAt, &completedAt))
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"process_id":        p.ID,
		"subject_key":       p.SubjectKey,
		"status":            StatusCompleted,
		"status_transition": "processing->completed",
		"duration_ms":       durationMs(&startedAt, &completedAt),
	})
	return nil
}

func (s *Service) execute(ctx context.Context, p Process) (Result, error) {
	payload, err := s.Collector.Collect(ctx, p.Subject)
	if err != nil {
		return Result{}, phaseFailure(ErrorCodeEnrichment, fmt.Errorf("enrich %s: %w", p.SubjectKey, err))
	}
	s.archive(ctx, p.ID, "payload", payload)

	var result Result
	if p.Subject.Kind == subject.KindAnswerEvaluation {
		result, err = s.evaluate(ctx, p, payload)
	} else {
		result, err = s.analyze(ctx, p, payload)
	}
	if err != nil {
		return Result{}, err
	}

	if err := s.Repo.UpdateProgress(ctx, p.ID, Progress{Step: StepMerge, ItemsCompleted: 1, ItemsTotal: 1}, nil, s.now()); err != nil {
		return Result{}, phaseFailure(ErrorCodeStorage, fmt.Errorf("record progress: %w", err))
	}
	s.archive(ctx, p.ID, "result", result)

	for _, category := range insights.Categories {
		if err := s.Merger.Merge(ctx, payload.UserID, category, result.Attributes(category)); err != nil {
			return Result{}, phaseFailure(ErrorCodeMerge, fmt.Errorf("merge %s: %w", category, err))
		}
	}
	return result, nil
}

func (s *Service) analyze(ctx context.Context, p Process, payload enrichment.Payload) (Result, error) {
	if err := s.Repo.UpdateProgress(ctx, p.ID, Progress{Step: StepAnalyze, ItemsTotal: 1}, nil, s.now()); err != nil {
		return Result{}, phaseFailure(ErrorCodeStorage, fmt.Errorf("record progress: %w", err))
	}
	outcome, err := s.Cascade.ObtainResult(ctx, analysisRequest(p.Subject.Kind, payload))
	if err != nil {
		return Result{}, fmt.Errorf("analyze: %w", err)
	}
	s.archive(ctx, p.ID, "model_output", outcome.Result)
	return decodeInsight(outcome.Result), nil
}

type evaluationItem struct {
	AssessmentName string           `json:"assessmentName,omitempty"`
	Question       enrichment.Block `json:"question"`
}

// evaluate runs one cascade per question block, persisting the cursor after
// each so a requeued process resumes where it stopped.
func (s *Service) evaluate(ctx context.Context, p Process, payload enrichment.Payload) (Result, error) {
	blocks := payload.QuestionBlocks()
	done := resumable(p, blocks)
	if len(done) > 0 {
		telemetry.Info("analysis.resumed", map[string]any{
			"request_id":      RequestIDFromContext(ctx),
			"process_id":      p.ID,
			"items_completed": len(done),
			"items_total":     len(blocks),
		})
	}
	for i := len(done); i < len(blocks); i++ {
		block := blocks[i]
		outcome, err := s.Cascade.ObtainResult(ctx, evaluationRequest(evaluationItem{
			AssessmentName: payload.AssessmentName,
			Question:       block,
		}))
		if err != nil {
			return Result{}, fmt.Errorf("evaluate question %s: %w", block.QuestionID, err)
		}
		done = append(done, decodeEvaluation(outcome.Result, block.QuestionID, block.Position))
		partial, err := json.Marshal(done)
		if err != nil {
			return Result{}, err
		}
		progress := Progress{Step: StepEvaluate, ItemIndex: i, ItemsCompleted: len(done), ItemsTotal: len(blocks)}
		if err := s.Repo.UpdateProgress(ctx, p.ID, progress, partial, s.now()); err != nil {
			return Result{}, phaseFailure(ErrorCodeStorage, fmt.Errorf("record progress: %w", err))
		}
	}
	return summarizeEvaluations(done), nil
}

// resumable returns the stored evaluations when they are a prefix of blocks.
func resumable(p Process, blocks []enrichment.Block) []Evaluation {
	done, err := decodePartial(p.PartialResult)
	if err != nil {
		telemetry.Warn("analysis.partial_discarded", map[string]any{
			"process_id": p.ID,
			"error":      err,
		})
		return nil
	}
	if len(done) > len(blocks) {
		return nil
	}
	for i := range done {
		if done[i].QuestionID != blocks[i].QuestionID {
			return nil
		}
	}
	return done
}

func (s *Service) archive(ctx context.Context, processID, name string, v any) {
	if err := s.Archive.Save(ctx, processID, name, v); err != nil {
		telemetry.Warn("analysis.archive_failed", map[string]any{
			"process_id": processID,
			"name":       name,
			"error":      err,
		})
	}
}

func (s *Service) failProcess(ctx context.Context, p Process, err error, startedAt *time.Time) {
	code := classifyFailure(err)
	msg := sanitizeError(err)
	completedAt := s.now()
	if updateErr := s.Repo.MarkFailed(context.Background(), p.ID, code, msg, completedAt); updateErr != nil {
		log.Printf("failProcess: update failed id=%s err=%v orig=%v", p.ID, updateErr, err)
		return
	}
	metrics.IncAnalysisFailed()
	if startedAt != nil {
		metrics.ObserveAnalysisDurationMs(durationMs(startedAt, &completedAt))
	}
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"process_id":        p.ID,
		"subject_key":       p.SubjectKey,
		"status":            StatusFailed,
		"status_transition": "processing->failed",
		"error_code":        code,
		"duration_ms":       durationMs(startedAt, &completedAt),
	})
}

// Sweep reclaims PROCESSING rows idle for longer than StaleAfter. Rows under
// MaxRequeues go back to PENDING and are dispatched again; the rest fail as
// STALLED. It returns the number of rows handled.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	if s.StaleAfter <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.StaleAfter)
	stale, err := s.Repo.ListStale(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale: %w", err)
	}
	handled := 0
	for _, p := range stale {
		if p.RetryCount >= s.MaxRequeues {
			msg := "process stalled: no progress since " + p.UpdatedAt.UTC().Format(time.RFC3339)
			if err := s.Repo.MarkFailed(ctx, p.ID, ErrorCodeStalled, msg, now); err != nil {
				if errors.Is(err, ErrInvalidTransition) {
					continue
				}
				return handled, err
			}
			metrics.IncAnalysisFailed()
			telemetry.Info("analysis.status", map[string]any{
				"process_id":        p.ID,
				"subject_key":       p.SubjectKey,
				"status":            StatusFailed,
				"status_transition": "processing->failed",
				"error_code":        ErrorCodeStalled,
				"retry_count":       p.RetryCount,
			})
			handled++
			continue
		}
		if err := s.Repo.Requeue(ctx, p.ID, cutoff, now); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return handled, err
		}
		metrics.IncAnalysisRequeued()
		telemetry.Warn("analysis.status", map[string]any{
			"process_id":        p.ID,
			"subject_key":       p.SubjectKey,
			"status":            StatusPending,
			"status_transition": "processing->pending",
			"retry_count":       p.RetryCount + 1,
		})
		s.dispatch(ctx, p.ID)
		handled++
	}
	return handled, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.StaleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx, s.now()); err != nil {
				log.Printf("sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("sweep handled %d stale processes", n)
			}
		}
	}
}

type phaseError struct {
	code string
	err  error
}

func (e *phaseError) Error() string { return e.err.Error() }
func (e *phaseError) Unwrap() error { return e.err }

func phaseFailure(code string, err error) error {
	return &phaseError{code: code, err: err}
}

func classifyFailure(err error) string {
	var pe *phaseError
	switch {
	case err == nil:
		return ErrorCodeInternal
	case errors.As(err, &pe):
		return pe.code
	case errors.Is(err, cascade.ErrAllModelsExhausted):
		return ErrorCodeModelsExhausted
	case errors.Is(err, enrichment.ErrNotFound), errors.Is(err, enrichment.ErrDataUnavailable):
		return ErrorCodeEnrichment
	}
	return ErrorCodeInternal
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	return llm.Truncate(msg, 500)
}
