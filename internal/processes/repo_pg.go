package processes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"insights-backend/internal/shared/storage/db"
)

const activeSubjectConstraint = "analysis_processes_active_subject_uq"

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const processColumns = `id, subject, subject_key, status,
       progress_step, progress_item_index, progress_items_completed, progress_items_total,
       partial_result, result, error_code, error_message, retry_count,
       started_at, completed_at, created_at, updated_at`

func (r *PGRepo) CreateIfNoActive(ctx context.Context, p Process) (Process, error) {
	subjectJSON, err := json.Marshal(p.Subject)
	if err != nil {
		return Process{}, fmt.Errorf("encode subject: %w", err)
	}
	const query = `
INSERT INTO analysis_processes (id, subject_kind, subject_key, subject, status, retry_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.DB.ExecContext(ctx, query,
		p.ID,
		string(p.Subject.Kind),
		p.SubjectKey,
		string(subjectJSON),
		string(p.Status),
		p.RetryCount,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err, activeSubjectConstraint) {
			activeID, lookupErr := r.activeID(ctx, p.SubjectKey)
			if lookupErr != nil {
				return Process{}, &ConflictError{}
			}
			return Process{}, &ConflictError{ActiveID: activeID}
		}
		return Process{}, err
	}
	return p, nil
}

func (r *PGRepo) activeID(ctx context.Context, subjectKey string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `
SELECT id FROM analysis_processes
WHERE subject_key = $1 AND status IN ('PENDING', 'PROCESSING')
LIMIT 1`, subjectKey).Scan(&id)
	return id, err
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (Process, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+processColumns+` FROM analysis_processes WHERE id = $1`, id)
	p, err := scanProcess(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Process{}, ErrNotFound
		}
		return Process{}, err
	}
	return p, nil
}

func (r *PGRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (Process, error) {
	const query = `
UPDATE analysis_processes
SET status = 'PROCESSING', started_at = COALESCE(started_at, $2), updated_at = $2
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + processColumns
	p, err := scanProcess(r.DB.QueryRowContext(ctx, query, id, startedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Process{}, r.missOr(ctx, id, ErrNotRunnable)
		}
		return Process{}, err
	}
	return p, nil
}

func (r *PGRepo) UpdateProgress(ctx context.Context, id string, progress Progress, partial json.RawMessage, at time.Time) error {
	const query = `
UPDATE analysis_processes
SET progress_step = $2, progress_item_index = $3, progress_items_completed = $4, progress_items_total = $5,
    partial_result = COALESCE($6, partial_result), updated_at = $7
WHERE id = $1 AND status = 'PROCESSING'`
	res, err := r.DB.ExecContext(ctx, query,
		id,
		progress.Step,
		progress.ItemIndex,
		progress.ItemsCompleted,
		progress.ItemsTotal,
		nullableJSON(partial),
		at,
	)
	return r.checkAffected(ctx, id, res, err)
}

func (r *PGRepo) MarkCompleted(ctx context.Context, id string, result json.RawMessage, completedAt time.Time) error {
	const query = `
UPDATE analysis_processes
SET status = 'COMPLETED', result = $2, error_code = NULL, error_message = NULL,
    progress_step = NULL, progress_item_index = NULL, progress_items_completed = NULL, progress_items_total = NULL,
    completed_at = $3, updated_at = $3
WHERE id = $1 AND status = 'PROCESSING'`
	res, err := r.DB.ExecContext(ctx, query, id, string(result), completedAt)
	return r.checkAffected(ctx, id, res, err)
}

func (r *PGRepo) MarkFailed(ctx context.Context, id, code, message string, completedAt time.Time) error {
	const query = `
UPDATE analysis_processes
SET status = 'FAILED', error_code = $2, error_message = $3,
    progress_step = NULL, progress_item_index = NULL, progress_items_completed = NULL, progress_items_total = NULL,
    completed_at = $4, updated_at = $4
WHERE id = $1 AND status = 'PROCESSING'`
	res, err := r.DB.ExecContext(ctx, query, id, code, message, completedAt)
	return r.checkAffected(ctx, id, res, err)
}

func (r *PGRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]Process, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + processColumns + `
FROM analysis_processes
WHERE status = 'PROCESSING' AND updated_at < $1
ORDER BY updated_at
LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PGRepo) Requeue(ctx context.Context, id string, staleBefore, at time.Time) error {
	const query = `
UPDATE analysis_processes
SET status = 'PENDING', retry_count = retry_count + 1, updated_at = $3
WHERE id = $1 AND status = 'PROCESSING' AND updated_at < $2`
	res, err := r.DB.ExecContext(ctx, query, id, staleBefore, at)
	return r.checkAffected(ctx, id, res, err)
}

func (r *PGRepo) checkAffected(ctx context.Context, id string, res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.missOr(ctx, id, ErrInvalidTransition)
	}
	return nil
}

// missOr distinguishes a missing row from a row in the wrong status.
func (r *PGRepo) missOr(ctx context.Context, id string, otherwise error) error {
	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM analysis_processes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return otherwise
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(row rowScanner) (Process, error) {
	var p Process
	var subjectJSON []byte
	var status string
	var step sql.NullString
	var itemIndex, itemsCompleted, itemsTotal sql.NullInt64
	var partial []byte
	var result sql.NullString
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	if err := row.Scan(
		&p.ID,
		&subjectJSON,
		&p.SubjectKey,
		&status,
		&step,
		&itemIndex,
		&itemsCompleted,
		&itemsTotal,
		&partial,
		&result,
		&errorCode,
		&errorMessage,
		&p.RetryCount,
		&startedAt,
		&completedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return Process{}, err
	}
	if err := json.Unmarshal(subjectJSON, &p.Subject); err != nil {
		return Process{}, fmt.Errorf("decode subject for %s: %w", p.ID, err)
	}
	p.Status = Status(status)
	if step.Valid {
		p.Progress = &Progress{
			Step:           step.String,
			ItemIndex:      int(itemIndex.Int64),
			ItemsCompleted: int(itemsCompleted.Int64),
			ItemsTotal:     int(itemsTotal.Int64),
		}
	}
	if len(partial) > 0 {
		p.PartialResult = json.RawMessage(partial)
	}
	if result.Valid {
		p.Result = json.RawMessage(result.String)
	}
	if errorCode.Valid {
		p.ErrorCode = errorCode.String
	}
	if errorMessage.Valid {
		msg := errorMessage.String
		p.ErrorMessage = &msg
	}
	if startedAt.Valid {
		p.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return p, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ Repo = (*PGRepo)(nil)
