package enrichment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"insights-backend/internal/shared/storage/db"
)

// PGSource reads activity data from Postgres. Each batched lookup is one query.
type PGSource struct {
	DB *sql.DB
}

func (s *PGSource) GetAttempt(ctx context.Context, attemptID string) (Attempt, error) {
	const query = `
SELECT id, user_id, assessment_id, assessment_name, started_at, submitted_at, score, max_score
FROM assessment_attempts
WHERE id = $1`
	var a Attempt
	var startedAt, submittedAt sql.NullTime
	err := s.DB.QueryRowContext(ctx, query, attemptID).Scan(
		&a.ID,
		&a.UserID,
		&a.AssessmentID,
		&a.AssessmentName,
		&startedAt,
		&submittedAt,
		&a.Score,
		&a.MaxScore,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, ErrNotFound
		}
		return Attempt{}, err
	}
	if startedAt.Valid {
		a.StartedAt = &startedAt.Time
	}
	if submittedAt.Valid {
		a.SubmittedAt = &submittedAt.Time
	}

	const responsesQuery = `
SELECT section_id, section_name, section_order, question_order, question_id,
       selected_option_ids, response_text, marks_awarded, time_taken_seconds
FROM attempt_responses
WHERE attempt_id = $1
ORDER BY section_order, question_order`
	rows, err := s.DB.QueryContext(ctx, responsesQuery, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	defer rows.Close()

	index := map[string]int{}
	for rows.Next() {
		var sectionID, sectionName string
		var sectionOrder int
		var ref AnswerRef
		var selected []byte
		if err := rows.Scan(
			&sectionID,
			&sectionName,
			&sectionOrder,
			&ref.Order,
			&ref.QuestionID,
			&selected,
			&ref.ResponseText,
			&ref.MarksAwarded,
			&ref.TimeTakenSeconds,
		); err != nil {
			return Attempt{}, err
		}
		ids, err := decodeIDs(selected)
		if err != nil {
			return Attempt{}, fmt.Errorf("decode selected_option_ids: %w", err)
		}
		ref.SelectedOptionIDs = ids
		i, ok := index[sectionID]
		if !ok {
			i = len(a.Sections)
			index[sectionID] = i
			a.Sections = append(a.Sections, Section{ID: sectionID, Name: sectionName, Order: sectionOrder})
		}
		a.Sections[i].Questions = append(a.Sections[i].Questions, ref)
	}
	if err := rows.Err(); err != nil {
		return Attempt{}, err
	}
	return a, nil
}

func (s *PGSource) GetLearner(ctx context.Context, userID string) (Learner, error) {
	var l Learner
	err := s.DB.QueryRowContext(ctx, `SELECT id, full_name FROM learners WHERE id = $1`, userID).Scan(&l.ID, &l.FullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Learner{}, ErrNotFound
		}
		return Learner{}, err
	}
	return l, nil
}

func (s *PGSource) ListActivityLogIDs(ctx context.Context, userID string, from, to time.Time) ([]string, error) {
	const query = `
SELECT id
FROM activity_logs
WHERE user_id = $1 AND started_at >= $2 AND started_at < $3
ORDER BY started_at, id`
	rows, err := s.DB.QueryContext(ctx, query, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGSource) GetQuestions(ctx context.Context, ids []string) (map[string]Question, error) {
	ids = db.UniqueStrings(ids)
	out := make(map[string]Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `
SELECT id, text, question_type, option_ids, correct_option_ids, correct_answer, explanation, max_marks
FROM questions
WHERE id = ANY($1)`
	rows, err := s.DB.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var q Question
		var optionIDs, correctIDs []byte
		if err := rows.Scan(&q.ID, &q.Text, &q.Type, &optionIDs, &correctIDs, &q.CorrectAnswer, &q.Explanation, &q.MaxMarks); err != nil {
			return nil, err
		}
		if q.OptionIDs, err = decodeIDs(optionIDs); err != nil {
			return nil, fmt.Errorf("decode option_ids for %s: %w", q.ID, err)
		}
		if q.CorrectOptionIDs, err = decodeIDs(correctIDs); err != nil {
			return nil, fmt.Errorf("decode correct_option_ids for %s: %w", q.ID, err)
		}
		out[q.ID] = q
	}
	return out, rows.Err()
}

func (s *PGSource) GetOptions(ctx context.Context, ids []string) (map[string]Option, error) {
	ids = db.UniqueStrings(ids)
	out := make(map[string]Option, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT id, question_id, text FROM question_options WHERE id = ANY($1)`
	rows, err := s.DB.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var o Option
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Text); err != nil {
			return nil, err
		}
		out[o.ID] = o
	}
	return out, rows.Err()
}

func (s *PGSource) GetActivityLogs(ctx context.Context, ids []string) (map[string]ActivityLog, error) {
	ids = db.UniqueStrings(ids)
	out := make(map[string]ActivityLog, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `
SELECT id, user_id, source_type, source_id, title, started_at, ended_at, duration_seconds
FROM activity_logs
WHERE id = ANY($1)`
	rows, err := s.DB.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ActivityLog
		var endedAt sql.NullTime
		if err := rows.Scan(&l.ID, &l.UserID, &l.SourceType, &l.SourceID, &l.Title, &l.StartedAt, &endedAt, &l.DurationSeconds); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			l.EndedAt = &endedAt.Time
		}
		out[l.ID] = l
	}
	return out, rows.Err()
}

func decodeIDs(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

var _ Source = (*PGSource)(nil)
