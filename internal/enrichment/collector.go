package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"insights-backend/internal/shared/storage/db"
	"insights-backend/internal/shared/telemetry"
	"insights-backend/internal/subject"
)

// Collector resolves a subject into a Payload. It never writes.
type Collector struct {
	source Source
}

func NewCollector(source Source) *Collector {
	return &Collector{source: source}
}

// Collect builds the payload for ref. A missing core record yields ErrNotFound;
// an unreadable source yields ErrDataUnavailable. Missing sub-resources are omitted.
func (c *Collector) Collect(ctx context.Context, ref subject.Ref) (Payload, error) {
	if c == nil || c.source == nil {
		return Payload{}, fmt.Errorf("%w: no activity source configured", ErrDataUnavailable)
	}
	if err := ref.Validate(); err != nil {
		return Payload{}, err
	}
	switch ref.Kind {
	case subject.KindAttempt, subject.KindAnswerEvaluation:
		return c.collectAttempt(ctx, ref)
	case subject.KindActivityWindow:
		return c.collectWindow(ctx, ref)
	}
	return Payload{}, fmt.Errorf("%w: unsupported kind %q", subject.ErrInvalid, ref.Kind)
}

func (c *Collector) collectAttempt(ctx context.Context, ref subject.Ref) (Payload, error) {
	attempt, err := c.source.GetAttempt(ctx, ref.AttemptID)
	if err != nil {
		return Payload{}, coreError("attempt "+ref.AttemptID, err)
	}

	sections := orderedSections(attempt.Sections)
	var questionIDs, optionIDs []string
	for _, s := range sections {
		for _, a := range s.Questions {
			questionIDs = append(questionIDs, a.QuestionID)
			optionIDs = append(optionIDs, a.SelectedOptionIDs...)
		}
	}
	questionIDs = db.UniqueStrings(questionIDs)

	questions := map[string]Question{}
	if len(questionIDs) > 0 {
		questions, err = c.source.GetQuestions(ctx, questionIDs)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: load questions: %w", ErrDataUnavailable, err)
		}
	}
	for _, id := range questionIDs {
		if q, ok := questions[id]; ok {
			optionIDs = append(optionIDs, q.OptionIDs...)
			optionIDs = append(optionIDs, q.CorrectOptionIDs...)
		}
	}
	optionIDs = db.UniqueStrings(optionIDs)

	options := map[string]Option{}
	if len(optionIDs) > 0 {
		options, err = c.source.GetOptions(ctx, optionIDs)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: load options: %w", ErrDataUnavailable, err)
		}
	}

	payload := Payload{
		Subject:        ref,
		UserID:         attempt.UserID,
		LearnerName:    c.learnerName(ctx, attempt.UserID),
		AssessmentName: attempt.AssessmentName,
		Blocks:         []Block{},
	}

	var answered, correct, questionTotal int
	var totalSeconds int64
	for _, s := range sections {
		for _, a := range s.Questions {
			q, ok := questions[a.QuestionID]
			if !ok {
				continue
			}
			block := questionBlock(len(payload.Blocks), s, a, q, options)
			if block.Response != nil {
				if yes, judged := block.Response.Correct(); judged && yes {
					correct++
				}
			}
			if len(a.SelectedOptionIDs) > 0 || a.ResponseText != "" {
				answered++
			}
			questionTotal++
			totalSeconds += int64(a.TimeTakenSeconds)
			payload.Blocks = append(payload.Blocks, block)
		}
	}

	facts := Facts{
		Score:         floatPtr(attempt.Score),
		MaxScore:      floatPtr(attempt.MaxScore),
		QuestionCount: questionTotal,
		AnsweredCount: answered,
		CorrectCount:  correct,
		StartedAt:     attempt.StartedAt,
		SubmittedAt:   attempt.SubmittedAt,
	}
	if attempt.MaxScore > 0 {
		facts.Percentage = floatPtr(round2(attempt.Score / attempt.MaxScore * 100))
	}
	if attempt.StartedAt != nil && attempt.SubmittedAt != nil && attempt.SubmittedAt.After(*attempt.StartedAt) {
		facts.DurationSeconds = int64(attempt.SubmittedAt.Sub(*attempt.StartedAt) / time.Second)
	} else {
		facts.DurationSeconds = totalSeconds
	}
	payload.Facts = facts
	return payload, nil
}

func (c *Collector) collectWindow(ctx context.Context, ref subject.Ref) (Payload, error) {
	// To is an inclusive UTC day.
	end := ref.To.Add(24 * time.Hour)
	ids, err := c.source.ListActivityLogIDs(ctx, ref.UserID, ref.From, end)
	if err != nil {
		return Payload{}, coreError("activity window for "+ref.UserID, err)
	}
	ids = db.UniqueStrings(ids)
	if len(ids) == 0 {
		return Payload{}, fmt.Errorf("%w: no activity for user %s in window", ErrNotFound, ref.UserID)
	}

	logs, err := c.source.GetActivityLogs(ctx, ids)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: load activity logs: %w", ErrDataUnavailable, err)
	}

	from, to := ref.From, ref.To
	payload := Payload{
		Subject:     ref,
		UserID:      ref.UserID,
		LearnerName: c.learnerName(ctx, ref.UserID),
		Blocks:      []Block{},
		Facts: Facts{
			WindowFrom: &from,
			WindowTo:   &to,
		},
	}
	for _, id := range ids {
		entry, ok := logs[id]
		if !ok {
			continue
		}
		seconds := entry.DurationSeconds
		if seconds <= 0 && entry.EndedAt != nil && entry.EndedAt.After(entry.StartedAt) {
			seconds = int(entry.EndedAt.Sub(entry.StartedAt) / time.Second)
		}
		payload.Blocks = append(payload.Blocks, Block{
			Type:     BlockActivity,
			Position: len(payload.Blocks),
			Text:     entry.Title,
			Activity: &Activity{
				SourceType:      entry.SourceType,
				SourceID:        entry.SourceID,
				StartedAt:       entry.StartedAt,
				EndedAt:         entry.EndedAt,
				DurationSeconds: seconds,
			},
		})
		payload.Facts.DurationSeconds += int64(seconds)
	}
	payload.Facts.ActivityCount = len(payload.Blocks)
	return payload, nil
}

// learnerName is best effort; the name is omitted when the learner cannot be read.
func (c *Collector) learnerName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	learner, err := c.source.GetLearner(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			telemetry.Warn("enrichment.learner_unavailable", map[string]any{
				"user_id": userID,
				"error":   err,
			})
		}
		return ""
	}
	return learner.FullName
}

func questionBlock(position int, s Section, a AnswerRef, q Question, options map[string]Option) Block {
	block := Block{
		Type:             BlockQuestion,
		Position:         position,
		SectionID:        s.ID,
		SectionName:      s.Name,
		QuestionID:       q.ID,
		Text:             q.Text,
		Options:          optionTexts(q.OptionIDs, options),
		Explanation:      q.Explanation,
		MarksAwarded:     floatPtr(a.MarksAwarded),
		TimeTakenSeconds: a.TimeTakenSeconds,
	}
	if q.MaxMarks > 0 {
		block.MaxMarks = floatPtr(q.MaxMarks)
	}
	kind, err := ParseEvaluationKind(q.Type)
	if err != nil {
		// unknown types still carry the question text
		telemetry.Warn("enrichment.unknown_question_type", map[string]any{
			"question_id": q.ID,
			"type":        q.Type,
		})
		return block
	}
	block.Kind = kind
	block.Response = buildResponse(kind, a, q, options)
	return block
}

func orderedSections(sections []Section) []Section {
	out := make([]Section, len(sections))
	for i, s := range sections {
		qs := append([]AnswerRef(nil), s.Questions...)
		sort.SliceStable(qs, func(a, b int) bool { return qs[a].Order < qs[b].Order })
		s.Questions = qs
		out[i] = s
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Order < out[b].Order })
	return out
}

func coreError(what string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%w: %s: %w", ErrDataUnavailable, what, err)
}

func floatPtr(v float64) *float64 { return &v }

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
