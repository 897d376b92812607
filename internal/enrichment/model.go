package enrichment

import (
	"context"
	"errors"
	"time"

	"insights-backend/internal/subject"
)

var (
	// ErrNotFound means the subject's core record does not exist.
	ErrNotFound = errors.New("subject not found")
	// ErrDataUnavailable means the activity source could not be read.
	ErrDataUnavailable = errors.New("activity data unavailable")
)

// Source is the read-only activity data store. Batched lookups return only the ids they found.
type Source interface {
	GetAttempt(ctx context.Context, attemptID string) (Attempt, error)
	GetLearner(ctx context.Context, userID string) (Learner, error)
	ListActivityLogIDs(ctx context.Context, userID string, from, to time.Time) ([]string, error)
	GetQuestions(ctx context.Context, ids []string) (map[string]Question, error)
	GetOptions(ctx context.Context, ids []string) (map[string]Option, error)
	GetActivityLogs(ctx context.Context, ids []string) (map[string]ActivityLog, error)
}

type Learner struct {
	ID       string
	FullName string
}

// Attempt is a submitted assessment attempt with its responses grouped by section.
type Attempt struct {
	ID             string
	UserID         string
	AssessmentID   string
	AssessmentName string
	StartedAt      *time.Time
	SubmittedAt    *time.Time
	Score          float64
	MaxScore       float64
	Sections       []Section
}

type Section struct {
	ID        string
	Name      string
	Order     int
	Questions []AnswerRef
}

// AnswerRef is a learner response pointing at a question by id.
type AnswerRef struct {
	QuestionID        string
	Order             int
	SelectedOptionIDs []string
	ResponseText      string
	MarksAwarded      float64
	TimeTakenSeconds  int
}

type Question struct {
	ID               string
	Text             string
	Type             string
	OptionIDs        []string
	CorrectOptionIDs []string
	CorrectAnswer    string
	Explanation      string
	MaxMarks         float64
}

type Option struct {
	ID         string
	QuestionID string
	Text       string
}

type ActivityLog struct {
	ID              string
	UserID          string
	SourceType      string
	SourceID        string
	Title           string
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds int
}

// Payload is the self-contained input sent to the model.
type Payload struct {
	Subject        subject.Ref `json:"subject"`
	UserID         string      `json:"userId"`
	LearnerName    string      `json:"learnerName,omitempty"`
	AssessmentName string      `json:"assessmentName,omitempty"`
	Blocks         []Block     `json:"blocks"`
	Facts          Facts       `json:"facts"`
}

type BlockType string

const (
	BlockQuestion BlockType = "question"
	BlockActivity BlockType = "activity"
)

// Block is one ordered unit of content.
type Block struct {
	Type             BlockType      `json:"type"`
	Position         int            `json:"position"`
	SectionID        string         `json:"sectionId,omitempty"`
	SectionName      string         `json:"sectionName,omitempty"`
	QuestionID       string         `json:"questionId,omitempty"`
	Kind             EvaluationKind `json:"evaluationKind,omitempty"`
	Text             string         `json:"text"`
	Options          []OptionText   `json:"options,omitempty"`
	Response         Response       `json:"response,omitempty"`
	Explanation      string         `json:"explanation,omitempty"`
	MarksAwarded     *float64       `json:"marksAwarded,omitempty"`
	MaxMarks         *float64       `json:"maxMarks,omitempty"`
	TimeTakenSeconds int            `json:"timeTakenSeconds,omitempty"`
	Activity         *Activity      `json:"activity,omitempty"`
}

type OptionText struct {
	ID   string `json:"id"`
	Text string `json:"text,omitempty"`
}

// Activity summarizes one activity log entry.
type Activity struct {
	SourceType      string     `json:"sourceType"`
	SourceID        string     `json:"sourceId,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
}

// Facts are numeric metrics computed during enrichment.
type Facts struct {
	Score           *float64   `json:"score,omitempty"`
	MaxScore        *float64   `json:"maxScore,omitempty"`
	Percentage      *float64   `json:"percentage,omitempty"`
	DurationSeconds int64      `json:"durationSeconds"`
	QuestionCount   int        `json:"questionCount,omitempty"`
	AnsweredCount   int        `json:"answeredCount,omitempty"`
	CorrectCount    int        `json:"correctCount,omitempty"`
	ActivityCount   int        `json:"activityCount,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
	WindowFrom      *time.Time `json:"windowFrom,omitempty"`
	WindowTo        *time.Time `json:"windowTo,omitempty"`
}

// QuestionBlocks returns the question blocks in payload order.
func (p Payload) QuestionBlocks() []Block {
	out := make([]Block, 0, len(p.Blocks))
	for _, b := range p.Blocks {
		if b.Type == BlockQuestion {
			out = append(out, b)
		}
	}
	return out
}
