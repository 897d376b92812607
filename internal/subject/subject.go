// Package subject identifies the learner activity an analysis runs against.
package subject

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of analysable activities.
type Kind string

const (
	// KindAttempt analyses one completed assessment attempt as a whole.
	KindAttempt Kind = "attempt"
	// KindActivityWindow analyses a learner's activity logs over a date range.
	KindActivityWindow Kind = "activity_window"
	// KindAnswerEvaluation evaluates each answer of an attempt separately.
	KindAnswerEvaluation Kind = "answer_evaluation"
)

const dateLayout = "2006-01-02"

var ErrInvalid = errors.New("invalid subject")

// Ref points at the activity being analysed. Only the fields relevant to Kind are set.
type Ref struct {
	Kind      Kind      `json:"kind"`
	AttemptID string    `json:"attemptId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	From      time.Time `json:"from,omitempty"`
	To        time.Time `json:"to,omitempty"`
}

// Attempt builds a whole-attempt reference.
func Attempt(attemptID string) Ref {
	return Ref{Kind: KindAttempt, AttemptID: strings.TrimSpace(attemptID)}
}

// AnswerEvaluation builds a per-answer evaluation reference.
func AnswerEvaluation(attemptID string) Ref {
	return Ref{Kind: KindAnswerEvaluation, AttemptID: strings.TrimSpace(attemptID)}
}

// ActivityWindow builds a learner window reference. Bounds are truncated to UTC days.
func ActivityWindow(userID string, from, to time.Time) Ref {
	return Ref{
		Kind:   KindActivityWindow,
		UserID: strings.TrimSpace(userID),
		From:   day(from),
		To:     day(to),
	}
}

// Validate checks that the fields required by Kind are present.
func (r Ref) Validate() error {
	switch r.Kind {
	case KindAttempt, KindAnswerEvaluation:
		if strings.TrimSpace(r.AttemptID) == "" {
			return fmt.Errorf("%w: attemptId is required", ErrInvalid)
		}
	case KindActivityWindow:
		if strings.TrimSpace(r.UserID) == "" {
			return fmt.Errorf("%w: userId is required", ErrInvalid)
		}
		if r.From.IsZero() || r.To.IsZero() {
			return fmt.Errorf("%w: from and to are required", ErrInvalid)
		}
		if r.To.Before(r.From) {
			return fmt.Errorf("%w: to is before from", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, r.Kind)
	}
	return nil
}

// Key is the canonical identity used to enforce one active process per subject.
func (r Ref) Key() string {
	switch r.Kind {
	case KindActivityWindow:
		return fmt.Sprintf("window:%s:%s:%s", r.UserID, r.From.Format(dateLayout), r.To.Format(dateLayout))
	case KindAnswerEvaluation:
		return "evaluation:" + r.AttemptID
	default:
		return "attempt:" + r.AttemptID
	}
}

// Parse builds a Ref from loosely typed request fields. Dates accept
// YYYY-MM-DD or RFC3339.
func Parse(kind, attemptID, userID, from, to string) (Ref, error) {
	var ref Ref
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindAttempt, "":
		ref = Attempt(attemptID)
	case KindAnswerEvaluation:
		ref = AnswerEvaluation(attemptID)
	case KindActivityWindow:
		fromAt, err := parseDate(from)
		if err != nil {
			return Ref{}, fmt.Errorf("%w: from: %v", ErrInvalid, err)
		}
		toAt, err := parseDate(to)
		if err != nil {
			return Ref{}, fmt.Errorf("%w: to: %v", ErrInvalid, err)
		}
		ref = ActivityWindow(userID, fromAt, toAt)
	default:
		return Ref{}, fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("date is required")
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
