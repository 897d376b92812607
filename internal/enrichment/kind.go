package enrichment

import (
	"fmt"
	"strings"
)

// EvaluationKind is the closed set of question types.
type EvaluationKind string

const (
	KindNumeric    EvaluationKind = "NUMERIC"
	KindMCQSingle  EvaluationKind = "MCQS"
	KindMCQMulti   EvaluationKind = "MCQM"
	KindOneWord    EvaluationKind = "ONE_WORD"
	KindLongAnswer EvaluationKind = "LONG_ANSWER"
)

// ParseEvaluationKind resolves a stored question type string.
func ParseEvaluationKind(raw string) (EvaluationKind, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch EvaluationKind(normalized) {
	case KindNumeric, KindMCQSingle, KindMCQMulti, KindOneWord, KindLongAnswer:
		return EvaluationKind(normalized), nil
	case "ONEWORD":
		return KindOneWord, nil
	case "LONGANSWER", "LONG":
		return KindLongAnswer, nil
	}
	return "", fmt.Errorf("unknown question type %q", raw)
}

// Response is the typed learner answer for one evaluation kind.
type Response interface {
	EvaluationKind() EvaluationKind
	// Correct reports whether the answer matches the key; ok is false when it cannot be judged mechanically.
	Correct() (correct bool, ok bool)
}

// ChoiceResponse covers MCQS and MCQM.
type ChoiceResponse struct {
	Kind     EvaluationKind `json:"kind"`
	Selected []OptionText   `json:"selected"`
	Expected []OptionText   `json:"expected,omitempty"`
}

func (r ChoiceResponse) EvaluationKind() EvaluationKind { return r.Kind }

func (r ChoiceResponse) Correct() (bool, bool) {
	if len(r.Expected) == 0 {
		return false, false
	}
	want := optionSet(r.Expected)
	got := optionSet(r.Selected)
	if len(got) != len(want) {
		return false, true
	}
	for id := range got {
		if _, ok := want[id]; !ok {
			return false, true
		}
	}
	return true, true
}

func optionSet(opts []OptionText) map[string]struct{} {
	set := make(map[string]struct{}, len(opts))
	for _, o := range opts {
		set[o.ID] = struct{}{}
	}
	return set
}

// ShortResponse covers NUMERIC and ONE_WORD.
type ShortResponse struct {
	Kind     EvaluationKind `json:"kind"`
	Answer   string         `json:"answer"`
	Expected string         `json:"expected,omitempty"`
}

func (r ShortResponse) EvaluationKind() EvaluationKind { return r.Kind }

func (r ShortResponse) Correct() (bool, bool) {
	expected := strings.TrimSpace(r.Expected)
	if expected == "" {
		return false, false
	}
	return strings.EqualFold(strings.TrimSpace(r.Answer), expected), true
}

// LongResponse is free text that only a model can evaluate.
type LongResponse struct {
	Kind      EvaluationKind `json:"kind"`
	Answer    string         `json:"answer"`
	Reference string         `json:"reference,omitempty"`
}

func (r LongResponse) EvaluationKind() EvaluationKind { return r.Kind }

func (r LongResponse) Correct() (bool, bool) { return false, false }

func buildResponse(kind EvaluationKind, answer AnswerRef, q Question, options map[string]Option) Response {
	switch kind {
	case KindMCQSingle, KindMCQMulti:
		return ChoiceResponse{
			Kind:     kind,
			Selected: optionTexts(answer.SelectedOptionIDs, options),
			Expected: optionTexts(q.CorrectOptionIDs, options),
		}
	case KindNumeric, KindOneWord:
		return ShortResponse{Kind: kind, Answer: strings.TrimSpace(answer.ResponseText), Expected: q.CorrectAnswer}
	case KindLongAnswer:
		return LongResponse{Kind: kind, Answer: strings.TrimSpace(answer.ResponseText), Reference: q.CorrectAnswer}
	}
	return nil
}

// optionTexts keeps id order; text is omitted for options that could not be resolved.
func optionTexts(ids []string, options map[string]Option) []OptionText {
	if len(ids) == 0 {
		return nil
	}
	out := make([]OptionText, 0, len(ids))
	for _, id := range ids {
		item := OptionText{ID: id}
		if opt, ok := options[id]; ok {
			item.Text = opt.Text
		}
		out = append(out, item)
	}
	return out
}
