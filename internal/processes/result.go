package processes

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"insights-backend/internal/insights"
	"insights-backend/internal/llm"
)

// Attribute is a named, scored strength or weakness.
type Attribute struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Evaluation is the per-question outcome of an answer evaluation.
type Evaluation struct {
	QuestionID string      `json:"questionId"`
	Position   int         `json:"position"`
	Score      float64     `json:"score"`
	Feedback   string      `json:"feedback"`
	Strengths  []Attribute `json:"strengths,omitempty"`
	Weaknesses []Attribute `json:"weaknesses,omitempty"`
}

// Result is the persisted outcome of a completed process.
type Result struct {
	Summary     string       `json:"summary"`
	Strengths   []Attribute  `json:"strengths"`
	Weaknesses  []Attribute  `json:"weaknesses"`
	Evaluations []Evaluation `json:"evaluations,omitempty"`
}

// Attributes returns the merge input for category.
func (r Result) Attributes(category insights.Category) map[string]float64 {
	list := r.Strengths
	if category == insights.CategoryWeakness {
		list = r.Weaknesses
	}
	out := make(map[string]float64, len(list))
	for _, a := range list {
		if cur, ok := out[a.Name]; !ok || a.Score > cur {
			out[a.Name] = a.Score
		}
	}
	return out
}

func decodeInsight(sr llm.StructuredResult) Result {
	return Result{
		Summary:    stringValue(sr["summary"]),
		Strengths:  decodeAttributes(sr["strengths"]),
		Weaknesses: decodeAttributes(sr["weaknesses"]),
	}
}

func decodeEvaluation(sr llm.StructuredResult, questionID string, position int) Evaluation {
	score, _ := numberValue(sr["score"])
	return Evaluation{
		QuestionID: questionID,
		Position:   position,
		Score:      score,
		Feedback:   stringValue(sr["feedback"]),
		Strengths:  decodeAttributes(sr["strengths"]),
		Weaknesses: decodeAttributes(sr["weaknesses"]),
	}
}

// decodeAttributes accepts [{name|topic, score}], ["name"] or {"name": score}.
// Entries without a usable name are dropped.
func decodeAttributes(v any) []Attribute {
	var out []Attribute
	switch typed := v.(type) {
	case []any:
		for _, item := range typed {
			switch entry := item.(type) {
			case string:
				if name := strings.TrimSpace(entry); name != "" {
					out = append(out, Attribute{Name: name})
				}
			case map[string]any:
				name := stringValue(entry["name"])
				if name == "" {
					name = stringValue(entry["topic"])
				}
				if name == "" {
					continue
				}
				score, _ := numberValue(entry["score"])
				out = append(out, Attribute{Name: name, Score: score})
			}
		}
	case map[string]any:
		for name, raw := range typed {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			score, _ := numberValue(raw)
			out = append(out, Attribute{Name: name, Score: score})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	}
	return out
}

// summarizeEvaluations folds per-question outcomes into one result.
// An attribute named by several questions keeps its highest score.
func summarizeEvaluations(evals []Evaluation) Result {
	strengths := map[string]Attribute{}
	weaknesses := map[string]Attribute{}
	var total float64
	for _, e := range evals {
		total += e.Score
		foldAttributes(strengths, e.Strengths)
		foldAttributes(weaknesses, e.Weaknesses)
	}
	res := Result{
		Strengths:   sortedAttributes(strengths),
		Weaknesses:  sortedAttributes(weaknesses),
		Evaluations: evals,
	}
	if len(evals) > 0 {
		avg := math.Round(total/float64(len(evals))*100) / 100
		res.Summary = "Evaluated " + strconv.Itoa(len(evals)) + " answers; average score " + strconv.FormatFloat(avg, 'f', -1, 64) + "."
	} else {
		res.Summary = "No answers to evaluate."
	}
	return res
}

func foldAttributes(into map[string]Attribute, attrs []Attribute) {
	for _, a := range attrs {
		key := insights.NormalizeName(a.Name)
		if cur, ok := into[key]; !ok || a.Score > cur.Score {
			into[key] = a
		}
	}
}

func sortedAttributes(m map[string]Attribute) []Attribute {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Attribute, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func decodePartial(raw json.RawMessage) ([]Evaluation, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var evals []Evaluation
	if err := json.Unmarshal(raw, &evals); err != nil {
		return nil, err
	}
	return evals, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
