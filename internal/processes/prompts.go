package processes

import (
	"insights-backend/internal/llm"
	"insights-backend/internal/subject"
)

const attemptPrompt = `You are an assessment analyst. The user message is a JSON document describing one completed assessment attempt: ordered question blocks with the learner's responses, marks and explanations, plus numeric facts.
Return ONLY a JSON object with:
- "summary": short plain-text overview of the attempt
- "strengths": array of {"name": topic or skill, "score": number 0-100}
- "weaknesses": array of {"name": topic or skill, "score": number 0-100}
Base every item on the provided content. Use concise topic names. Do not include markdown.`

const windowPrompt = `You are a learning-behaviour analyst. The user message is a JSON document listing a learner's activity over a date range, ordered by start time, plus numeric facts.
Return ONLY a JSON object with:
- "summary": short plain-text overview of study habits in the window
- "strengths": array of {"name": habit or topic, "score": number 0-100}
- "weaknesses": array of {"name": habit or topic, "score": number 0-100}
Base every item on the provided activity. Do not include markdown.`

const evaluationPrompt = `You are an answer evaluator. The user message is a JSON document with one question block: the question text, options, expected answer, the learner's response and marks.
Return ONLY a JSON object with:
- "score": number 0-100 rating the response
- "feedback": one or two plain-text sentences for the learner
- "strengths": array of {"name": skill shown, "score": number 0-100}
- "weaknesses": array of {"name": skill missing, "score": number 0-100}
Do not include markdown.`

var (
	insightKeys    = []string{"summary", "strengths", "weaknesses"}
	evaluationKeys = []string{"score", "feedback"}

	insightShape = map[string]llm.ValueKind{
		"summary":    llm.KindString,
		"strengths":  llm.KindCollection,
		"weaknesses": llm.KindCollection,
	}
	evaluationShape = map[string]llm.ValueKind{
		"score":      llm.KindNumber,
		"feedback":   llm.KindString,
		"strengths":  llm.KindCollection,
		"weaknesses": llm.KindCollection,
	}
)

// analysisRequest builds the whole-subject request for attempt and window subjects.
func analysisRequest(kind subject.Kind, payload any) llm.Request {
	system := attemptPrompt
	if kind == subject.KindActivityWindow {
		system = windowPrompt
	}
	return llm.Request{System: system, Payload: payload, RequiredKeys: insightKeys, Shape: insightShape}
}

func evaluationRequest(payload any) llm.Request {
	return llm.Request{System: evaluationPrompt, Payload: payload, RequiredKeys: evaluationKeys, Shape: evaluationShape}
}
