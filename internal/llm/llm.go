package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrMalformedResponse marks model output that is not a JSON object of the expected shape.
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrNotConfigured is returned by the placeholder gateway.
	ErrNotConfigured = errors.New("llm gateway not configured")
)

// Gateway sends one request to one model. Implementations hold no retry or fallback logic.
type Gateway interface {
	Invoke(ctx context.Context, model string, req Request) (StructuredResult, error)
}

// Request is the model-agnostic input for a single call.
type Request struct {
	// System is the instruction sent as the system message.
	System string
	// Payload is serialized as JSON and sent as the user message.
	Payload any
	// RequiredKeys are top-level keys the response object must contain.
	RequiredKeys []string
	// Shape constrains the JSON type of top-level keys when they are present.
	Shape map[string]ValueKind
}

// ValueKind is the JSON type expected for a response key.
type ValueKind int

const (
	KindString ValueKind = iota + 1
	KindNumber
	// KindCollection accepts an array or an object.
	KindCollection
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindCollection:
		return "array or object"
	default:
		return "unknown"
	}
}

func (k ValueKind) matches(v any) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		_, ok := v.(float64)
		return ok
	case KindCollection:
		switch v.(type) {
		case []any, map[string]any:
			return true
		}
		return false
	default:
		return true
	}
}

// Validate reports ErrMalformedResponse when res lacks a required key or a key has the wrong type.
func (r Request) Validate(res StructuredResult) error {
	if res == nil {
		return fmt.Errorf("%w: empty result", ErrMalformedResponse)
	}
	for _, key := range r.RequiredKeys {
		if _, ok := res[key]; !ok {
			return fmt.Errorf("%w: missing key %q", ErrMalformedResponse, key)
		}
	}
	for key, kind := range r.Shape {
		v, ok := res[key]
		if !ok {
			continue
		}
		if !kind.matches(v) {
			return fmt.Errorf("%w: key %q must be %s, got %T", ErrMalformedResponse, key, kind, v)
		}
	}
	return nil
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// StructuredResult is the parsed JSON object returned by a model.
type StructuredResult map[string]any

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Model      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := Truncate(strings.TrimSpace(e.Body), 200)
	return fmt.Sprintf("llm http status %d model=%s: %s", e.StatusCode, e.Model, body)
}

// UserMessage renders the request payload as the user message content.
func (r Request) UserMessage() (string, error) {
	if s, ok := r.Payload.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(r.Payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}

// StripCodeFence removes a surrounding markdown code fence such as ```json ... ```.
func StripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// info string ("json", "JSON", ...)
		body = body[nl+1:]
	} else {
		body = strings.TrimSpace(body)
		if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
			body = body[4:]
		}
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// ParseContent strips any code fence, decodes a JSON object and checks required keys.
func ParseContent(content string, required []string) (StructuredResult, error) {
	body := StripCodeFence(content)
	if body == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}
	var out StructuredResult
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: content is not a JSON object", ErrMalformedResponse)
	}
	for _, key := range required {
		if _, ok := out[key]; !ok {
			return nil, fmt.Errorf("%w: missing key %q", ErrMalformedResponse, key)
		}
	}
	return out, nil
}

// PlaceholderGateway fails every call; used when no provider is configured.
type PlaceholderGateway struct{}

// Invoke returns ErrNotConfigured.
func (PlaceholderGateway) Invoke(ctx context.Context, model string, req Request) (StructuredResult, error) {
	_ = ctx
	_ = req
	return nil, fmt.Errorf("model %s: %w", model, ErrNotConfigured)
}

var _ Gateway = PlaceholderGateway{}
