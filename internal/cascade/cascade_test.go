package cascade

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"insights-backend/internal/llm"
)

type scriptedGateway struct {
	mu    sync.Mutex
	calls []string
	// failures per model before success; -1 means always fail
	failures map[string]int
	seen     map[string]int
}

func newScriptedGateway(failures map[string]int) *scriptedGateway {
	return &scriptedGateway{failures: failures, seen: map[string]int{}}
}

func (g *scriptedGateway) Invoke(ctx context.Context, model string, req llm.Request) (llm.StructuredResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, model)
	g.seen[model]++
	limit, ok := g.failures[model]
	if !ok {
		limit = 0
	}
	if limit < 0 || g.seen[model] <= limit {
		return nil, errors.New("boom from " + model)
	}
	return llm.StructuredResult{"model": model}, nil
}

func newTestController(t *testing.T, gw llm.Gateway, cfg Config) *Controller {
	t.Helper()
	c, err := New(gw, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestObtainResultFallsBackToSecondModel(t *testing.T) {
	gw := newScriptedGateway(map[string]int{"m1": -1})
	c := newTestController(t, gw, Config{Models: []string{"m1", "m2"}, Retries: 1})

	out, err := c.ObtainResult(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("ObtainResult: %v", err)
	}
	if len(gw.calls) != 3 {
		t.Fatalf("expected 3 invocations, got %d (%v)", len(gw.calls), gw.calls)
	}
	want := []string{"m1", "m1", "m2"}
	for i := range want {
		if gw.calls[i] != want[i] {
			t.Fatalf("call %d = %s, want %s", i, gw.calls[i], want[i])
		}
	}
	if out.Model != "m2" || out.Result["model"] != "m2" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestObtainResultExhaustionCount(t *testing.T) {
	cases := []struct {
		models  []string
		retries int
	}{
		{models: []string{"a"}, retries: 0},
		{models: []string{"a", "b"}, retries: 2},
		{models: []string{"a", "b", "c"}, retries: 1},
	}
	for _, tc := range cases {
		failures := map[string]int{}
		for _, m := range tc.models {
			failures[m] = -1
		}
		gw := newScriptedGateway(failures)
		c := newTestController(t, gw, Config{Models: tc.models, Retries: tc.retries})

		_, err := c.ObtainResult(context.Background(), llm.Request{})
		if !errors.Is(err, ErrAllModelsExhausted) {
			t.Fatalf("expected ErrAllModelsExhausted, got %v", err)
		}
		wantCalls := len(tc.models) * (tc.retries + 1)
		if len(gw.calls) != wantCalls {
			t.Fatalf("models=%v retries=%d: got %d calls, want %d", tc.models, tc.retries, len(gw.calls), wantCalls)
		}
		var exhausted *ExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("expected *ExhaustedError")
		}
		if len(exhausted.Models) != len(tc.models) || len(exhausted.Attempts) != wantCalls {
			t.Fatalf("unexpected history %+v", exhausted)
		}
		for _, m := range tc.models {
			if !strings.Contains(err.Error(), "boom from "+m) {
				t.Fatalf("error %q missing history for %s", err.Error(), m)
			}
		}
	}
}

func TestObtainResultAttemptedModelsArePrefix(t *testing.T) {
	models := []string{"m1", "m2", "m3"}
	for winner := range models {
		failures := map[string]int{}
		for i := 0; i < winner; i++ {
			failures[models[i]] = -1
		}
		// winner succeeds on its second attempt
		failures[models[winner]] = 1
		gw := newScriptedGateway(failures)
		c := newTestController(t, gw, Config{Models: models, Retries: 2})

		out, err := c.ObtainResult(context.Background(), llm.Request{})
		if err != nil {
			t.Fatalf("winner=%d: %v", winner, err)
		}
		var distinct []string
		for _, a := range out.Attempts {
			if len(distinct) == 0 || distinct[len(distinct)-1] != a.Model {
				distinct = append(distinct, a.Model)
			}
		}
		if len(distinct) != winner+1 {
			t.Fatalf("winner=%d: attempted %v", winner, distinct)
		}
		for i := range distinct {
			if distinct[i] != models[i] {
				t.Fatalf("attempted models %v are not a prefix of %v", distinct, models)
			}
		}
		if out.Model != models[winner] {
			t.Fatalf("expected winner %s, got %s", models[winner], out.Model)
		}
	}
}

func TestObtainResultRetriesMalformedResponse(t *testing.T) {
	calls := 0
	gw := gatewayFunc(func(ctx context.Context, model string, req llm.Request) (llm.StructuredResult, error) {
		calls++
		if calls == 1 {
			return llm.ParseContent(`{"summary":"x"}`, []string{"strengths"})
		}
		return llm.StructuredResult{"strengths": []any{}}, nil
	})
	c := newTestController(t, gw, Config{Models: []string{"m1"}, Retries: 1})
	out, err := c.ObtainResult(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("ObtainResult: %v", err)
	}
	if calls != 2 || len(out.Attempts) != 2 || !errors.Is(out.Attempts[0].Err, llm.ErrMalformedResponse) {
		t.Fatalf("expected malformed first attempt then success, got %+v", out.Attempts)
	}
}

func TestObtainResultFallsBackOnWrongShape(t *testing.T) {
	var calls []string
	gw := gatewayFunc(func(ctx context.Context, model string, req llm.Request) (llm.StructuredResult, error) {
		calls = append(calls, model)
		if model == "m1" {
			return llm.StructuredResult{"summary": "ok", "strengths": "Algebra", "weaknesses": nil}, nil
		}
		return llm.StructuredResult{"summary": "ok", "strengths": []any{}, "weaknesses": []any{}}, nil
	})
	c := newTestController(t, gw, Config{Models: []string{"m1", "m2"}, Retries: 1})
	req := llm.Request{
		RequiredKeys: []string{"summary", "strengths", "weaknesses"},
		Shape: map[string]llm.ValueKind{
			"summary":    llm.KindString,
			"strengths":  llm.KindCollection,
			"weaknesses": llm.KindCollection,
		},
	}

	out, err := c.ObtainResult(context.Background(), req)
	if err != nil {
		t.Fatalf("ObtainResult: %v", err)
	}
	if out.Model != "m2" || strings.Join(calls, ",") != "m1,m1,m2" {
		t.Fatalf("expected fallback to m2 after two rejected m1 results, got model=%s calls=%v", out.Model, calls)
	}
	if !errors.Is(out.Attempts[0].Err, llm.ErrMalformedResponse) {
		t.Fatalf("expected malformed attempt, got %v", out.Attempts[0].Err)
	}
}

func TestObtainResultStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := gatewayFunc(func(ctx context.Context, model string, req llm.Request) (llm.StructuredResult, error) {
		cancel()
		return nil, errors.New("fail")
	})
	c := newTestController(t, gw, Config{Models: []string{"m1", "m2"}, Retries: 3, RetryDelay: time.Millisecond})
	_, err := c.ObtainResult(ctx, llm.Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRejectsEmptyModels(t *testing.T) {
	for _, models := range [][]string{nil, {}, {" ", ""}} {
		if _, err := New(newScriptedGateway(nil), Config{Models: models}); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("models=%v: expected ErrInvalidConfiguration, got %v", models, err)
		}
	}
	if _, err := New(nil, Config{Models: []string{"m1"}}); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected error for nil gateway")
	}
}

func TestSleepContextHonoursDelay(t *testing.T) {
	start := time.Now()
	if err := sleepContext(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("sleepContext: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("returned before delay")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancel, got %v", err)
	}
}

type gatewayFunc func(ctx context.Context, model string, req llm.Request) (llm.StructuredResult, error)

func (f gatewayFunc) Invoke(ctx context.Context, model string, req llm.Request) (llm.StructuredResult, error) {
	return f(ctx, model, req)
}
