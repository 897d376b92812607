package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"insights-backend/internal/llm"
	"insights-backend/internal/shared/metrics"
	"insights-backend/internal/shared/telemetry"
)

var (
	ErrInvalidConfiguration = errors.New("invalid cascade configuration")
	ErrAllModelsExhausted   = errors.New("all models exhausted")
)

// Config is the ordered model priority list and the per-model retry policy.
type Config struct {
	Models     []string
	Retries    int
	RetryDelay time.Duration
}

// Attempt is one gateway invocation.
type Attempt struct {
	Model   string
	Attempt int
	Err     error
}

// Outcome describes a successful cascade run. Attempts include the final successful call.
type Outcome struct {
	Result   llm.StructuredResult
	Model    string
	Attempts []Attempt
}

// ExhaustedError is returned once every model has used its retry budget.
type ExhaustedError struct {
	Models   []string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString("all models exhausted: ")
	for i, model := range e.Models {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(model)
		if last := e.lastError(model); last != nil {
			b.WriteString(" (")
			b.WriteString(last.Error())
			b.WriteString(")")
		}
	}
	return b.String()
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllModelsExhausted
}

// LastError returns the error of the final attempt.
func (e *ExhaustedError) LastError() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

func (e *ExhaustedError) lastError(model string) error {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if e.Attempts[i].Model == model {
			return e.Attempts[i].Err
		}
	}
	return nil
}

// Controller drives a gateway through the configured models in order.
type Controller struct {
	gateway llm.Gateway
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
}

// New validates cfg and returns a controller.
func New(gateway llm.Gateway, cfg Config) (*Controller, error) {
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", ErrInvalidConfiguration)
	}
	models := make([]string, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: model list is empty", ErrInvalidConfiguration)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("%w: retries must be >= 0", ErrInvalidConfiguration)
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	cfg.Models = models
	return &Controller{gateway: gateway, cfg: cfg, sleep: sleepContext}, nil
}

// Config returns the validated configuration.
func (c *Controller) Config() Config {
	out := c.cfg
	out.Models = append([]string(nil), c.cfg.Models...)
	return out
}

// MaxInvocations is the upper bound on gateway calls for a single ObtainResult.
func (c *Controller) MaxInvocations() int {
	return len(c.cfg.Models) * (c.cfg.Retries + 1)
}

// ObtainResult tries each model up to Retries+1 times, sequentially, with a fixed delay between attempts.
// Any gateway error or a result failing req.Validate counts as a failed attempt. Context cancellation aborts the cascade.
func (c *Controller) ObtainResult(ctx context.Context, req llm.Request) (Outcome, error) {
	attempts := make([]Attempt, 0, c.MaxInvocations())
	for mi, model := range c.cfg.Models {
		if mi > 0 {
			metrics.IncModelFallback()
			telemetry.Info("cascade.fallback", map[string]any{
				"from_model": c.cfg.Models[mi-1],
				"to_model":   model,
			})
		}
		for n := 1; n <= c.cfg.Retries+1; n++ {
			if len(attempts) > 0 && c.cfg.RetryDelay > 0 {
				if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
					return Outcome{Attempts: attempts}, err
				}
			}
			if err := ctx.Err(); err != nil {
				return Outcome{Attempts: attempts}, err
			}

			metrics.IncModelAttempt()
			res, err := c.gateway.Invoke(ctx, model, req)
			if err == nil {
				err = req.Validate(res)
			}
			attempts = append(attempts, Attempt{Model: model, Attempt: n, Err: err})
			if err == nil {
				return Outcome{Result: res, Model: model, Attempts: attempts}, nil
			}
			metrics.IncModelAttemptFailure()
			telemetry.Warn("cascade.attempt_failed", map[string]any{
				"model":   model,
				"attempt": n,
				"error":   err,
			})
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{Attempts: attempts}, ctxErr
			}
		}
	}
	metrics.IncCascadeExhausted()
	return Outcome{Attempts: attempts}, &ExhaustedError{
		Models:   append([]string(nil), c.cfg.Models...),
		Attempts: attempts,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
