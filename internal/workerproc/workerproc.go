// Package workerproc decodes queue payloads and runs the referenced process.
// It is shared by the long-running SQS worker and the Lambda worker.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"insights-backend/internal/processes"
	"insights-backend/internal/queue"
)

// Processor runs one analysis process to completion.
type Processor interface {
	Run(ctx context.Context, processID string) error
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure or an unsupported message version.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingProcessID indicates a message without a process id.
type ErrMissingProcessID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingProcessID) Error() string { return "missing process id" }

// ErrProcess indicates the run failed after the message was parsed.
type ErrProcess struct {
	ProcessID string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "run process"
	}
	return "run process: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Retryable reports whether redelivering the message could succeed.
// Missing processes and runs already persisted as FAILED never will.
func (e ErrProcess) Retryable() bool {
	return !errors.Is(e.Err, processes.ErrNotFound) && !errors.Is(e.Err, processes.ErrProcessFailed)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if msg.Version > queue.CurrentVersion {
		return msg, meta, ErrDecode{Meta: meta, Err: fmt.Errorf("unsupported message version %d", msg.Version)}
	}
	if strings.TrimSpace(msg.ProcessID) == "" {
		return msg, meta, ErrMissingProcessID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// Run executes the process named by msg. A process that is already past
// PENDING counts as handled so duplicate deliveries are dropped.
func Run(ctx context.Context, processor Processor, msg queue.Message) error {
	if processor == nil {
		return errors.New("process service not configured")
	}
	if strings.TrimSpace(msg.ProcessID) == "" {
		return ErrMissingProcessID{RequestID: msg.RequestID}
	}
	ctx = processes.WithRequestID(ctx, msg.RequestID)
	if err := processor.Run(ctx, msg.ProcessID); err != nil {
		if errors.Is(err, processes.ErrNotRunnable) {
			return nil
		}
		return ErrProcess{ProcessID: msg.ProcessID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}

// HandleMessage parses body and runs the referenced process.
func HandleMessage(ctx context.Context, processor Processor, body string) error {
	msg, _, err := ParseMessage(body)
	if err != nil {
		return err
	}
	return Run(ctx, processor, msg)
}

// Unrecoverable reports whether err means the message should be deleted
// rather than redelivered.
func Unrecoverable(err error) bool {
	var procErr ErrProcess
	if errors.As(err, &procErr) {
		return !procErr.Retryable()
	}
	switch err.(type) {
	case ErrEmptyBody, ErrDecode, ErrMissingProcessID:
		return true
	}
	return false
}
