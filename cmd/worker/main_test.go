package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"insights-backend/internal/processes"
	"insights-backend/internal/queue"
	"insights-backend/internal/shared/telemetry"
)

type fakeSQS struct {
	mu       sync.Mutex
	deleted  []string
	extended int
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended++
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) extensions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extended
}

type fakeProcessor struct {
	err   error
	delay time.Duration
	calls []string
}

func (f *fakeProcessor) Run(ctx context.Context, processID string) error {
	f.calls = append(f.calls, processID)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.err
}

func message(t *testing.T, id, receipt, processID string) sqstypes.Message {
	t.Helper()
	body, err := queue.EncodeMessage(queue.NewMessage(processID, "req-1", time.Now()))
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String(receipt),
		Body:          aws.String(string(body)),
		Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
	}
}

func quiet(t *testing.T) {
	t.Helper()
	restore := telemetry.SetOutput(io.Discard)
	t.Cleanup(restore)
}

func TestWorkerDeletesMessageOnSuccess(t *testing.T) {
	quiet(t)
	client := &fakeSQS{}
	proc := &fakeProcessor{}

	handleMessage(context.Background(), client, "queue", proc, message(t, "m1", "r1", "p1"), 0)

	if len(proc.calls) != 1 || proc.calls[0] != "p1" {
		t.Fatalf("expected one run of p1, got %v", proc.calls)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "r1" {
		t.Fatalf("expected delete of r1, got %v", client.deleted)
	}
}

func TestWorkerKeepsMessageOnRetryableFailure(t *testing.T) {
	quiet(t)
	client := &fakeSQS{}
	proc := &fakeProcessor{err: errors.New("database unavailable")}

	handleMessage(context.Background(), client, "queue", proc, message(t, "m2", "r2", "p2"), 0)

	if len(client.deleted) != 0 {
		t.Fatalf("expected no delete, got %v", client.deleted)
	}
}

func TestWorkerDeletesWhenRunAlreadyFailed(t *testing.T) {
	quiet(t)
	client := &fakeSQS{}
	proc := &fakeProcessor{err: fmt.Errorf("%w: models down", processes.ErrProcessFailed)}

	handleMessage(context.Background(), client, "queue", proc, message(t, "m3", "r3", "p3"), 0)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %v", client.deleted)
	}
}

func TestWorkerDeletesDuplicateDelivery(t *testing.T) {
	quiet(t)
	client := &fakeSQS{}
	proc := &fakeProcessor{err: processes.ErrNotRunnable}

	handleMessage(context.Background(), client, "queue", proc, message(t, "m4", "r4", "p4"), 0)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %v", client.deleted)
	}
}

func TestWorkerDeletesOnInvalidJSON(t *testing.T) {
	quiet(t)
	client := &fakeSQS{}
	proc := &fakeProcessor{}
	msg := sqstypes.Message{
		MessageId:     aws.String("m5"),
		ReceiptHandle: aws.String("r5"),
		Body:          aws.String("{bad-json"),
	}

	handleMessage(context.Background(), client, "queue", proc, msg, 0)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %v", client.deleted)
	}
	if len(proc.calls) != 0 {
		t.Fatalf("expected no run, got %v", proc.calls)
	}
}

func TestWorkerExtendsVisibilityForLongRuns(t *testing.T) {
	quiet(t)
	client := &fakeSQS{}
	proc := &fakeProcessor{delay: 120 * time.Millisecond}

	handleMessage(context.Background(), client, "queue", proc, message(t, "m6", "r6", "p6"), 40*time.Millisecond)

	if got := client.extensions(); got < 2 {
		t.Fatalf("expected repeated visibility extensions, got %d", got)
	}
	if len(client.deleted) != 1 {
		t.Fatalf("expected delete after success, got %v", client.deleted)
	}
}

func TestReceiveCount(t *testing.T) {
	if got := receiveCount(sqstypes.Message{}); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	msg := sqstypes.Message{Attributes: map[string]string{"ApproximateReceiveCount": "3"}}
	if got := receiveCount(msg); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}
