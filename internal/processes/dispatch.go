package processes

import (
	"context"
	"time"

	"insights-backend/internal/queue"
)

// Dispatcher hands a PENDING process to a worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, processID string) error
}

// QueueDispatcher enqueues processes for the SQS worker.
type QueueDispatcher struct {
	Queue queue.Client
}

func (d QueueDispatcher) Dispatch(ctx context.Context, processID string) error {
	if d.Queue == nil {
		return ErrQueueNotConfigured
	}
	msg := queue.NewMessage(processID, RequestIDFromContext(ctx), time.Now())
	return d.Queue.Send(ctx, msg)
}
