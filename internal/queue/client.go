package queue

import "context"

// Client hands analysis jobs to the worker fleet. Send must not block on the
// analysis itself; delivery is at least once, so workers drop duplicates.
type Client interface {
	Send(ctx context.Context, msg Message) error
}
