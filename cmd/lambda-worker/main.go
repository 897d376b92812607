package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"insights-backend/internal/bootstrap"
	"insights-backend/internal/shared/config"
	"insights-backend/internal/shared/metrics"
	"insights-backend/internal/shared/storage/db"
	"insights-backend/internal/shared/telemetry"
	"insights-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App

	sweepMu   sync.Mutex
	lastSweep time.Time
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(cfg, db.RoleLambda)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}

	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		err := workerproc.HandleMessage(ctx, app.Processes, record.Body)
		if err == nil {
			continue
		}
		fields := map[string]any{"sqs_message_id": record.MessageId, "error": err.Error()}
		if workerproc.Unrecoverable(err) {
			// Reported as success so Lambda deletes the record.
			telemetry.Warn("worker.analysis.dropped", fields)
			metrics.IncAnalysisJobsDeletedUnrecoverable()
			continue
		}
		telemetry.Error("worker.analysis.failed", fields)
		metrics.IncAnalysisJobsFailed()
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}

	sweepIfDue(ctx, time.Now())
	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

// sweepIfDue runs the stale-process sweep at most once per SweepInterval per
// sandbox. There is no long-lived ticker in Lambda.
func sweepIfDue(ctx context.Context, now time.Time) {
	interval := app.Config.SweepInterval
	if interval <= 0 {
		return
	}
	sweepMu.Lock()
	if !lastSweep.IsZero() && now.Sub(lastSweep) < interval {
		sweepMu.Unlock()
		return
	}
	lastSweep = now
	sweepMu.Unlock()

	if n, err := app.Processes.Sweep(ctx, now); err != nil {
		log.Printf("sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("sweep handled %d stale processes", n)
	}
}

func main() {
	lambda.Start(handler)
}
