package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

type counter struct {
	name string
	help string
	val  atomic.Uint64
}

var (
	analysisSubmitted = &counter{name: "analysis_submitted_total", help: "Total analysis processes submitted"}
	analysisStarted   = &counter{name: "analysis_started_total", help: "Total analysis runs started"}
	analysisCompleted = &counter{name: "analysis_completed_total", help: "Total analysis runs completed"}
	analysisFailed    = &counter{name: "analysis_failed_total", help: "Total analysis runs failed"}
	analysisStalled   = &counter{name: "analysis_stalled_total", help: "Total analysis runs left processing after a failed completion write"}
	analysisRequeued  = &counter{name: "analysis_requeued_total", help: "Total stale analysis runs requeued by the sweep"}

	modelAttempts        = &counter{name: "model_attempts_total", help: "Total model gateway invocations"}
	modelAttemptFailures = &counter{name: "model_attempt_failures_total", help: "Total failed model gateway invocations"}
	modelFallbacks       = &counter{name: "model_fallbacks_total", help: "Total fallbacks to a lower priority model"}
	cascadeExhausted     = &counter{name: "cascade_exhausted_total", help: "Total cascades that exhausted every model"}

	insightMerges = &counter{name: "insight_merges_total", help: "Total insight merges applied"}
	insightDedups = &counter{name: "insight_duplicates_removed_total", help: "Total duplicate insight records removed during merge"}

	jobsReceived      = &counter{name: "analysis_jobs_received_total", help: "Total queue messages received by the worker"}
	jobsCompleted     = &counter{name: "analysis_jobs_completed_total", help: "Total queue messages processed and deleted"}
	jobsFailed        = &counter{name: "analysis_jobs_failed_total", help: "Total queue messages left for redelivery"}
	jobsUnrecoverable = &counter{name: "analysis_jobs_deleted_unrecoverable_total", help: "Total queue messages deleted as unrecoverable"}
	jobsExtended      = &counter{name: "analysis_jobs_visibility_extended_total", help: "Total visibility extensions sent for long running jobs"}

	rateLimited = &counter{name: "http_rate_limited_total", help: "Total requests rejected by the rate limiter"}

	counters = []*counter{
		analysisSubmitted, analysisStarted, analysisCompleted, analysisFailed, analysisStalled, analysisRequeued,
		modelAttempts, modelAttemptFailures, modelFallbacks, cascadeExhausted,
		insightMerges, insightDedups,
		jobsReceived, jobsCompleted, jobsFailed, jobsUnrecoverable, jobsExtended,
		rateLimited,
	}

	analysisDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 180000})
)

func IncAnalysisSubmitted() { analysisSubmitted.val.Add(1) }
func IncAnalysisStarted()   { analysisStarted.val.Add(1) }
func IncAnalysisCompleted() { analysisCompleted.val.Add(1) }
func IncAnalysisFailed()    { analysisFailed.val.Add(1) }
func IncAnalysisStalled()   { analysisStalled.val.Add(1) }
func IncAnalysisRequeued()  { analysisRequeued.val.Add(1) }

func IncModelAttempt()        { modelAttempts.val.Add(1) }
func IncModelAttemptFailure() { modelAttemptFailures.val.Add(1) }
func IncModelFallback()       { modelFallbacks.val.Add(1) }
func IncCascadeExhausted()    { cascadeExhausted.val.Add(1) }

// IncInsightMerge records one applied merge and the duplicates it removed.
func IncInsightMerge(duplicatesRemoved int) {
	insightMerges.val.Add(1)
	if duplicatesRemoved > 0 {
		insightDedups.val.Add(uint64(duplicatesRemoved))
	}
}

func IncAnalysisJobsReceived()             { jobsReceived.val.Add(1) }
func IncAnalysisJobsCompleted()            { jobsCompleted.val.Add(1) }
func IncAnalysisJobsFailed()               { jobsFailed.val.Add(1) }
func IncAnalysisJobsDeletedUnrecoverable() { jobsUnrecoverable.val.Add(1) }
func IncAnalysisJobsExtended()             { jobsExtended.val.Add(1) }

func IncRateLimited() { rateLimited.val.Add(1) }

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	for _, c := range counters {
		writeCounter(&buf, c.name, c.help, c.val.Load())
	}
	writeHistogram(&buf, "analysis_duration_ms", "Analysis duration in milliseconds", analysisDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe places value in the first bucket whose bound covers it.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

// writeHistogram emits cumulative bucket counts; Observe stores per-bucket counts.
func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
