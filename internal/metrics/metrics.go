package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChatsCreated         prometheus.Counter
	CompletionsStarted   prometheus.Counter
	CompletionsCompleted prometheus.Counter
	CompletionsFailed    prometheus.Counter
	ChunksStreamed       prometheus.Counter
	EnqueuedJobs         prometheus.Counter
	ProcessedJobs        prometheus.Counter
	FailedJobs           prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ChatsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "captionzen",
				Name:      "chats_created_total",
				Help:      "Total chats created from video links",
			}),
			CompletionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "captionzen",
				Name:      "completions_started_total",
				Help:      "Total streaming completions started",
			}),
			CompletionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "captionzen",
				Name:      "completions_completed_total",
				Help:      "Total streaming completions finished without error",
			}),
			CompletionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "captionzen",
				Name:      "completions_failed_total",
				Help:      "Total streaming completions that ended in error",
			}),
			ChunksStreamed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "captionzen",
				Name:      "chunks_streamed_total",
				Help:      "Total completion chunks forwarded to callers",
			}),
			EnqueuedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "captionzen",
				Name:      "ingest_enqueued_total",
				Help:      "Total ingest jobs enqueued to redis stream",
			}),
			ProcessedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "captionzen",
				Name:      "ingest_processed_total",
				Help:      "Total ingest jobs successfully processed",
			}),
			FailedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "captionzen",
				Name:      "ingest_failed_total",
				Help:      "Total ingest jobs failed during processing",
			}),
		}
		prometheus.MustRegister(
			global.ChatsCreated,
			global.CompletionsStarted,
			global.CompletionsCompleted,
			global.CompletionsFailed,
			global.ChunksStreamed,
			global.EnqueuedJobs,
			global.ProcessedJobs,
			global.FailedJobs,
		)
	})
	return global
}
