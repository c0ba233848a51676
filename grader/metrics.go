package grader

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsJudged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quark_jobs_judged_total",
		Help: "Jobs judged to completion, by final result.",
	}, []string{"result"})

	judgeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quark_judge_duration_seconds",
		Help:    "Wall time spent judging one job.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	jobsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quark_jobs_skipped_total",
		Help: "Queue pops that found the job no longer Queueing.",
	})
)

var queueDepthOnce sync.Once

func registerQueueDepth(q *Queue) {
	queueDepthOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "quark_queue_depth",
			Help: "Jobs currently waiting in the judge queue.",
		}, func() float64 { return float64(q.Len()) })
	})
}
