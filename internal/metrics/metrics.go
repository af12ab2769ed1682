// Package metrics регистрирует метрики Prometheus сервиса.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "arrhythmia"

var (
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	TrainingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "training",
		Name:      "duration_seconds",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	TrainingRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "training",
		Name:      "runs_total",
	}, []string{"result"})

	TrainingRowsExcluded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "training",
		Name:      "rows_excluded_total",
	})

	TrainingQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "training",
		Name:      "queue_depth",
	})

	PredictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "inference",
		Name:      "predictions_total",
	}, []string{"label"})

	PredictionRowsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "inference",
		Name:      "rows_skipped_total",
	})

	ModelCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "inference",
		Name:      "model_cache_lookups_total",
	}, []string{"result"})

	IngestMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "ingest",
		Name:      "messages_total",
	}, []string{"result"})
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		TrainingDuration,
		TrainingRuns,
		TrainingRowsExcluded,
		TrainingQueueDepth,
		PredictionsTotal,
		PredictionRowsSkipped,
		ModelCacheLookups,
		IngestMessages,
	)
}

func Registry() *prometheus.Registry { return registry }

// Handler отдает метрики для GET /metrics
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// Middleware замеряет длительность запросов по шаблону маршрута
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Time наблюдает длительность от вызова до defer
func Time(o prometheus.Observer) func() {
	start := time.Now()
	return func() { o.Observe(time.Since(start).Seconds()) }
}

// Result "success" или "error" для меток счетчиков
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
