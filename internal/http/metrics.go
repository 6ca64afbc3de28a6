package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/pagesdeploy/internal/service/deploy"
)

var (
	histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	stageBuckets     = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}
)

type metrics struct {
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
	deployResults  *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagesdeploy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pagesdeploy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagesdeploy",
			Subsystem: "http",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"}),
		deployResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagesdeploy",
			Subsystem: "deploy",
			Name:      "results_total",
			Help:      "Deployment attempts by outcome and failing stage",
		}, []string{"outcome", "stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pagesdeploy",
			Subsystem: "deploy",
			Name:      "stage_duration_seconds",
			Help:      "Duration of executed pipeline steps",
			Buckets:   stageBuckets,
		}, []string{"stage"}),
	}
	m.requestTotal = register(m.requestTotal)
	m.requestLatency = register(m.requestLatency)
	m.rateLimitHits = register(m.rateLimitHits)
	m.deployResults = register(m.deployResults)
	m.stageDuration = register(m.stageDuration)
	return m
}

// register adds c to the default registry, reusing an identical collector
// registered by an earlier router.
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) recordRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}

func (m *metrics) recordRateLimitHit(route, key string) {
	m.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (m *metrics) recordDeploy(result deploy.Result) {
	outcome, stage := "success", ""
	if !result.Success {
		outcome, stage = "failed", string(result.Stage)
	}
	if result.Stage == deploy.StageInProgress {
		outcome = "rejected"
	}
	m.deployResults.With(prometheus.Labels{"outcome": outcome, "stage": stage}).Inc()
	for _, step := range result.Steps {
		m.stageDuration.With(prometheus.Labels{"stage": string(step.Stage)}).Observe(step.Duration.Seconds())
	}
}
