package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "buildrunner"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	buildDuration   prom.Histogram
	buildOutcome    *prom.CounterVec
	runningBuilds   prom.Gauge
	stepDuration    *prom.HistogramVec
	logLines        prom.Counter
	logFlushRetries prom.Counter
	eventsPublished *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build duration",
			Buckets:   prom.ExponentialBuckets(0.1, 2, 14),
		})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.runningBuilds = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "running_builds",
			Help:      "Builds currently executing",
		})
		pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of individual pipeline steps",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.logLines = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "log_lines_persisted_total",
			Help:      "Step output lines written to the store",
		})
		pr.logFlushRetries = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "log_flush_retries_total",
			Help:      "Log batch flushes retried after a store failure",
		})
		pr.eventsPublished = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Build events handed to the transport by delivery result",
		}, []string{"event", "result"})
		reg.MustRegister(pr.buildDuration, pr.buildOutcome, pr.runningBuilds, pr.stepDuration,
			pr.logLines, pr.logFlushRetries, pr.eventsPublished)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome BuildOutcomeLabel) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddRunningBuilds(delta int) {
	if p == nil || p.runningBuilds == nil {
		return
	}
	p.runningBuilds.Add(float64(delta))
}

func (p *PrometheusRecorder) ObserveStepDuration(d time.Duration, result ResultLabel) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) AddLogLines(n int) {
	if p == nil || p.logLines == nil || n <= 0 {
		return
	}
	p.logLines.Add(float64(n))
}

func (p *PrometheusRecorder) IncLogFlushRetry() {
	if p == nil || p.logFlushRetries == nil {
		return
	}
	p.logFlushRetries.Inc()
}

func (p *PrometheusRecorder) IncEventPublished(event string, delivered bool) {
	if p == nil || p.eventsPublished == nil {
		return
	}
	res := "failed"
	if delivered {
		res = "delivered"
	}
	p.eventsPublished.WithLabelValues(event, res).Inc()
}
