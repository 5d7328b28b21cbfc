package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-task-runtime/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "taskruntime"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// ResumeBuckets bucket a single resume; defaults to prom.DefBuckets.
	ResumeBuckets []float64
	// LifetimeBuckets bucket creation-to-completion time.
	LifetimeBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	resumeSeconds   *prom.HistogramVec
	lifetimeSeconds *prom.HistogramVec
	failureTotal    *prom.CounterVec
	rejectedTotal   *prom.CounterVec
	queueDepth      *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
// Registering twice against the same registry reuses the existing collectors.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	resumeBuckets := opts.ResumeBuckets
	if len(resumeBuckets) == 0 {
		resumeBuckets = prom.DefBuckets
	}
	lifetimeBuckets := opts.LifetimeBuckets
	if len(lifetimeBuckets) == 0 {
		lifetimeBuckets = prom.ExponentialBuckets(0.001, 4, 10)
	}

	resumeVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_resume_seconds",
		Help:      "Duration of a single task resume in seconds.",
		Buckets:   resumeBuckets,
	}, []string{"scheduler"})
	lifetimeVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_lifetime_seconds",
		Help:      "Time from task creation to completion in seconds.",
		Buckets:   lifetimeBuckets,
	}, []string{"scheduler"})
	failureVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_failure_total",
		Help:      "Total number of failed tasks.",
	}, []string{"scheduler", "kind"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"scheduler", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "ready_queue_depth",
		Help:      "Ready queue depth observed on the last push.",
	}, []string{"scheduler"})

	var err error
	if resumeVec, err = registerCollector(reg, resumeVec); err != nil {
		return nil, err
	}
	if lifetimeVec, err = registerCollector(reg, lifetimeVec); err != nil {
		return nil, err
	}
	if failureVec, err = registerCollector(reg, failureVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		resumeSeconds:   resumeVec,
		lifetimeSeconds: lifetimeVec,
		failureTotal:    failureVec,
		rejectedTotal:   rejectedVec,
		queueDepth:      queueDepthVec,
	}, nil
}

// RecordResumeDuration records how long one resume took.
func (m *MetricsExporter) RecordResumeDuration(schedulerName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.resumeSeconds.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Observe(duration.Seconds())
}

// RecordTaskLifetime records task creation-to-completion time.
func (m *MetricsExporter) RecordTaskLifetime(schedulerName string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.lifetimeSeconds.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Observe(lifetime.Seconds())
}

// RecordTaskFailure counts a failed task, labelled "panic" or "error".
func (m *MetricsExporter) RecordTaskFailure(schedulerName string, failure *core.TaskFailure) {
	if m == nil {
		return
	}
	m.failureTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), failureKind(failure)).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(schedulerName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(schedulerName string, reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func failureKind(failure *core.TaskFailure) string {
	switch {
	case failure == nil:
		return "unknown"
	case failure.Panicked():
		return "panic"
	default:
		return "error"
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
