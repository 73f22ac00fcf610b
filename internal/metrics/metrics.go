// Package metrics exposes Prometheus collectors fed by lifecycle events.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	eventbus "github.com/hanpama/appsyncsim/internal/eventbus"
	events "github.com/hanpama/appsyncsim/internal/events"
)

const namespace = "appsyncsim"

type Metrics struct {
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	operations       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	resolutions      *prometheus.CounterVec
	loaderCalls      *prometheus.CounterVec
	loaderLatency    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by status code.",
		}, []string{"code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"code"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "operations_total",
			Help: "Executed GraphQL operations by type and outcome.",
		}, []string{"type", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "operation_duration_seconds",
			Help:    "GraphQL execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "resolver", Name: "invocations_total",
			Help: "Completed resolver and pipeline function invocations.",
		}, []string{"type_name", "field_name"}),
		loaderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "datasource", Name: "requests_total",
			Help: "Data source calls by outcome. Outcome is ok or the failure type.",
		}, []string{"datasource", "type", "outcome"}),
		loaderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "datasource", Name: "request_duration_seconds",
			Help:    "Data source call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"datasource", "type"}),
	}
	for _, c := range []prometheus.Collector{
		m.httpRequests, m.httpDuration, m.operations, m.operationLatency,
		m.resolutions, m.loaderCalls, m.loaderLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Subscribe feeds the collectors from b.
func (m *Metrics) Subscribe(b *eventbus.Bus) (unsubscribe func()) {
	if b == nil {
		return func() {}
	}
	stops := []func(){
		eventbus.On(b, func(_ context.Context, e events.HTTPFinish) {
			code := strconv.Itoa(e.Status)
			m.httpRequests.WithLabelValues(code).Inc()
			m.httpDuration.WithLabelValues(code).Observe(e.Duration.Seconds())
		}),
		eventbus.On(b, func(_ context.Context, e events.GraphQLFinish) {
			outcome := "ok"
			if len(e.Errors) > 0 {
				outcome = "error"
			}
			m.operations.WithLabelValues(e.OperationType, outcome).Inc()
			m.operationLatency.WithLabelValues(e.OperationType).Observe(e.Duration.Seconds())
		}),
		eventbus.On(b, func(_ context.Context, e events.ResolverState) {
			if e.State == "DONE" {
				m.resolutions.WithLabelValues(e.TypeName, e.FieldName).Inc()
			}
		}),
		eventbus.On(b, func(_ context.Context, e events.LoaderFinish) {
			outcome := "ok"
			if e.FailureType != "" {
				outcome = e.FailureType
			}
			m.loaderCalls.WithLabelValues(e.DataSource, e.Kind, outcome).Inc()
			m.loaderLatency.WithLabelValues(e.DataSource, e.Kind).Observe(e.Duration.Seconds())
		}),
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}
