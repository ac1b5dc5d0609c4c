// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// Collector aggregates scan metrics.
type Collector struct {
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	toolExecutionsTotal   *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	sandboxExecsTotal    *prometheus.CounterVec
	scanIterationsTotal  prometheus.Counter
	vulnerabilitiesTotal *prometheus.CounterVec
	stateTransitions     *prometheus.CounterVec
	proxyExchangesTotal  prometheus.Counter

	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewCollector creates a collector backed by its own registry so
// multiple scans in one process do not collide.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.toolExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Total number of tool executions",
		},
		[]string{"tool", "status"},
	)

	c.toolExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"tool"},
	)

	c.sandboxExecsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_execs_total",
			Help:      "Total number of sandbox command executions",
		},
		[]string{"status"},
	)

	c.scanIterationsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_iterations_total",
			Help:      "Total number of scan loop iterations",
		},
	)

	c.vulnerabilitiesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vulnerabilities_reported_total",
			Help:      "Total number of vulnerabilities reported",
		},
		[]string{"severity"},
	)

	c.stateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.proxyExchangesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_exchanges_total",
			Help:      "Total number of HTTP exchanges captured by the proxy",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordLLMRequest records one LLM round trip.
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// RecordToolExecution records one tool call.
func (c *Collector) RecordToolExecution(tool, status string, duration time.Duration) {
	c.toolExecutionsTotal.WithLabelValues(tool, status).Inc()
	c.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordSandboxExec records one sandbox command.
func (c *Collector) RecordSandboxExec(status string) {
	c.sandboxExecsTotal.WithLabelValues(status).Inc()
}

// RecordIteration records one scan loop iteration.
func (c *Collector) RecordIteration() {
	c.scanIterationsTotal.Inc()
}

// RecordVulnerability records a reported finding.
func (c *Collector) RecordVulnerability(severity string) {
	c.vulnerabilitiesTotal.WithLabelValues(severity).Inc()
}

// RecordStateTransition records an agent state change.
func (c *Collector) RecordStateTransition(from, to string) {
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordProxyExchange records one captured HTTP exchange.
func (c *Collector) RecordProxyExchange() {
	c.proxyExchangesTotal.Inc()
}

// Gather exposes the underlying registry for tests and the HTTP
// endpoint.
func (c *Collector) Gather() ([]*dto.MetricFamily, error) {
	return c.registry.Gather()
}

// Serve exposes /metrics until the context is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	c.logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
