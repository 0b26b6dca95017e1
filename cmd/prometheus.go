package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/model"
	log "github.com/sirupsen/logrus"

	"github.com/muajs/mua-benchmarking/internal/bench"
)

// PrometheusConfig holds configuration for pushing metrics at the end of a run
type PrometheusConfig struct {
	Enabled bool
	PushURL string
	JobName string
}

// StepMetrics holds the Prometheus metrics of one benchmark run
type StepMetrics struct {
	Forward   prometheus.Histogram
	Backward  prometheus.Histogram
	Decode    prometheus.Histogram
	Loss      prometheus.Gauge
	Processed prometheus.Counter
	HeapPeak  prometheus.Gauge
}

var stepBuckets = prometheus.ExponentialBuckets(0.0001, 2, 16)

// NewStepMetrics creates the run metrics and registers them with registry
func NewStepMetrics(registry *prometheus.Registry, labels prometheus.Labels) *StepMetrics {
	metrics := &StepMetrics{
		Forward: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "mua_benchmark_forward_seconds",
			Help:        "Duration of the forward pass of one training step",
			Buckets:     stepBuckets,
			ConstLabels: labels,
		}),
		Backward: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "mua_benchmark_backward_seconds",
			Help:        "Duration of loss, gradients and update of one training step",
			Buckets:     stepBuckets,
			ConstLabels: labels,
		}),
		Decode: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "mua_benchmark_decode_seconds",
			Help:        "Duration of decoding one image",
			Buckets:     stepBuckets,
			ConstLabels: labels,
		}),
		Loss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mua_benchmark_loss",
			Help:        "Training loss of the latest step",
			ConstLabels: labels,
		}),
		Processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mua_benchmark_steps_total",
			Help:        "Number of completed training steps",
			ConstLabels: labels,
		}),
		HeapPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mua_benchmark_heap_peak_bytes",
			Help:        "Largest sampled heap allocation during the run",
			ConstLabels: labels,
		}),
	}

	registry.MustRegister(
		metrics.Forward,
		metrics.Backward,
		metrics.Decode,
		metrics.Loss,
		metrics.Processed,
		metrics.HeapPeak,
	)

	return metrics
}

// Observe records one completed step.
func (m *StepMetrics) Observe(_ int, s bench.Sample) {
	m.Forward.Observe(s.Forward.Seconds())
	m.Backward.Observe(s.Backward.Seconds())
	m.Decode.Observe(s.Decode.Seconds())
	m.Loss.Set(s.Loss)
	m.Processed.Inc()
}

// newRegistry returns a registry that also exposes the Go runtime
// statistics the memory monitor reads.
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

// metricsHandler serves registry on /metrics with a small index page.
func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
			<head><title>Benchmark Metrics</title></head>
			<body>
				<h1>Benchmark Metrics</h1>
				<p><a href="/metrics">Metrics</a></p>
			</body>
			</html>`))
	})
	return mux
}

// serveMetrics exposes registry on addr until the returned stop function
// is called.
func serveMetrics(addr string, registry *prometheus.Registry) func() {
	server := &http.Server{Addr: addr, Handler: metricsHandler(registry)}
	go func() {
		log.WithField("addr", addr).Info("Starting metrics server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).WithField("addr", addr).Warn("Failed to stop metrics server")
		}
	}
}

// PushMetricsToPrometheus pushes the run metrics to a Prometheus pushgateway
func PushMetricsToPrometheus(cfg *Config, registry prometheus.Gatherer, runID string) error {
	if !cfg.PrometheusConfig.Enabled || cfg.PrometheusConfig.PushURL == "" {
		return nil
	}

	pusher := push.New(cfg.PrometheusConfig.PushURL, cfg.PrometheusConfig.JobName).
		Gatherer(registry).
		Grouping("run_id", runID)

	if err := pusher.Push(); err != nil {
		log.WithError(err).Error("Failed to push metrics to Prometheus")
		return errors.Wrap(err, "push metrics")
	}

	log.WithFields(log.Fields{
		"url":    cfg.PrometheusConfig.PushURL,
		"job":    cfg.PrometheusConfig.JobName,
		"run_id": runID,
	}).Info("Successfully pushed metrics to Prometheus")

	return nil
}

func metricLabels(cfg Config, variant string) prometheus.Labels {
	labels := prometheus.Labels{"variant": variant}
	for key, value := range cfg.LabelMap {
		if !model.LabelName(key).IsValid() || key == "variant" {
			log.WithField("label", key).Warn("Ignoring label that is not a valid Prometheus label name")
			continue
		}
		labels[key] = value
	}
	return labels
}
