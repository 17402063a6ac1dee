// Package metrics exports measurements in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apperrors "github.com/shizukutanaka/measure/internal/errors"
	"github.com/shizukutanaka/measure/internal/measure"
)

// ErrTextfile wraps a failure to write the textfile export.
var ErrTextfile = apperrors.NewError(apperrors.ErrorTypeMetrics, "METRICS_TEXTFILE", "failed to write metrics textfile")

// Config defines metrics exporter configuration
type Config struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	// Textfile, if set, receives the metrics after a run in the format read
	// by node_exporter's textfile collector.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
	// ListenAddr, if set, serves /metrics while a run is in progress.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// Exporter mirrors registry samples and timer results into Prometheus
// collectors. It implements measure.Reporter and measure.ResultObserver.
type Exporter struct {
	logger   *zap.Logger
	config   Config
	registry *prometheus.Registry
	server   *http.Server
	stopOnce sync.Once
	done     chan struct{}

	duration      *prometheus.HistogramVec
	samples       *prometheus.CounterVec
	events        *prometheus.CounterVec
	counterErrors *prometheus.CounterVec
}

// NewExporter creates an exporter with its own Prometheus registry.
func NewExporter(logger *zap.Logger, config Config) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Namespace == "" {
		config.Namespace = "measure"
	}

	e := &Exporter{
		logger:   logger,
		config:   config,
		registry: prometheus.NewRegistry(),
		done:     make(chan struct{}),
	}

	e.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Name:      "duration_seconds",
		Help:      "Recorded duration of measured regions",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"label"})

	e.samples = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "samples_total",
		Help:      "Number of samples recorded per label",
	}, []string{"label"})

	e.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "hardware_events_total",
		Help:      "Hardware events counted inside measured regions",
	}, []string{"label", "event"})

	e.counterErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "hardware_counter_failures_total",
		Help:      "Timers whose hardware counters could not be read",
	}, []string{"label"})

	e.registry.MustRegister(e.duration, e.samples, e.events, e.counterErrors)
	return e
}

// Report implements measure.Reporter.
func (e *Exporter) Report(label string, d time.Duration) {
	defer apperrors.SafeRecover(e.logger, "metrics report")

	e.duration.WithLabelValues(label).Observe(d.Seconds())
	e.samples.WithLabelValues(label).Inc()
}

// ObserveResult implements measure.ResultObserver.
func (e *Exporter) ObserveResult(res measure.Result) {
	defer apperrors.SafeRecover(e.logger, "metrics observe")

	if !res.CountersRequested {
		return
	}
	if !res.CountersValid {
		e.counterErrors.WithLabelValues(res.Label).Inc()
		return
	}
	for i, event := range res.Events {
		e.events.WithLabelValues(res.Label, event.String()).Add(float64(res.Counters[i]))
	}
}

// Gatherer exposes the underlying registry.
func (e *Exporter) Gatherer() prometheus.Gatherer {
	return e.registry
}

// WriteTextfile writes all metrics to the configured textfile, if any.
func (e *Exporter) WriteTextfile() error {
	if e.config.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(e.config.Textfile, e.registry); err != nil {
		return ErrTextfile.WithError(err).WithContext("path", e.config.Textfile)
	}
	e.logger.Info("Metrics textfile written", zap.String("path", e.config.Textfile))
	return nil
}

// Start serves /metrics on the configured address until ctx is done or
// Stop is called. It is a no-op without a listen address.
func (e *Exporter) Start(ctx context.Context) error {
	if e.config.ListenAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))

	e.server = &http.Server{
		Addr:              e.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		e.logger.Info("Starting metrics exporter", zap.String("address", e.config.ListenAddr))
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-e.done:
		}
	}()

	return nil
}

// Stop shuts the metrics server down. It is safe to call more than once.
func (e *Exporter) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		if e.server == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.server.Shutdown(ctx); err != nil {
			e.logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	})
}
