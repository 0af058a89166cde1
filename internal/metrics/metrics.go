// Package metrics exposes streaming session metrics for Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "singstream"

// Metrics holds the collectors for one registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted  prometheus.Counter
	teardowns        *prometheus.CounterVec
	failures         *prometheus.CounterVec
	bytesIngested    prometheus.Counter
	firstByteLatency prometheus.Histogram
	bufferOccupancy  prometheus.Gauge
	framesEmitted    *prometheus.CounterVec
	resyncDrops      prometheus.Counter
	sinkUnderruns    prometheus.Counter
}

// New creates the collectors and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}

	m.sessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_started_total",
		Help:      "Total number of playback sessions started",
	})
	m.teardowns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_teardowns_total",
		Help:      "Worker teardown outcomes",
	}, []string{"worker", "outcome"}) // outcome: joined, detached
	m.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_failures_total",
		Help:      "Sessions ended by a failure, by kind",
	}, []string{"kind"})
	m.bytesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_bytes_total",
		Help:      "Bytes received from the stream source",
	})
	m.firstByteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "first_byte_seconds",
		Help:      "Time from request to first received byte",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 9), // 50ms to ~12.8s
	})
	m.bufferOccupancy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_occupancy_bytes",
		Help:      "Bytes waiting in the chunk buffer",
	})
	m.framesEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_emitted_total",
		Help:      "PCM frames handed to the audio sink",
	}, []string{"format"})
	m.resyncDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mp3_resync_drops_total",
		Help:      "Decode windows discarded because no sync word was found",
	})
	m.sinkUnderruns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_underruns_total",
		Help:      "Output callbacks filled with silence for lack of frames",
	})

	collectors := []prometheus.Collector{
		m.sessionsStarted, m.teardowns, m.failures, m.bytesIngested, m.firstByteLatency,
		m.bufferOccupancy, m.framesEmitted, m.resyncDrops, m.sinkUnderruns,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Metrics) Teardown(worker, outcome string) {
	if m == nil {
		return
	}
	m.teardowns.WithLabelValues(worker, outcome).Inc()
}

func (m *Metrics) Failure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddIngested(n int) {
	if m == nil {
		return
	}
	m.bytesIngested.Add(float64(n))
}

func (m *Metrics) ObserveFirstByte(d time.Duration) {
	if m == nil {
		return
	}
	m.firstByteLatency.Observe(d.Seconds())
}

func (m *Metrics) SetOccupancy(n int) {
	if m == nil {
		return
	}
	m.bufferOccupancy.Set(float64(n))
}

func (m *Metrics) FrameEmitted(format string) {
	if m == nil {
		return
	}
	m.framesEmitted.WithLabelValues(format).Inc()
}

func (m *Metrics) ResyncDrop() {
	if m == nil {
		return
	}
	m.resyncDrops.Inc()
}

func (m *Metrics) Underrun() {
	if m == nil {
		return
	}
	m.sinkUnderruns.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers mounts /metrics on mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}

// Serve runs a metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	m.RegisterHandlers(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Debug().Err(err).Msg("Metrics server shutdown")
		}
	}()

	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
