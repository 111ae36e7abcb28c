// Package telemetry exposes the collector's own health as Prometheus
// metrics on a private registry.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/golangsnmp/snmpcollect/internal/output"
	"github.com/golangsnmp/snmpcollect/internal/poller"
	"github.com/golangsnmp/snmpcollect/internal/snmp"
	"github.com/golangsnmp/snmpcollect/internal/types"
)

const namespace = "snmpcollect"

// Poll results used as the result label.
const (
	ResultOK       = "ok"
	ResultTimeout  = "timeout"
	ResultDeadline = "deadline"
	ResultAuth     = "auth"
	ResultError    = "error"
)

// Metrics holds the collector's instruments.
type Metrics struct {
	reg *prometheus.Registry

	polls         *prometheus.CounterVec
	pollDuration  *prometheus.HistogramVec
	pollsSkipped  *prometheus.CounterVec
	snmpRequests  *prometheus.CounterVec
	snmpTimeouts  *prometheus.CounterVec
	snmpDiscarded *prometheus.CounterVec
	usmResyncs    *prometheus.CounterVec
}

// New creates the instruments and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poll cycles by device and outcome.",
		}, []string{"device", "result"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Poll cycle latencies in seconds.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		}, []string{"device"}),
		pollsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_skipped_total",
			Help:      "Ticks skipped because the previous poll was still running.",
		}, []string{"device"}),
		snmpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snmp_requests_total",
			Help:      "SNMP datagrams sent, retransmissions included.",
		}, []string{"device"}),
		snmpTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snmp_timeouts_total",
			Help:      "SNMP request attempts that saw no matching reply.",
		}, []string{"device"}),
		snmpDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snmp_discarded_total",
			Help:      "SNMP datagrams discarded as malformed or unmatched.",
		}, []string{"device"}),
		usmResyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usm_resyncs_total",
			Help:      "SNMPv3 time window resynchronisations.",
		}, []string{"device"}),
	}
	m.reg.MustRegister(
		m.polls, m.pollDuration, m.pollsSkipped,
		m.snmpRequests, m.snmpTimeouts, m.snmpDiscarded, m.usmResyncs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Classify maps a poll error to a result label.
func Classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, poller.ErrDeadline):
		return ResultDeadline
	case errors.Is(err, snmp.ErrTimeout):
		return ResultTimeout
	case errors.Is(err, snmp.ErrAuthFailure),
		errors.Is(err, snmp.ErrDecrypt),
		errors.Is(err, snmp.ErrUnknownUser),
		errors.Is(err, snmp.ErrUnknownEngineID),
		errors.Is(err, snmp.ErrUnsupportedSecLevel),
		errors.Is(err, snmp.ErrNotInTimeWindow),
		errors.Is(err, snmp.ErrDiscovery):
		return ResultAuth
	}
	return ResultError
}

// ObservePoll records one poll cycle.
func (m *Metrics) ObservePoll(device string, elapsed time.Duration, err error) {
	m.polls.WithLabelValues(device, Classify(err)).Inc()
	m.pollDuration.WithLabelValues(device).Observe(elapsed.Seconds())
}

// Skipped records a skipped tick.
func (m *Metrics) Skipped(device string) {
	m.pollsSkipped.WithLabelValues(device).Inc()
}

// ObserveClient adds the growth of a device's transport counters between
// two snapshots.
func (m *Metrics) ObserveClient(device string, before, after snmp.Stats) {
	m.snmpRequests.WithLabelValues(device).Add(float64(after.Requests - before.Requests))
	m.snmpTimeouts.WithLabelValues(device).Add(float64(after.Timeouts - before.Timeouts))
	m.snmpDiscarded.WithLabelValues(device).Add(float64(after.Discarded - before.Discarded))
	m.usmResyncs.WithLabelValues(device).Add(float64(after.Resyncs - before.Resyncs))
}

// PipelineStats is satisfied by *output.Pipeline.
type PipelineStats interface {
	Stats() output.Stats
}

// RegisterPipeline exports the output pipeline's counters.
func (m *Metrics) RegisterPipeline(p PipelineStats) {
	counter := func(name, help string, get func(output.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(p.Stats())) })
	}
	m.reg.MustRegister(
		counter("samples_published_total", "Samples handed to the output pipeline.",
			func(s output.Stats) uint64 { return s.Published }),
		counter("samples_sent_total", "Samples written to the output server.",
			func(s output.Stats) uint64 { return s.Sent }),
		counter("samples_dropped_total", "Samples dropped because the output buffer was full.",
			func(s output.Stats) uint64 { return s.Dropped }),
		counter("sink_reconnects_total", "Reconnections to the output server.",
			func(s output.Stats) uint64 { return s.Reconnects }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_samples",
			Help:      "Samples waiting in the output buffer.",
		}, func() float64 { return float64(p.Stats().Buffered) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	log := types.Component(logger, "telemetry")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("serving metrics", slog.String("address", ln.Addr().String()))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
