// Package telemetry holds the process-wide prometheus collectors and the
// /metrics endpoint.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"urltable/internal/logging"
)

const namespace = "urltable"

// Outcome label values for Exchanges.
const (
	OutcomeOK         = "ok"
	OutcomeConnection = "connection_error"
	OutcomeTransport  = "transport_error"
	OutcomeCodec      = "codec_error"
	OutcomeAborted    = "aborted"
)

// Direction label values.
const (
	In  = "in"
	Out = "out"
)

var (
	Exchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "exchanges_total",
		Help:      "HTTP exchanges by method and outcome.",
	}, []string{"method", "outcome"})

	Bytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_total",
		Help:      "Body bytes moved, before compression.",
	}, []string{"direction"})

	Batches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_total",
		Help:      "Record batches decoded (in) or encoded (out).",
	}, []string{"direction"})

	Rows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_total",
		Help:      "Rows decoded (in) or encoded (out).",
	}, []string{"direction"})

	SinkPushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_pushes_total",
		Help:      "Batches pushed to pipeline sinks by sink kind and result.",
	}, []string{"sink", "result"})
)

func init() {
	prometheus.MustRegister(Exchanges, Bytes, Batches, Rows, SinkPushes)
}

// ObserveBatch counts one batch of n rows in the given direction.
func ObserveBatch(direction string, n int64) {
	Batches.WithLabelValues(direction).Inc()
	Rows.WithLabelValues(direction).Add(float64(n))
}

// Server serves /metrics until Shutdown.
type Server struct {
	srv *http.Server
}

// Expose starts serving /metrics on port in the background.
func Expose(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{srv: &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics server stopped", "addr", s.srv.Addr, "err", err)
		}
	}()
	return s
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
