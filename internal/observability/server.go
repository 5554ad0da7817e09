// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability serves Prometheus metrics and health probes for a
// running agent host.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	plugins "github.com/holomush/agenthost/internal/plugin"
)

// ReadinessChecker reports why the host cannot serve yet, or nil when it
// can.
type ReadinessChecker func() error

// StatusSource returns the current load-status snapshot of every artifact.
type StatusSource func() map[string]plugins.LoadStatus

// Metrics contains host-level Prometheus metrics.
type Metrics struct {
	// Agents is the number of agents currently bound to an identity.
	Agents prometheus.Gauge
	// Artifacts counts artifacts by their latest load outcome.
	Artifacts *prometheus.GaugeVec
	// LastLoad is the unix time of the latest recorded load attempt.
	LastLoad prometheus.Gauge
	// BuildInfo is always 1, labelled with the host version.
	BuildInfo *prometheus.GaugeVec
}

// NewMetrics creates and registers host metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Agents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agenthost_agents",
			Help: "Number of agents currently loaded",
		}),
		Artifacts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agenthost_artifacts",
				Help: "Number of agent artifacts by latest load outcome",
			},
			[]string{"outcome"},
		),
		LastLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agenthost_last_load_timestamp_seconds",
			Help: "Unix time of the latest recorded load attempt",
		}),
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agenthost_build_info",
				Help: "Build information of the running host",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(m.Agents, m.Artifacts, m.LastLoad, m.BuildInfo)
	return m
}

// RecordLoadStatus sets the artifact gauges from a load-status snapshot.
// Outcomes absent from the snapshot are reset to zero.
func (m *Metrics) RecordLoadStatus(entries map[string]plugins.LoadStatus) {
	counts := map[plugins.LoadOutcome]int{
		plugins.Success:              0,
		plugins.DuplicateDeclaration: 0,
		plugins.AlreadyLoaded:        0,
		plugins.Error:                0,
		plugins.Unloaded:             0,
	}
	var latest time.Time
	for _, st := range entries {
		counts[st.Outcome]++
		if st.At.After(latest) {
			latest = st.At
		}
	}
	for outcome, n := range counts {
		m.Artifacts.WithLabelValues(outcome.String()).Set(float64(n))
	}
	if !latest.IsZero() {
		m.LastLoad.Set(float64(latest.Unix()))
	}
}

// Option configures a Server.
type Option func(*Server)

// WithReadiness sets the readiness probe. Without one the host is always
// ready.
func WithReadiness(check ReadinessChecker) Option {
	return func(s *Server) { s.isReady = check }
}

// WithStatusSource enables /healthz/agents, which fails while any
// artifact's latest load ended in an error.
func WithStatusSource(source StatusSource) Option {
	return func(s *Server) { s.status = source }
}

// WithCollectors registers further collectors, such as the engine
// metrics, on the server's registry.
func WithCollectors(register ...func(prometheus.Registerer)) Option {
	return func(s *Server) {
		for _, fn := range register {
			fn(s.registry)
		}
	}
}

// Server provides HTTP endpoints for metrics and health probes.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	status     StatusSource
	running    atomic.Bool
}

// NewServer creates an observability server listening on addr
// ("127.0.0.1:9100", ":9100" for all interfaces).
func NewServer(addr string, opts ...Option) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the host metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /healthz/liveness", s.handleLiveness)
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)
	mux.HandleFunc("GET /healthz/agents", s.handleAgents)
	return mux
}

// Start begins serving. The returned channel receives a serve error, if
// any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.In("observability").With("operation", "shutdown").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.isReady != nil {
		if err := s.isReady(); err != nil {
			writeText(w, http.StatusServiceUnavailable, "not ready: "+err.Error())
			return
		}
	}
	writeText(w, http.StatusOK, "ok")
}

// agentsReport is the body of /healthz/agents.
type agentsReport struct {
	Healthy bool              `json:"healthy"`
	Failed  map[string]string `json:"failed,omitempty"`
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeText(w, http.StatusNotFound, "agent status unavailable")
		return
	}

	entries := s.status()
	report := agentsReport{Healthy: true}
	for name, st := range entries {
		if st.Outcome == plugins.Error {
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[name] = st.Reason
			report.Healthy = false
		}
	}

	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.Debug("failed to write agent health", "error", err)
	}
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte(body + "\n"))
}
