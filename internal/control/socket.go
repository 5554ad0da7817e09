// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package control serves a running host over HTTP on a Unix socket so the
// CLI can query load status, invoke operations, reload agents and stop
// the host.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/internal/xdg"
)

// SocketName is the socket file inside the runtime directory.
const SocketName = "agenthost.sock"

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is returned by the /status endpoint.
type StatusResponse struct {
	Running       bool  `json:"running"`
	PID           int   `json:"pid"`
	UptimeSeconds int64 `json:"uptime_seconds"`
	Agents        int   `json:"agents"`
}

// AgentStatus is the load outcome of one agent artifact.
type AgentStatus struct {
	Artifact string    `json:"artifact"`
	Source   string    `json:"source"`
	Type     string    `json:"type"`
	Outcome  string    `json:"outcome"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// InvokeRequest is the body of an operation call.
type InvokeRequest struct {
	Args []any `json:"args,omitempty"`
}

// InvokeResponse carries an operation result.
type InvokeResponse struct {
	Result any `json:"result"`
}

// ReloadResponse is returned after an agent reload.
type ReloadResponse struct {
	Agent    string `json:"agent"`
	Instance string `json:"instance"`
}

// ShutdownResponse is returned by the /shutdown endpoint.
type ShutdownResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned by failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ShutdownFunc is called when shutdown is requested.
type ShutdownFunc func()

// Host is the part of plugins.Manager served over the socket.
type Host interface {
	Agents() []string
	QueryLoadStatus(source string) map[string]plugins.LoadStatus
	Execute(ctx context.Context, id, operation string, args []any) (any, error)
	ReloadFromDisk(ctx context.Context, id string) (*plugins.Instance, error)
}

// Server runs HTTP over a Unix socket for host management.
type Server struct {
	host         Host
	socketPath   string
	startTime    time.Time
	listener     net.Listener
	httpServer   *http.Server
	shutdownFunc ShutdownFunc
	running      atomic.Bool
}

// NewServer creates a control socket server for host at socketPath.
func NewServer(socketPath string, host Host, shutdownFunc ShutdownFunc) *Server {
	s := &Server{
		host:         host,
		socketPath:   socketPath,
		startTime:    time.Now(),
		shutdownFunc: shutdownFunc,
	}
	s.running.Store(true)
	return s
}

// DefaultSocketPath returns the socket path inside the runtime directory.
func DefaultSocketPath() (string, error) {
	runtimeDir, err := xdg.RuntimeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get runtime directory: %w", err)
	}
	return filepath.Join(runtimeDir, SocketName), nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Start begins listening on the Unix socket.
func (s *Server) Start() error {
	if s.listener != nil {
		return fmt.Errorf("server is already running")
	}
	if s.socketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}

	if err := xdg.EnsureDir(filepath.Dir(s.socketPath)); err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}

	// A stale socket from a crashed host blocks Listen.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control socket server error", "error", err)
		}
	}()

	return nil
}

// Handler returns the control API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /agents", s.handleAgents)
	mux.HandleFunc("POST /agents/{id}/reload", s.handleReload)
	mux.HandleFunc("POST /agents/{id}/operations/{operation}", s.handleInvoke)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

// Stop gracefully shuts down the control socket server.
func (s *Server) Stop(ctx context.Context) error {
	s.running.Store(false)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown http server: %w", err)
		}
	}

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Warn("failed to close control socket listener", "error", err)
		}
	}

	if s.listener != nil && s.socketPath != "" {
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove control socket file",
				"path", s.socketPath,
				"error", err,
			)
		}
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, StatusResponse{
		Running:       s.running.Load(),
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Agents:        len(s.host.Agents()),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, CollectStatus(s.host.QueryLoadStatus(r.URL.Query().Get("source"))))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inst, err := s.host.ReloadFromDisk(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, ReloadResponse{Agent: id, Instance: inst.ID()})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respond(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
			return
		}
	}

	result, err := s.host.Execute(r.Context(), r.PathValue("id"), r.PathValue("operation"), req.Args)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, InvokeResponse{Result: result})
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, ShutdownResponse{Message: "shutdown initiated"})

	if s.shutdownFunc != nil {
		go s.shutdownFunc()
	}
}

// fail maps engine error codes to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	code := plugins.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case plugins.CodeAgentNotFound, plugins.CodeOperationNotFound:
		status = http.StatusNotFound
	case plugins.CodeHotReloadDisabled:
		status = http.StatusConflict
	case plugins.CodeCapabilityDenied:
		status = http.StatusForbidden
	case plugins.CodeCancelled:
		status = http.StatusGatewayTimeout
	}
	s.respond(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func (s *Server) respond(w http.ResponseWriter, statusCode int, v any) {
	if err := writeJSON(w, statusCode, v); err != nil {
		slog.Error("failed to write control response", "error", err)
	}
}

// CollectStatus converts a load status snapshot, sorted by artifact.
func CollectStatus(entries map[string]plugins.LoadStatus) []AgentStatus {
	out := make([]AgentStatus, 0, len(entries))
	for _, name := range slices.Sorted(maps.Keys(entries)) {
		st := entries[name]
		out = append(out, AgentStatus{
			Artifact: st.Artifact,
			Source:   st.Source,
			Type:     st.TypeName,
			Outcome:  st.Outcome.String(),
			Reason:   st.Reason,
			At:       st.At,
		})
	}
	return out
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}
	return nil
}
