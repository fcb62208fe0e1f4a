package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/johnnynv/issuesync/pkg/logger"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Server represents the HTTP API server
type Server struct {
	port    int
	server  *http.Server
	service SyncService
	runtime RuntimeProvider
	logger  *logger.Entry

	mu       sync.RWMutex
	addr     net.Addr
	serveErr error
}

// NewServer creates a new API server. Port 0 binds an ephemeral port.
func NewServer(port int, service SyncService, parentLogger *logger.Entry) *Server {
	return &Server{
		port:    port,
		service: service,
		logger: parentLogger.WithFields(logger.Fields{
			"component": "api",
			"module":    "server",
		}),
	}
}

// SetRuntime sets the runtime provider (called after creation)
func (s *Server) SetRuntime(runtime RuntimeProvider) {
	s.runtime = runtime
}

// Handler returns the fully wired HTTP handler
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Start binds the port and serves in the background. A bind failure is
// returned here; a later serve failure is reported by Health.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}

	s.server = &http.Server{
		Handler:      s.setupRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 6 * time.Minute, // sync runs answer synchronously
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.addr = listener.Addr()
	s.serveErr = nil
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.mu.Lock()
			s.serveErr = err
			s.mu.Unlock()
			s.logger.WithField("operation", "serve").WithError(err).Error("API server stopped serving")
		}
	}()

	s.logger.WithFields(logger.Fields{
		"operation": "start",
		"addr":      listener.Addr().String(),
	}).Info("API server listening")
	return nil
}

// Addr returns the bound address, nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.WithField("operation", "stop").Info("API server stopped")
	return nil
}

// Health fails when no sync service is wired or the serve loop has died
func (s *Server) Health(ctx context.Context) error {
	if s.service == nil {
		return fmt.Errorf("sync service not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.serveErr != nil {
		return fmt.Errorf("api server is not serving: %w", s.serveErr)
	}
	return nil
}

// handleHealth returns overall system health
// @Summary Get system health
// @Description Returns the overall health status of all IssueSync components
// @Tags Health
// @Produce json
// @Success 200 {object} JSONResponse{data=object} "Healthy"
// @Success 503 {object} JSONResponse{data=object} "Unhealthy"
// @Router /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		NewJSONResponse(map[string]interface{}{
			"status": "healthy",
			"components": map[string]string{
				"api": "healthy",
			},
		}).Write(w)
		return
	}

	health := s.runtime.Health(r.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	NewJSONResponse(health).WriteWithStatus(w, status)
}

// handleLiveness returns liveness probe status
// @Summary Liveness probe
// @Tags Health
// @Produce json
// @Success 200 {object} JSONResponse{data=object} "Alive"
// @Router /health/live [get]
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse(map[string]string{"status": "alive"}).Write(w)
}

// handleReadiness reports ready unless a required component is down. A
// degraded runtime (notifier failing) still serves traffic.
// @Summary Readiness probe
// @Tags Health
// @Produce json
// @Success 200 {object} JSONResponse{data=object} "Ready"
// @Success 503 {object} JSONResponse{data=object} "Not ready"
// @Router /health/ready [get]
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.runtime != nil && !s.runtime.Health(r.Context()).Healthy {
		NewJSONResponse(map[string]string{"status": "not_ready"}).WriteWithStatus(w, http.StatusServiceUnavailable)
		return
	}
	NewJSONResponse(map[string]string{"status": "ready"}).Write(w)
}

// handleStatus returns system status and uptime
// @Summary Get system status
// @Tags System
// @Produce json
// @Success 200 {object} JSONResponse{data=object} "System status"
// @Router /status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.runtime != nil {
		if status := s.runtime.GetStatus(); status != nil {
			NewJSONResponse(*status).Write(w)
			return
		}
	}
	NewJSONResponse(map[string]interface{}{
		"status":  "running",
		"message": "Runtime information not available",
	}).Write(w)
}

// handleVersion returns API and application version information
// @Summary Get version information
// @Tags System
// @Produce json
// @Success 200 {object} JSONResponse{data=VersionInfo} "Version information"
// @Router /api/v1/version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse(GetVersion()).Write(w)
}

// decodeBody reads a JSON body into dst. An empty body leaves dst as is
// when allowEmpty is set.
func decodeBody(r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
