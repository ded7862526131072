// Package api exposes the gateway over HTTP: the per-connection webhook
// endpoints platforms deliver to, a management API for connections and
// sends, a health endpoint, and a websocket tap on the event bus.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/omnirelay/omnirelay/pkg/app"
	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/logger"
	"github.com/omnirelay/omnirelay/pkg/registry"
)

const component = "api"

// Server is the HTTP front of the gateway.
type Server struct {
	httpServer *http.Server
	svc        *app.GatewayService
	reg        *registry.Registry
	hub        *WSHub
	startedAt  time.Time
}

// NewServer wires the routes.
func NewServer(addr string, svc *app.GatewayService, reg *registry.Registry, hub *WSHub) *Server {
	s := &Server{
		svc:       svc,
		reg:       reg,
		hub:       hub,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/{platform}/{token}", s.handleWebhook)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /api/ws", hub)

	mux.HandleFunc("GET /api/platforms/{platform}/schema", s.handleSchema)
	mux.HandleFunc("POST /api/platforms/{platform}/validate", s.handleValidate)

	mux.HandleFunc("POST /api/projects/{projectID}/connections", s.handleCreateConnection)
	mux.HandleFunc("GET /api/projects/{projectID}/connections", s.handleListConnections)
	mux.HandleFunc("DELETE /api/projects/{projectID}/connections/{connectionID}", s.handleDeleteConnection)
	mux.HandleFunc("POST /api/projects/{projectID}/connections/{connectionID}/activate", s.handleActivate)
	mux.HandleFunc("POST /api/projects/{projectID}/connections/{connectionID}/deactivate", s.handleDeactivate)
	mux.HandleFunc("POST /api/projects/{projectID}/connections/{connectionID}/credentials", s.handleRotateCredentials)
	mux.HandleFunc("POST /api/projects/{projectID}/connections/{connectionID}/send", s.handleSend)
	mux.HandleFunc("POST /api/projects/{projectID}/connections/{connectionID}/react", s.handleReact)
	mux.HandleFunc("POST /api/projects/{projectID}/connections/{connectionID}/unreact", s.handleUnreact)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	logger.InfoCF(component, "HTTP server listening", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.DebugCF(component, "Request handled", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		logger.ErrorCF(component, "Request failed", map[string]interface{}{
			"status": status,
			"error":  err.Error(),
		})
	}
	writeJSON(w, status, map[string]string{"error": publicMessage(err)})
}

// statusFor maps the typed error taxonomy to HTTP statuses.
func statusFor(err error) int {
	var (
		validation  *domain.ValidationError
		notFound    *domain.NotFoundError
		auth        *domain.AuthError
		unsupported *domain.UnsupportedOperationError
		unknown     *domain.UnsupportedPlatformError
		rateLimited *domain.RateLimitedError
		activation  *domain.ActivationError
		transient   *domain.TransientError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &unsupported), errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &activation):
		return http.StatusBadGateway
	case errors.As(err, &transient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps internal detail out of 5xx bodies.
func publicMessage(err error) string {
	if statusFor(err) >= 500 {
		return "internal error"
	}
	return err.Error()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"uptime":      time.Since(s.startedAt).String(),
		"connections": s.reg.Size(),
		"webhooks":    s.reg.WebhookEntries(),
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.svc.CredentialSchema(r.PathValue("platform"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var credentials map[string]string
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		writeError(w, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	result, err := s.svc.ValidateCredentials(r.PathValue("platform"), credentials)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":    result.IsValid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}
