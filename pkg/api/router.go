package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/logger"
	"github.com/omnirelay/omnirelay/pkg/provider"
)

// maxWebhookBody bounds inbound payload size. Platform payloads are small;
// anything near this limit is abuse.
const maxWebhookBody = 1 << 20

// handleWebhook routes one inbound platform delivery. Any HTTP method is
// accepted; platforms disagree on verbs and the token, not the method,
// carries the authority. An unknown platform and an unknown token are both
// 404 with the same body, so the endpoint leaks nothing about which tokens
// exist.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platform, ok := domain.ParsePlatform(r.PathValue("platform"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	reg, ok := s.reg.ResolveToken(platform, r.PathValue("token"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if reg.Capabilities.ConnectionType != domain.ConnectionWebhook {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "platform does not accept webhook deliveries",
		})
		return
	}

	handler, ok := provider.AsInboundHandler(reg.Provider)
	if !ok {
		// A webhook-type provider without an inbound handler is a wiring bug,
		// not a caller mistake.
		logger.ErrorCF(component, "Webhook provider has no inbound handler", map[string]interface{}{
			"platform": string(platform),
			"ref":      reg.Connection.Ref().String(),
		})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	ack, err := handler.HandleInbound(r.Context(), reg.Connection.Ref(), body, r.Header)
	if err != nil {
		writeWebhookError(w, platform, err)
		return
	}
	writeJSON(w, ack.StatusCode(), ack.Body())
}

// writeWebhookError maps handler errors for the remote platform's eyes:
// typed errors keep their protocol status, everything else collapses to an
// opaque 500.
func writeWebhookError(w http.ResponseWriter, platform domain.Platform, err error) {
	var (
		auth       *domain.AuthError
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
	)
	switch {
	case errors.As(err, &auth):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		logger.ErrorCF(component, "Webhook handling failed", map[string]interface{}{
			"platform": string(platform),
			"error":    err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
