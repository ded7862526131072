package api

import (
	"encoding/json"
	"net/http"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
)

func refFrom(r *http.Request) connection.Ref {
	return connection.Ref{
		ProjectID:    domain.EntityID(r.PathValue("projectID")),
		ConnectionID: domain.EntityID(r.PathValue("connectionID")),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return false
	}
	return true
}

type createConnectionRequest struct {
	Platform    string            `json:"platform"`
	Name        string            `json:"name"`
	Credentials map[string]string `json:"credentials"`
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.svc.CreateConnection(r.Context(),
		domain.EntityID(r.PathValue("projectID")), req.Platform, req.Name, req.Credentials)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"connection": result.Connection,
		"warnings":   result.Warnings,
	})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.svc.ListConnections(r.Context(), domain.EntityID(r.PathValue("projectID")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": conns})
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteConnection(r.Context(), refFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	conn, err := s.svc.ActivateConnection(r.Context(), refFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	conn, err := s.svc.DeactivateConnection(r.Context(), refFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleRotateCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credentials map[string]string `json:"credentials"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	conn, err := s.svc.RotateCredentials(r.Context(), refFrom(r), req.Credentials)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

type sendRequest struct {
	TargetChatID string         `json:"target_chat_id"`
	Text         string         `json:"text"`
	Embed        *message.Embed `json:"embed,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.svc.Send(r.Context(), refFrom(r), req.TargetChatID, message.Content{
		Text:  req.Text,
		Embed: req.Embed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type reactRequest struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

func (s *Server) handleReact(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.svc.React(r.Context(), refFrom(r), req.MessageID, req.Emoji); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleUnreact(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.svc.Unreact(r.Context(), refFrom(r), req.MessageID, req.Emoji); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
