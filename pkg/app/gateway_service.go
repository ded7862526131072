// Package app orchestrates the gateway use cases: connection lifecycle,
// outbound sends, and reactions. It owns no transport and no platform
// specifics; those live behind the registry, queue, and provider ports.
package app

import (
	"context"
	"strings"

	"github.com/omnirelay/omnirelay/pkg/creds"
	"github.com/omnirelay/omnirelay/pkg/dispatch"
	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/logger"
	"github.com/omnirelay/omnirelay/pkg/registry"
	"github.com/omnirelay/omnirelay/pkg/resolve"
)

const component = "app.gateway"

// GatewayService wires the connection repository, credential validators,
// registry, dispatch queue, and message resolver into the gateway use cases.
type GatewayService struct {
	conns    connection.Repository
	received message.ReceivedRepository
	creds    *creds.Service
	reg      *registry.Registry
	queue    *dispatch.Queue
	resolver *resolve.Resolver
}

// NewGatewayService creates the service.
func NewGatewayService(
	conns connection.Repository,
	received message.ReceivedRepository,
	credService *creds.Service,
	reg *registry.Registry,
	queue *dispatch.Queue,
	resolver *resolve.Resolver,
) *GatewayService {
	return &GatewayService{
		conns:    conns,
		received: received,
		creds:    credService,
		reg:      reg,
		queue:    queue,
		resolver: resolver,
	}
}

// CreateConnectionResult carries the stored connection plus any credential
// warnings; warnings never block creation.
type CreateConnectionResult struct {
	Connection *connection.Connection
	Warnings   []string
}

// CreateConnection validates credentials, constructs the connection, and
// persists it inactive. Webhook-connected platforms get their inbound token
// minted here so the caller can surface the URL immediately.
func (s *GatewayService) CreateConnection(ctx context.Context, projectID domain.EntityID, platform, name string, credentials map[string]string) (*CreateConnectionResult, error) {
	result, err := s.creds.Validate(platform, credentials)
	if err != nil {
		return nil, err
	}
	if !result.IsValid() {
		return nil, &domain.ValidationError{Field: "credentials", Reason: strings.Join(result.Errors, "; ")}
	}

	parsed, _ := domain.ParsePlatform(platform)
	conn, err := connection.New(projectID, parsed, name, credentials)
	if err != nil {
		return nil, err
	}

	if p, ok := s.reg.ProviderFor(parsed); ok && p.ConnectionType() == domain.ConnectionWebhook {
		conn.AssignWebhookToken()
	}

	if err := s.conns.Save(ctx, conn); err != nil {
		return nil, err
	}

	logger.InfoCF(component, "Connection created", map[string]interface{}{
		"platform": platform,
		"ref":      conn.Ref().String(),
		"warnings": len(result.Warnings),
	})
	return &CreateConnectionResult{Connection: conn, Warnings: result.Warnings}, nil
}

// GetConnection loads one connection.
func (s *GatewayService) GetConnection(ctx context.Context, ref connection.Ref) (*connection.Connection, error) {
	return s.conns.FindByRef(ctx, ref)
}

// ListConnections returns a project's connections.
func (s *GatewayService) ListConnections(ctx context.Context, projectID domain.EntityID) ([]*connection.Connection, error) {
	return s.conns.FindByProject(ctx, projectID)
}

// ActivateConnection registers the connection with its provider and marks it
// active. A failed activation leaves the stored connection untouched.
func (s *GatewayService) ActivateConnection(ctx context.Context, ref connection.Ref) (*connection.Connection, error) {
	conn, err := s.conns.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if _, registered := s.reg.Resolve(ref); registered {
		return conn, nil
	}
	if err := s.reg.Register(ctx, conn); err != nil {
		return nil, err
	}
	conn.SetActive(true)
	if err := s.conns.Save(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// DeactivateConnection unregisters the connection and marks it inactive.
func (s *GatewayService) DeactivateConnection(ctx context.Context, ref connection.Ref) (*connection.Connection, error) {
	conn, err := s.conns.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.reg.Unregister(ctx, ref); err != nil {
		logger.WarnCF(component, "Provider deactivation failed", map[string]interface{}{
			"ref":   ref.String(),
			"error": err.Error(),
		})
	}
	conn.SetActive(false)
	if err := s.conns.Save(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// RotateCredentials re-validates and swaps the secret map. An active
// connection is re-registered so the provider picks up the new credentials.
func (s *GatewayService) RotateCredentials(ctx context.Context, ref connection.Ref, credentials map[string]string) (*connection.Connection, error) {
	conn, err := s.conns.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}

	result, err := s.creds.Validate(string(conn.Platform), credentials)
	if err != nil {
		return nil, err
	}
	if !result.IsValid() {
		return nil, &domain.ValidationError{Field: "credentials", Reason: strings.Join(result.Errors, "; ")}
	}

	conn.RotateCredentials(credentials)

	if _, registered := s.reg.Resolve(ref); registered {
		if err := s.reg.Unregister(ctx, ref); err != nil {
			logger.WarnCF(component, "Deactivation during rotation failed", map[string]interface{}{
				"ref":   ref.String(),
				"error": err.Error(),
			})
		}
		if err := s.reg.Register(ctx, conn); err != nil {
			return nil, err
		}
	}

	if err := s.conns.Save(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// DeleteConnection unregisters and removes the connection.
func (s *GatewayService) DeleteConnection(ctx context.Context, ref connection.Ref) error {
	if err := s.reg.Unregister(ctx, ref); err != nil {
		logger.WarnCF(component, "Provider deactivation failed", map[string]interface{}{
			"ref":   ref.String(),
			"error": err.Error(),
		})
	}
	return s.conns.Delete(ctx, ref.ConnectionID)
}

// Send enqueues an outbound message for an active connection.
func (s *GatewayService) Send(ctx context.Context, ref connection.Ref, targetChatID string, content message.Content) error {
	if targetChatID == "" {
		return &domain.ValidationError{Field: "targetChatId", Reason: "required"}
	}
	if content.Text == "" && content.Embed == nil {
		return &domain.ValidationError{Field: "content", Reason: "text or embed required"}
	}
	if _, registered := s.reg.Resolve(ref); !registered {
		return &domain.NotFoundError{Resource: "active connection", ID: ref.String()}
	}
	return s.queue.Enqueue(dispatch.Task{
		Kind:         dispatch.KindSend,
		Ref:          ref,
		TargetChatID: targetChatID,
		Content:      content,
	})
}

// React adds an emoji reaction to a known message. The message must resolve
// first; only then is the platform's reaction capability checked, so an
// unknown message on a reaction-less platform still reports NotFound.
func (s *GatewayService) React(ctx context.Context, ref connection.Ref, providerMessageID, emoji string) error {
	return s.reaction(ctx, ref, providerMessageID, emoji, dispatch.KindReact)
}

// Unreact removes the gateway's reaction from a known message.
func (s *GatewayService) Unreact(ctx context.Context, ref connection.Ref, providerMessageID, emoji string) error {
	return s.reaction(ctx, ref, providerMessageID, emoji, dispatch.KindUnreact)
}

func (s *GatewayService) reaction(ctx context.Context, ref connection.Ref, providerMessageID, emoji string, kind dispatch.Kind) error {
	if providerMessageID == "" {
		return &domain.ValidationError{Field: "messageId", Reason: "required"}
	}
	if kind == dispatch.KindReact && emoji == "" {
		return &domain.ValidationError{Field: "emoji", Reason: "required"}
	}

	reg, registered := s.reg.Resolve(ref)
	if !registered {
		return &domain.NotFoundError{Resource: "active connection", ID: ref.String()}
	}

	target, err := s.resolver.ResolveTarget(ctx, ref.ProjectID, ref.ConnectionID, reg.Connection.Platform, providerMessageID)
	if err != nil {
		return err
	}

	if !reg.Capabilities.SupportsReactions {
		return &domain.UnsupportedOperationError{Platform: reg.Connection.Platform, Operation: "reactions"}
	}

	return s.queue.Enqueue(dispatch.Task{
		Kind:            kind,
		Ref:             ref,
		TargetChatID:    target.ChatID,
		Emoji:           emoji,
		NativeMessageID: providerMessageID,
		FromMe:          target.FromMe,
	})
}

// ValidateCredentials exposes dry-run credential validation.
func (s *GatewayService) ValidateCredentials(platform string, credentials map[string]string) (creds.Result, error) {
	return s.creds.Validate(platform, credentials)
}

// CredentialSchema exposes a platform's credential field schema.
func (s *GatewayService) CredentialSchema(platform string) (creds.Schema, error) {
	return s.creds.Schema(platform)
}

// ReactivateAll re-registers every stored active connection. Called once at
// boot. Failures are logged and skipped; one bad credential must not hold the
// gateway down.
func (s *GatewayService) ReactivateAll(ctx context.Context) {
	active, err := s.conns.FindActive(ctx)
	if err != nil {
		logger.ErrorCF(component, "Loading active connections failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	for _, conn := range active {
		if err := s.reg.Register(ctx, conn); err != nil {
			logger.WarnCF(component, "Reactivation failed", map[string]interface{}{
				"ref":      conn.Ref().String(),
				"platform": string(conn.Platform),
				"error":    err.Error(),
			})
		}
	}
	logger.InfoCF(component, "Reactivation pass finished", map[string]interface{}{
		"stored": len(active),
		"live":   s.reg.Size(),
	})
}

// RecordInbound persists one envelope as a received-message record. It is
// subscribed to the event bus; duplicate provider IDs are ignored by the
// repository's uniqueness rule.
func (s *GatewayService) RecordInbound(env message.Envelope) {
	if env.NativeMessageID == "" {
		return
	}
	record := &message.ReceivedMessage{
		ID:                domain.NewID(),
		ProjectID:         env.ConnectionRef.ProjectID,
		ConnectionID:      env.ConnectionRef.ConnectionID,
		Platform:          env.Channel,
		ProviderMessageID: env.NativeMessageID,
		ProviderChatID:    env.ChatID,
		SenderID:          env.SenderID,
		Text:              env.Text,
		ReceivedAt:        env.ReceivedAt,
	}
	if err := s.received.Save(context.Background(), record); err != nil {
		logger.ErrorCF(component, "Recording inbound message failed", map[string]interface{}{
			"ref":   env.ConnectionRef.String(),
			"error": err.Error(),
		})
	}
}

// NewSendRecorder returns a dispatch result hook that persists successful
// sends, making them resolvable for later reactions.
func NewSendRecorder(sent message.SentRepository, reg *registry.Registry) func(dispatch.Result) {
	return func(res dispatch.Result) {
		if res.Err != nil || res.Task.Kind != dispatch.KindSend || res.Receipt.NativeMessageID == "" {
			return
		}
		platform := domain.Platform("")
		if r, ok := reg.Resolve(res.Task.Ref); ok {
			platform = r.Connection.Platform
		}
		record := &message.SentMessage{
			ID:                domain.NewID(),
			ProjectID:         res.Task.Ref.ProjectID,
			ConnectionID:      res.Task.Ref.ConnectionID,
			Platform:          platform,
			ProviderMessageID: res.Receipt.NativeMessageID,
			TargetChatID:      res.Receipt.ChatID,
			Text:              res.Task.Content.Text,
			SentAt:            res.Receipt.SentAt,
		}
		if err := sent.Save(context.Background(), record); err != nil {
			logger.ErrorCF(component, "Recording sent message failed", map[string]interface{}{
				"ref":   res.Task.Ref.String(),
				"error": err.Error(),
			})
		}
	}
}
