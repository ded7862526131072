// Package email adapts outbound SMTP delivery to the provider contract.
// Email is send-only here: no inbound handling and no reactions, so callers
// discover the missing capabilities through the accessor functions.
package email

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/logger"
	"github.com/omnirelay/omnirelay/pkg/provider"
)

const (
	component      = "provider.email"
	defaultSubject = "Message from gateway"
)

// Provider is the SMTP platform adapter.
type Provider struct {
	mu        sync.RWMutex
	instances map[connection.Ref]*instance
}

type instance struct {
	ref      connection.Ref
	client   *mail.Client
	from     string
	fromName string
	owner    *Provider
	mu       sync.Mutex
	closed   bool
}

var _ provider.Provider = (*Provider)(nil)

// New creates the email adapter.
func New() *Provider {
	return &Provider{instances: make(map[connection.Ref]*instance)}
}

func (p *Provider) Platform() domain.Platform             { return domain.PlatformEmail }
func (p *Provider) ConnectionType() domain.ConnectionType { return domain.ConnectionPolling }
func (p *Provider) DisplayName() string                   { return "Email (SMTP)" }

// Activate builds an SMTP client from the credentials and proves it can dial
// and authenticate. Auth rejection surfaces as ActivationError wrapping
// AuthError.
func (p *Provider) Activate(ctx context.Context, conn *connection.Connection) (provider.Handle, error) {
	port, err := strconv.Atoi(conn.Credentials["smtpPort"])
	if err != nil {
		return nil, &domain.ActivationError{
			Platform: domain.PlatformEmail,
			Err:      &domain.ValidationError{Field: "smtpPort", Reason: "not an integer"},
		}
	}

	policy := mail.TLSOpportunistic
	if conn.Credentials["secure"] == "true" || port == 465 {
		policy = mail.TLSMandatory
	}

	client, err := mail.NewClient(conn.Credentials["smtpHost"],
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(conn.Credentials["username"]),
		mail.WithPassword(conn.Credentials["password"]),
		mail.WithTLSPortPolicy(policy),
	)
	if err != nil {
		return nil, &domain.ActivationError{Platform: domain.PlatformEmail, Err: err}
	}

	if err := client.DialWithContext(ctx); err != nil {
		return nil, &domain.ActivationError{
			Platform: domain.PlatformEmail,
			Err:      &domain.AuthError{Platform: domain.PlatformEmail, Reason: err.Error()},
		}
	}
	if err := client.Close(); err != nil {
		logger.WarnCF(component, "Verification dial close failed", map[string]interface{}{
			"ref":   conn.Ref().String(),
			"error": err.Error(),
		})
	}

	inst := &instance{
		ref:      conn.Ref(),
		client:   client,
		from:     conn.Credentials["fromAddress"],
		fromName: conn.Credentials["fromName"],
		owner:    p,
	}

	p.mu.Lock()
	p.instances[conn.Ref()] = inst
	p.mu.Unlock()

	logger.InfoCF(component, "SMTP verified", map[string]interface{}{
		"ref":  conn.Ref().String(),
		"host": conn.Credentials["smtpHost"],
	})
	return inst, nil
}

// Deactivate forgets the connection. The client holds no open socket between
// sends, so there is nothing to tear down remotely.
func (i *instance) Deactivate(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	i.owner.mu.Lock()
	delete(i.owner.instances, i.ref)
	i.owner.mu.Unlock()
	return nil
}

// Send delivers the content as a plain-text email to the target address.
// The embed becomes the subject (title) and appended body text.
func (p *Provider) Send(ctx context.Context, ref connection.Ref, targetChatID string, content message.Content) (message.DeliveryReceipt, error) {
	p.mu.RLock()
	inst, ok := p.instances[ref]
	p.mu.RUnlock()
	if !ok {
		return message.DeliveryReceipt{}, &domain.NotFoundError{Resource: "connection", ID: ref.String(), Platform: domain.PlatformEmail}
	}

	msg := mail.NewMsg()
	if inst.fromName != "" {
		if err := msg.FromFormat(inst.fromName, inst.from); err != nil {
			return message.DeliveryReceipt{}, &domain.PermanentError{Platform: domain.PlatformEmail, Reason: "invalid from address: " + err.Error()}
		}
	} else if err := msg.From(inst.from); err != nil {
		return message.DeliveryReceipt{}, &domain.PermanentError{Platform: domain.PlatformEmail, Reason: "invalid from address: " + err.Error()}
	}
	if err := msg.To(targetChatID); err != nil {
		return message.DeliveryReceipt{}, &domain.PermanentError{Platform: domain.PlatformEmail, Reason: "invalid recipient: " + err.Error()}
	}

	subject := defaultSubject
	body := content.Text
	if content.Embed != nil {
		embed := provider.SanitizeEmbed(content.Embed)
		if embed.Title != "" {
			subject = embed.Title
		}
		if fallback := provider.EmbedFallbackText(embed); fallback != "" {
			if body != "" {
				body += "\n\n"
			}
			body += fallback
		}
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	nativeID := uuid.NewString()
	msg.SetMessageIDWithValue(nativeID)

	if err := inst.client.DialAndSendWithContext(ctx, msg); err != nil {
		return message.DeliveryReceipt{}, &domain.TransientError{Platform: domain.PlatformEmail, Err: err}
	}

	return message.DeliveryReceipt{
		NativeMessageID: nativeID,
		ChatID:          targetChatID,
		SentAt:          domain.Now(),
	}, nil
}
