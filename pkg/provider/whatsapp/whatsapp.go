// Package whatsapp adapts WhatsApp via an Evolution API server to the
// provider contract. The gateway talks REST to the Evolution instance and
// receives its events on the webhook endpoint, authenticated by API key.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/omnirelay/omnirelay/pkg/bus"
	"github.com/omnirelay/omnirelay/pkg/dedup"
	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/logger"
	"github.com/omnirelay/omnirelay/pkg/provider"
)

const component = "provider.whatsapp"

// Provider is the WhatsApp platform adapter, backed by Evolution API.
type Provider struct {
	bus    *bus.Bus
	filter dedup.Filter

	mu        sync.RWMutex
	instances map[connection.Ref]*instance
}

type instance struct {
	ref          connection.Ref
	client       *resty.Client
	apiKey       string
	instanceName string
	owner        *Provider
	mu           sync.Mutex
	closed       bool
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.InboundHandler = (*Provider)(nil)
	_ provider.Reactable      = (*Provider)(nil)
)

// New creates the WhatsApp adapter.
func New(b *bus.Bus, filter dedup.Filter) *Provider {
	return &Provider{
		bus:       b,
		filter:    filter,
		instances: make(map[connection.Ref]*instance),
	}
}

func (p *Provider) Platform() domain.Platform             { return domain.PlatformWhatsApp }
func (p *Provider) ConnectionType() domain.ConnectionType { return domain.ConnectionWebhook }
func (p *Provider) DisplayName() string                   { return "WhatsApp (Evolution API)" }

type connectionState struct {
	Instance struct {
		State string `json:"state"`
	} `json:"instance"`
}

// Activate verifies the API key and instance against the Evolution server's
// connection-state endpoint.
func (p *Provider) Activate(ctx context.Context, conn *connection.Connection) (provider.Handle, error) {
	inst := &instance{
		ref: conn.Ref(),
		client: resty.New().
			SetBaseURL(conn.Credentials["serverUrl"]).
			SetHeader("apikey", conn.Credentials["apiKey"]),
		apiKey:       conn.Credentials["apiKey"],
		instanceName: conn.Credentials["instanceName"],
		owner:        p,
	}

	var state connectionState
	resp, err := inst.client.R().
		SetContext(ctx).
		SetResult(&state).
		Get("/instance/connectionState/" + inst.instanceName)
	if err != nil {
		return nil, &domain.ActivationError{
			Platform: domain.PlatformWhatsApp,
			Err:      &domain.TransientError{Platform: domain.PlatformWhatsApp, Err: err},
		}
	}
	if err := classifyStatus(resp.StatusCode(), resp.String()); err != nil {
		return nil, &domain.ActivationError{Platform: domain.PlatformWhatsApp, Err: err}
	}

	p.mu.Lock()
	p.instances[conn.Ref()] = inst
	p.mu.Unlock()

	logger.InfoCF(component, "Instance verified", map[string]interface{}{
		"ref":      conn.Ref().String(),
		"instance": inst.instanceName,
		"state":    state.Instance.State,
	})
	return inst, nil
}

// Deactivate forgets the connection. The Evolution instance keeps running;
// only the gateway's routing entry goes away.
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

func (p *Provider) instance(ref connection.Ref) (*instance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.instances[ref]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "connection", ID: ref.String(), Platform: domain.PlatformWhatsApp}
	}
	return inst, nil
}

// evolutionEvent is the subset of the Evolution webhook payload the gateway
// consumes.
type evolutionEvent struct {
	Event string `json:"event"`
	Data  struct {
		Key struct {
			RemoteJid string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message  struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
	} `json:"data"`
}

// HandleInbound authenticates the apikey header and publishes new
// messages.upsert events. Echoes of the instance's own sends (fromMe) are
// dropped; they would otherwise loop back as inbound traffic.
func (p *Provider) HandleInbound(ctx context.Context, ref connection.Ref, body []byte, header http.Header) (provider.Ack, error) {
	inst, err := p.instance(ref)
	if err != nil {
		return nil, err
	}
	if header.Get("apikey") != inst.apiKey {
		return nil, &domain.AuthError{Platform: domain.PlatformWhatsApp, Reason: "apikey missing or mismatched"}
	}

	var event evolutionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, &domain.ValidationError{Field: "body", Reason: "not an Evolution API event"}
	}

	if event.Event != "messages.upsert" || event.Data.Key.FromMe || event.Data.Key.ID == "" {
		return provider.OK(map[string]string{"status": "ignored"}), nil
	}

	fresh, err := p.filter.IsNew(ctx, dedup.Key(ref.String(), event.Data.Key.ID))
	if err != nil {
		logger.WarnCF(component, "Dedup check failed, processing anyway", map[string]interface{}{
			"ref":   ref.String(),
			"error": err.Error(),
		})
	} else if !fresh {
		return provider.OK(map[string]string{"status": "duplicate"}), nil
	}

	text := event.Data.Message.Conversation
	if text == "" {
		text = event.Data.Message.ExtendedTextMessage.Text
	}

	env := message.NewInbound(ref, domain.PlatformWhatsApp, event.Data.Key.RemoteJid, event.Data.Key.RemoteJid, text)
	env.NativeMessageID = event.Data.Key.ID
	env.Raw = append(json.RawMessage(nil), body...)
	p.bus.Publish(env)

	return provider.OK(map[string]string{"status": "accepted"}), nil
}

// Send posts text to a number or JID. Embeds fall back to flattened text.
func (p *Provider) Send(ctx context.Context, ref connection.Ref, targetChatID string, content message.Content) (message.DeliveryReceipt, error) {
	inst, err := p.instance(ref)
	if err != nil {
		return message.DeliveryReceipt{}, err
	}

	text := content.Text
	if content.Embed != nil {
		if fallback := provider.EmbedFallbackText(provider.SanitizeEmbed(content.Embed)); fallback != "" {
			if text != "" {
				text += "\n\n"
			}
			text += fallback
		}
	}

	var sent struct {
		Key struct {
			RemoteJid string `json:"remoteJid"`
			ID        string `json:"id"`
		} `json:"key"`
	}
	resp, err := inst.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"number": targetChatID, "text": text}).
		SetResult(&sent).
		Post("/message/sendText/" + inst.instanceName)
	if err != nil {
		return message.DeliveryReceipt{}, &domain.TransientError{Platform: domain.PlatformWhatsApp, Err: err}
	}
	if err := classifyStatus(resp.StatusCode(), resp.String()); err != nil {
		return message.DeliveryReceipt{}, err
	}

	chatID := sent.Key.RemoteJid
	if chatID == "" {
		chatID = targetChatID
	}
	return message.DeliveryReceipt{
		NativeMessageID: sent.Key.ID,
		ChatID:          chatID,
		SentAt:          domain.Now(),
	}, nil
}

// SendReaction reacts to a message. Evolution needs the original message key,
// including whether the gateway itself sent it.
func (p *Provider) SendReaction(ctx context.Context, ref connection.Ref, chatID, nativeMessageID, emoji string, fromMe bool) error {
	return p.react(ctx, ref, chatID, nativeMessageID, emoji, fromMe)
}

// RemoveReaction clears a reaction; Evolution treats an empty reaction string
// as removal.
func (p *Provider) RemoveReaction(ctx context.Context, ref connection.Ref, chatID, nativeMessageID, emoji string, fromMe bool) error {
	return p.react(ctx, ref, chatID, nativeMessageID, "", fromMe)
}

func (p *Provider) react(ctx context.Context, ref connection.Ref, chatID, nativeMessageID, reaction string, fromMe bool) error {
	inst, err := p.instance(ref)
	if err != nil {
		return err
	}
	resp, err := inst.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"key": map[string]interface{}{
				"remoteJid": chatID,
				"fromMe":    fromMe,
				"id":        nativeMessageID,
			},
			"reaction": reaction,
		}).
		Post("/message/sendReaction/" + inst.instanceName)
	if err != nil {
		return &domain.TransientError{Platform: domain.PlatformWhatsApp, Err: err}
	}
	return classifyStatus(resp.StatusCode(), resp.String())
}

// classifyStatus maps Evolution API response codes onto the error taxonomy.
func classifyStatus(status int, body string) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.AuthError{Platform: domain.PlatformWhatsApp, Reason: fmt.Sprintf("evolution api returned %d", status)}
	case status == http.StatusTooManyRequests:
		return &domain.RateLimitedError{Platform: domain.PlatformWhatsApp}
	case status == http.StatusNotFound:
		return &domain.PermanentError{Platform: domain.PlatformWhatsApp, Reason: "instance or target not found"}
	case status >= 500:
		return &domain.TransientError{Platform: domain.PlatformWhatsApp, Err: fmt.Errorf("evolution api returned %d: %s", status, body)}
	default:
		return &domain.PermanentError{Platform: domain.PlatformWhatsApp, Reason: fmt.Sprintf("evolution api returned %d: %s", status, body)}
	}
}
