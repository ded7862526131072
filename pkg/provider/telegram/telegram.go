// Package telegram adapts the Telegram Bot API to the provider contract.
// Inbound updates arrive on the gateway's webhook endpoint; the secret token
// Telegram echoes back authenticates each delivery.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"

	"github.com/omnirelay/omnirelay/pkg/bus"
	"github.com/omnirelay/omnirelay/pkg/dedup"
	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/logger"
	"github.com/omnirelay/omnirelay/pkg/provider"
)

const (
	component         = "provider.telegram"
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// Provider is the Telegram platform adapter.
type Provider struct {
	bus       *bus.Bus
	filter    dedup.Filter
	publicURL string

	mu        sync.RWMutex
	instances map[connection.Ref]*instance
}

type instance struct {
	ref        connection.Ref
	bot        *telego.Bot
	secret     string
	webhookSet bool
	owner      *Provider
	mu         sync.Mutex
	closed     bool
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.InboundHandler = (*Provider)(nil)
	_ provider.Reactable      = (*Provider)(nil)
)

// New creates the Telegram adapter. publicURL is the externally reachable
// base used to register webhooks; when empty, activation skips webhook
// registration and updates must be routed in by other means.
func New(b *bus.Bus, filter dedup.Filter, publicURL string) *Provider {
	return &Provider{
		bus:       b,
		filter:    filter,
		publicURL: strings.TrimRight(publicURL, "/"),
		instances: make(map[connection.Ref]*instance),
	}
}

func (p *Provider) Platform() domain.Platform             { return domain.PlatformTelegram }
func (p *Provider) ConnectionType() domain.ConnectionType { return domain.ConnectionWebhook }
func (p *Provider) DisplayName() string                   { return "Telegram" }

// Activate verifies the bot token against getMe and registers the
// connection's webhook URL with Telegram.
func (p *Provider) Activate(ctx context.Context, conn *connection.Connection) (provider.Handle, error) {
	bot, err := telego.NewBot(conn.Credentials["token"], telego.WithDiscardLogger())
	if err != nil {
		return nil, &domain.ActivationError{Platform: domain.PlatformTelegram, Err: err}
	}

	if _, err := bot.GetMe(ctx); err != nil {
		return nil, &domain.ActivationError{
			Platform: domain.PlatformTelegram,
			Err:      classify(err),
		}
	}

	inst := &instance{ref: conn.Ref(), bot: bot, secret: conn.WebhookToken, owner: p}

	if p.publicURL != "" && conn.WebhookToken != "" {
		err := bot.SetWebhook(ctx, &telego.SetWebhookParams{
			URL:         p.publicURL + "/webhooks/telegram/" + conn.WebhookToken,
			SecretToken: conn.WebhookToken,
		})
		if err != nil {
			return nil, &domain.ActivationError{Platform: domain.PlatformTelegram, Err: classify(err)}
		}
		inst.webhookSet = true
	}

	p.mu.Lock()
	p.instances[conn.Ref()] = inst
	p.mu.Unlock()

	logger.InfoCF(component, "Bot activated", map[string]interface{}{
		"ref":     conn.Ref().String(),
		"webhook": inst.webhookSet,
	})
	return inst, nil
}

// Deactivate removes the Telegram-side webhook and forgets the connection.
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

	if i.webhookSet {
		if err := i.bot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{}); err != nil {
			logger.WarnCF(component, "Webhook removal failed", map[string]interface{}{
				"ref":   i.ref.String(),
				"error": err.Error(),
			})
		}
	}
	return nil
}

func (p *Provider) instance(ref connection.Ref) (*instance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.instances[ref]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "connection", ID: ref.String(), Platform: domain.PlatformTelegram}
	}
	return inst, nil
}

// HandleInbound authenticates the secret token header, parses one update, and
// publishes the contained message if it has not been seen before.
func (p *Provider) HandleInbound(ctx context.Context, ref connection.Ref, body []byte, header http.Header) (provider.Ack, error) {
	inst, err := p.instance(ref)
	if err != nil {
		return nil, err
	}
	if header.Get(secretTokenHeader) != inst.secret {
		return nil, &domain.AuthError{Platform: domain.PlatformTelegram, Reason: "secret token mismatch"}
	}

	var update telego.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, &domain.ValidationError{Field: "body", Reason: "not a Telegram update"}
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return provider.OK(map[string]bool{"ok": true}), nil
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	nativeID := strconv.Itoa(msg.MessageID)

	fresh, err := p.filter.IsNew(ctx, dedup.Key(ref.String(), chatID+"/"+nativeID))
	if err != nil {
		logger.WarnCF(component, "Dedup check failed, processing anyway", map[string]interface{}{
			"ref":   ref.String(),
			"error": err.Error(),
		})
	} else if !fresh {
		return provider.OK(map[string]bool{"ok": true}), nil
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	env := message.NewInbound(ref, domain.PlatformTelegram, chatID, strconv.FormatInt(msg.From.ID, 10), text)
	env.NativeMessageID = nativeID
	env.Raw = append(json.RawMessage(nil), body...)
	if msg.Document != nil {
		env.Attachments = append(env.Attachments, message.Attachment{
			URL:      msg.Document.FileID,
			MimeType: msg.Document.MimeType,
			Size:     msg.Document.FileSize,
		})
	}
	p.bus.Publish(env)

	return provider.OK(map[string]bool{"ok": true}), nil
}

// Send delivers text to a numeric chat ID or @username. Embeds have no native
// Telegram rendering and are appended as flattened text.
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

	msg, err := inst.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: parseChatID(targetChatID),
		Text:   text,
	})
	if err != nil {
		return message.DeliveryReceipt{}, classify(err)
	}
	return message.DeliveryReceipt{
		NativeMessageID: strconv.Itoa(msg.MessageID),
		ChatID:          strconv.FormatInt(msg.Chat.ID, 10),
		SentAt:          domain.Now(),
	}, nil
}

// SendReaction sets an emoji reaction on a message. Telegram replaces the
// bot's reaction set wholesale, so setting one emoji is idempotent.
func (p *Provider) SendReaction(ctx context.Context, ref connection.Ref, chatID, nativeMessageID, emoji string, fromMe bool) error {
	return p.setReaction(ctx, ref, chatID, nativeMessageID, []telego.ReactionType{
		&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji},
	})
}

// RemoveReaction clears the bot's reactions from a message.
func (p *Provider) RemoveReaction(ctx context.Context, ref connection.Ref, chatID, nativeMessageID, emoji string, fromMe bool) error {
	return p.setReaction(ctx, ref, chatID, nativeMessageID, nil)
}

func (p *Provider) setReaction(ctx context.Context, ref connection.Ref, chatID, nativeMessageID string, reaction []telego.ReactionType) error {
	inst, err := p.instance(ref)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(nativeMessageID)
	if err != nil {
		return &domain.ValidationError{Field: "messageId", Reason: "not a Telegram message id"}
	}
	err = inst.bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    parseChatID(chatID),
		MessageID: messageID,
		Reaction:  reaction,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func parseChatID(target string) telego.ChatID {
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return telego.ChatID{ID: id}
	}
	if !strings.HasPrefix(target, "@") {
		target = "@" + target
	}
	return telego.ChatID{Username: target}
}

// classify maps Bot API failures onto the gateway error taxonomy.
func classify(err error) error {
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return &domain.TransientError{Platform: domain.PlatformTelegram, Err: err}
	}
	switch {
	case apiErr.ErrorCode == http.StatusUnauthorized || apiErr.ErrorCode == http.StatusForbidden:
		return &domain.AuthError{Platform: domain.PlatformTelegram, Reason: apiErr.Description}
	case apiErr.ErrorCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if apiErr.Parameters != nil {
			retryAfter = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
		}
		return &domain.RateLimitedError{Platform: domain.PlatformTelegram, RetryAfter: retryAfter}
	case apiErr.ErrorCode >= 500:
		return &domain.TransientError{Platform: domain.PlatformTelegram, Err: err}
	default:
		return &domain.PermanentError{Platform: domain.PlatformTelegram, Reason: apiErr.Description}
	}
}
