// Package discord adapts Discord to the provider contract over a bot gateway
// session. Inbound messages arrive on the websocket, not via webhook, so this
// adapter implements Reactable but not InboundHandler.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/omnirelay/omnirelay/pkg/bus"
	"github.com/omnirelay/omnirelay/pkg/dedup"
	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/logger"
	"github.com/omnirelay/omnirelay/pkg/provider"
)

const component = "provider.discord"

// Provider is the Discord platform adapter. One gateway session per activated
// connection, keyed by connection ref.
type Provider struct {
	bus    *bus.Bus
	filter dedup.Filter

	mu       sync.RWMutex
	sessions map[connection.Ref]*session
}

type session struct {
	ref    connection.Ref
	dg     *discordgo.Session
	owner  *Provider
	mu     sync.Mutex
	closed bool
}

var (
	_ provider.Provider  = (*Provider)(nil)
	_ provider.Reactable = (*Provider)(nil)
)

// New creates the Discord adapter.
func New(b *bus.Bus, filter dedup.Filter) *Provider {
	return &Provider{
		bus:      b,
		filter:   filter,
		sessions: make(map[connection.Ref]*session),
	}
}

func (p *Provider) Platform() domain.Platform             { return domain.PlatformDiscord }
func (p *Provider) ConnectionType() domain.ConnectionType { return domain.ConnectionWebsocket }
func (p *Provider) DisplayName() string                   { return "Discord" }

// Activate opens a gateway session with the connection's bot token. A token
// the gateway rejects surfaces as ActivationError wrapping AuthError.
func (p *Provider) Activate(ctx context.Context, conn *connection.Connection) (provider.Handle, error) {
	dg, err := discordgo.New("Bot " + conn.Credentials["token"])
	if err != nil {
		return nil, &domain.ActivationError{Platform: domain.PlatformDiscord, Err: err}
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	s := &session{ref: conn.Ref(), dg: dg, owner: p}
	dg.AddHandler(s.onMessageCreate)

	if err := dg.Open(); err != nil {
		return nil, &domain.ActivationError{
			Platform: domain.PlatformDiscord,
			Err:      &domain.AuthError{Platform: domain.PlatformDiscord, Reason: err.Error()},
		}
	}

	p.mu.Lock()
	p.sessions[conn.Ref()] = s
	p.mu.Unlock()

	logger.InfoCF(component, "Gateway session opened", map[string]interface{}{
		"ref": conn.Ref().String(),
	})
	return s, nil
}

// Deactivate closes the gateway session and forgets the connection.
func (s *session) Deactivate(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.owner.mu.Lock()
	delete(s.owner.sessions, s.ref)
	s.owner.mu.Unlock()

	return s.dg.Close()
}

func (s *session) onMessageCreate(dg *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if dg.State != nil && dg.State.User != nil && m.Author.ID == dg.State.User.ID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fresh, err := s.owner.filter.IsNew(ctx, dedup.Key(s.ref.String(), m.ID))
	if err != nil {
		logger.WarnCF(component, "Dedup check failed, processing anyway", map[string]interface{}{
			"ref":   s.ref.String(),
			"error": err.Error(),
		})
	} else if !fresh {
		return
	}

	env := message.NewInbound(s.ref, domain.PlatformDiscord, m.ChannelID, m.Author.ID, m.Content)
	env.NativeMessageID = m.ID
	for _, a := range m.Attachments {
		env.Attachments = append(env.Attachments, message.Attachment{
			URL:      a.URL,
			MimeType: a.ContentType,
			Size:     int64(a.Size),
		})
	}
	if raw, err := json.Marshal(m.Message); err == nil {
		env.Raw = raw
	}
	s.owner.bus.Publish(env)
}

func (p *Provider) session(ref connection.Ref) (*session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[ref]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "connection", ID: ref.String(), Platform: domain.PlatformDiscord}
	}
	return s, nil
}

// Send posts text plus an optional embed to a channel. The embed's URLs are
// revalidated here, immediately before use.
func (p *Provider) Send(ctx context.Context, ref connection.Ref, targetChatID string, content message.Content) (message.DeliveryReceipt, error) {
	s, err := p.session(ref)
	if err != nil {
		return message.DeliveryReceipt{}, err
	}

	data := &discordgo.MessageSend{Content: content.Text}
	if content.Embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{buildEmbed(provider.SanitizeEmbed(content.Embed))}
	}

	msg, err := s.dg.ChannelMessageSendComplex(targetChatID, data, discordgo.WithContext(ctx))
	if err != nil {
		return message.DeliveryReceipt{}, classify(err)
	}
	return message.DeliveryReceipt{
		NativeMessageID: msg.ID,
		ChatID:          msg.ChannelID,
		SentAt:          domain.Now(),
	}, nil
}

// SendReaction adds an emoji reaction. The fromMe flag is irrelevant here;
// Discord addresses messages by channel and ID regardless of author.
func (p *Provider) SendReaction(ctx context.Context, ref connection.Ref, chatID, nativeMessageID, emoji string, fromMe bool) error {
	s, err := p.session(ref)
	if err != nil {
		return err
	}
	if err := s.dg.MessageReactionAdd(chatID, nativeMessageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return classify(err)
	}
	return nil
}

// RemoveReaction removes the bot's own reaction.
func (p *Provider) RemoveReaction(ctx context.Context, ref connection.Ref, chatID, nativeMessageID, emoji string, fromMe bool) error {
	s, err := p.session(ref)
	if err != nil {
		return err
	}
	if err := s.dg.MessageReactionRemove(chatID, nativeMessageID, emoji, "@me", discordgo.WithContext(ctx)); err != nil {
		return classify(err)
	}
	return nil
}

func buildEmbed(e *message.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
	}
	if color, ok := provider.ParseEmbedColor(e.Color); ok {
		out.Color = color
	}
	if e.AuthorName != "" {
		out.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, URL: e.AuthorURL}
	}
	if e.FooterText != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.FooterText}
	}
	if e.ImageURL != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if e.ThumbnailURL != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
	}
	if ts, ok := provider.ParseEmbedTimestamp(e.Timestamp); ok {
		out.Timestamp = ts.Format(time.RFC3339)
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return out
}

// classify maps Discord REST failures onto the gateway error taxonomy so the
// dispatch queue can decide whether to retry.
func classify(err error) error {
	switch e := err.(type) {
	case *discordgo.RESTError:
		status := 0
		if e.Response != nil {
			status = e.Response.StatusCode
		}
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &domain.AuthError{Platform: domain.PlatformDiscord, Reason: restMessage(e)}
		case status == http.StatusTooManyRequests:
			return &domain.RateLimitedError{Platform: domain.PlatformDiscord}
		case status == http.StatusNotFound:
			return &domain.PermanentError{Platform: domain.PlatformDiscord, Reason: "target not found: " + restMessage(e)}
		case status >= 500:
			return &domain.TransientError{Platform: domain.PlatformDiscord, Err: err}
		default:
			return &domain.PermanentError{Platform: domain.PlatformDiscord, Reason: restMessage(e)}
		}
	case *discordgo.RateLimitError:
		return &domain.RateLimitedError{Platform: domain.PlatformDiscord, RetryAfter: e.RetryAfter}
	default:
		return &domain.TransientError{Platform: domain.PlatformDiscord, Err: err}
	}
}

func restMessage(e *discordgo.RESTError) string {
	if e.Message != nil {
		return fmt.Sprintf("%d: %s", e.Message.Code, e.Message.Message)
	}
	if e.Response != nil {
		return strconv.Itoa(e.Response.StatusCode)
	}
	return "request failed"
}
