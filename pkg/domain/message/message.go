// Package message defines the canonical message envelope exchanged on the
// event bus, the outbound content model, and the persisted message records
// used for reaction targeting.
package message

import (
	"context"
	"encoding/json"
	"time"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
)

// ---------------------------------------------------------------------------
// Canonical envelope
// ---------------------------------------------------------------------------

// Attachment is a typed media reference carried by an envelope.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Envelope is the normalized representation of one inbound message,
// independent of source platform. Immutable once published.
type Envelope struct {
	ID            domain.EntityID  `json:"id"`
	Channel       domain.Platform  `json:"channel"`
	ConnectionRef connection.Ref   `json:"connection_ref"`
	Direction     domain.Direction `json:"direction"`

	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`

	Attachments []Attachment `json:"attachments,omitempty"`

	// NativeMessageID is the platform's own message identifier, used for
	// duplicate suppression and reaction targeting. Empty when the platform
	// provides none.
	NativeMessageID string `json:"native_message_id,omitempty"`

	ReceivedAt time.Time `json:"received_at"`

	// Raw retains the opaque platform payload for audit.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// NewInbound constructs an inbound envelope with a gateway-assigned ID.
func NewInbound(ref connection.Ref, platform domain.Platform, chatID, senderID, text string) Envelope {
	return Envelope{
		ID:            domain.NewID(),
		Channel:       platform,
		ConnectionRef: ref,
		Direction:     domain.DirectionInbound,
		ChatID:        chatID,
		SenderID:      senderID,
		Text:          text,
		ReceivedAt:    domain.Now(),
	}
}

// ---------------------------------------------------------------------------
// Outbound content
// ---------------------------------------------------------------------------

// EmbedField is one titled value inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is the rich-content block attached to an outbound send. Platforms
// without native embeds render a text fallback.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	// Color accepts "#RRGGBB" or a decimal integer string; unparsable values
	// are dropped at send time rather than failing the send.
	Color        string       `json:"color,omitempty"`
	AuthorName   string       `json:"author_name,omitempty"`
	AuthorURL    string       `json:"author_url,omitempty"`
	FooterText   string       `json:"footer_text,omitempty"`
	ImageURL     string       `json:"image_url,omitempty"`
	ThumbnailURL string       `json:"thumbnail_url,omitempty"`
	Fields       []EmbedField `json:"fields,omitempty"`
	Timestamp    string       `json:"timestamp,omitempty"`
}

// Content is the canonical outbound payload: text plus an optional embed.
type Content struct {
	Text  string `json:"text"`
	Embed *Embed `json:"embed,omitempty"`
}

// DeliveryReceipt reports a completed platform send.
type DeliveryReceipt struct {
	NativeMessageID string    `json:"native_message_id"`
	ChatID          string    `json:"chat_id"`
	SentAt          time.Time `json:"sent_at"`
}

// ---------------------------------------------------------------------------
// Message records (read by reaction targeting, written by bus consumers)
// ---------------------------------------------------------------------------

// ReceivedMessage is the persisted record of an inbound message.
type ReceivedMessage struct {
	ID                domain.EntityID `json:"id"`
	ProjectID         domain.EntityID `json:"project_id"`
	ConnectionID      domain.EntityID `json:"connection_id"`
	Platform          domain.Platform `json:"platform"`
	ProviderMessageID string          `json:"provider_message_id"`
	ProviderChatID    string          `json:"provider_chat_id"`
	SenderID          string          `json:"sender_id"`
	Text              string          `json:"text"`
	ReceivedAt        time.Time       `json:"received_at"`
}

// SentMessage is the persisted record of an outbound message.
type SentMessage struct {
	ID                domain.EntityID `json:"id"`
	ProjectID         domain.EntityID `json:"project_id"`
	ConnectionID      domain.EntityID `json:"connection_id"`
	Platform          domain.Platform `json:"platform"`
	ProviderMessageID string          `json:"provider_message_id"`
	TargetChatID      string          `json:"target_chat_id"`
	Text              string          `json:"text"`
	SentAt            time.Time       `json:"sent_at"`
}

// ReceivedRepository is the persistence port for inbound message records,
// keyed by (project, connection, provider message id).
type ReceivedRepository interface {
	FindByProviderID(ctx context.Context, projectID, connectionID domain.EntityID, providerMessageID string) (*ReceivedMessage, error)
	Save(ctx context.Context, msg *ReceivedMessage) error
}

// SentRepository is the persistence port for outbound message records.
type SentRepository interface {
	FindByProviderID(ctx context.Context, projectID, connectionID domain.EntityID, providerMessageID string) (*SentMessage, error)
	Save(ctx context.Context, msg *SentMessage) error
}
