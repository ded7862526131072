// Package provider defines the contract every platform adapter implements:
// activation lifecycle, outbound sends, optional reaction capability, and —
// for webhook-connected platforms — inbound payload handling.
package provider

import (
	"context"
	"net/http"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
)

// Handle is the live state a provider holds for one activated connection.
// Deactivate is idempotent: closing an already-torn-down handle is a no-op.
type Handle interface {
	Deactivate(ctx context.Context) error
}

// Provider is one platform adapter. Adapters hold per-connection live state
// internally, keyed by connection ref; operations after deactivation fail
// with NotFoundError.
type Provider interface {
	Platform() domain.Platform
	ConnectionType() domain.ConnectionType
	DisplayName() string

	// Activate establishes whatever live state the platform needs: webhook
	// registration, a socket connection, a verified SMTP dial. Credential
	// rejection by the remote platform surfaces as ActivationError.
	Activate(ctx context.Context, conn *connection.Connection) (Handle, error)

	// Send delivers text plus an optional embed. Calls are not retried here;
	// retry is the dispatch queue's job, driven by the typed error returned.
	Send(ctx context.Context, ref connection.Ref, targetChatID string, content message.Content) (message.DeliveryReceipt, error)
}

// InboundHandler is implemented only by webhook-type providers.
type InboundHandler interface {
	// HandleInbound parses one platform payload, publishing zero or more
	// canonical envelopes to the event bus as a side effect (a single payload
	// may batch several platform events). The returned Ack satisfies the
	// remote platform's expected response shape. Authenticity failures
	// surface as AuthError without emitting any envelope.
	HandleInbound(ctx context.Context, ref connection.Ref, body []byte, header http.Header) (Ack, error)
}

// Reactable is the optional reaction capability. Callers detect support by
// presence via AsReactable, never by probing.
type Reactable interface {
	SendReaction(ctx context.Context, ref connection.Ref, chatID, nativeMessageID, emoji string, fromMe bool) error
	RemoveReaction(ctx context.Context, ref connection.Ref, chatID, nativeMessageID, emoji string, fromMe bool) error
}

// AsInboundHandler returns the provider's webhook handler, if it has one.
func AsInboundHandler(p Provider) (InboundHandler, bool) {
	h, ok := p.(InboundHandler)
	return h, ok
}

// AsReactable returns the provider's reaction capability, if it has one.
func AsReactable(p Provider) (Reactable, bool) {
	r, ok := p.(Reactable)
	return r, ok
}

// ---------------------------------------------------------------------------
// Capability metadata
// ---------------------------------------------------------------------------

// Capabilities is the static capability surface of one provider, captured at
// registration time.
type Capabilities struct {
	ConnectionType    domain.ConnectionType `json:"connection_type"`
	SupportsReactions bool                  `json:"supports_reactions"`
	SupportsEmbeds    bool                  `json:"supports_embeds"`
	SupportsInbound   bool                  `json:"supports_inbound"`
}

// CapabilitiesOf derives capability metadata from a provider's interface set.
func CapabilitiesOf(p Provider) Capabilities {
	_, reactable := AsReactable(p)
	_, inbound := AsInboundHandler(p)
	return Capabilities{
		ConnectionType:    p.ConnectionType(),
		SupportsReactions: reactable,
		SupportsEmbeds:    p.Platform() == domain.PlatformDiscord,
		SupportsInbound:   inbound,
	}
}

// ---------------------------------------------------------------------------
// Acknowledgements
// ---------------------------------------------------------------------------

// Ack is the platform-specific acknowledgement a webhook handler returns.
// Each adapter defines its own body type so its response shape stays
// statically known to that adapter.
type Ack interface {
	StatusCode() int
	Body() interface{}
}

// JSONAck is the common ack shape: a status code plus a JSON body.
type JSONAck struct {
	Status  int
	Payload interface{}
}

func (a JSONAck) StatusCode() int   { return a.Status }
func (a JSONAck) Body() interface{} { return a.Payload }

// OK returns a 200 ack with the given body.
func OK(payload interface{}) Ack { return JSONAck{Status: http.StatusOK, Payload: payload} }
