// Package resolve finds the chat a platform message lives in, given only its
// provider-assigned ID. Reaction calls arrive with a message ID and need the
// chat plus whether the gateway itself authored the message.
package resolve

import (
	"context"
	"errors"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
)

// Target is the outcome of message resolution.
type Target struct {
	ChatID string

	// FromMe is true when the resolved message was sent by the gateway, not
	// received. WhatsApp needs this bit in the reaction key.
	FromMe bool
}

// Resolver resolves provider message IDs against the stored message records.
type Resolver struct {
	received message.ReceivedRepository
	sent     message.SentRepository
}

// New creates a resolver over the two message stores.
func New(received message.ReceivedRepository, sent message.SentRepository) *Resolver {
	return &Resolver{received: received, sent: sent}
}

// ResolveTarget looks the message up among received messages first, then sent
// ones. A message present in both stores resolves as received. Unknown IDs
// fail with NotFoundError naming the platform.
func (r *Resolver) ResolveTarget(ctx context.Context, projectID, connectionID domain.EntityID, platform domain.Platform, providerMessageID string) (Target, error) {
	if rec, err := r.received.FindByProviderID(ctx, projectID, connectionID, providerMessageID); err == nil {
		return Target{ChatID: rec.ProviderChatID, FromMe: false}, nil
	} else if !isNotFound(err) {
		return Target{}, err
	}

	if sent, err := r.sent.FindByProviderID(ctx, projectID, connectionID, providerMessageID); err == nil {
		return Target{ChatID: sent.TargetChatID, FromMe: true}, nil
	} else if !isNotFound(err) {
		return Target{}, err
	}

	return Target{}, &domain.NotFoundError{Resource: "message", ID: providerMessageID, Platform: platform}
}

func isNotFound(err error) bool {
	var notFound *domain.NotFoundError
	return errors.As(err, &notFound)
}
