package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/infrastructure/persistence"
)

func newFixture(t *testing.T) (*Resolver, *persistence.MemoryReceivedRepository, *persistence.MemorySentRepository, domain.EntityID, domain.EntityID) {
	t.Helper()
	received := persistence.NewMemoryReceivedRepository()
	sent := persistence.NewMemorySentRepository()
	return New(received, sent), received, sent, domain.NewID(), domain.NewID()
}

func TestResolveReceivedMessage(t *testing.T) {
	r, received, _, projectID, connectionID := newFixture(t)
	ctx := context.Background()

	received.Save(ctx, &message.ReceivedMessage{
		ID: domain.NewID(), ProjectID: projectID, ConnectionID: connectionID,
		Platform: domain.PlatformTelegram, ProviderMessageID: "1365",
		ProviderChatID: "253191879", SenderID: "u1", Text: "hi",
	})

	target, err := r.ResolveTarget(ctx, projectID, connectionID, domain.PlatformTelegram, "1365")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if target.ChatID != "253191879" {
		t.Errorf("chat = %q, want 253191879", target.ChatID)
	}
	if target.FromMe {
		t.Error("received message resolved as fromMe")
	}
}

func TestResolveSentMessage(t *testing.T) {
	r, _, sent, projectID, connectionID := newFixture(t)
	ctx := context.Background()

	sent.Save(ctx, &message.SentMessage{
		ID: domain.NewID(), ProjectID: projectID, ConnectionID: connectionID,
		Platform: domain.PlatformWhatsApp, ProviderMessageID: "3EB0C431",
		TargetChatID: "5511999999999@s.whatsapp.net", Text: "sent by us",
	})

	target, err := r.ResolveTarget(ctx, projectID, connectionID, domain.PlatformWhatsApp, "3EB0C431")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if target.ChatID != "5511999999999@s.whatsapp.net" {
		t.Errorf("chat = %q", target.ChatID)
	}
	if !target.FromMe {
		t.Error("sent message must resolve as fromMe")
	}
}

func TestResolvePrefersReceivedOverSent(t *testing.T) {
	r, received, sent, projectID, connectionID := newFixture(t)
	ctx := context.Background()

	received.Save(ctx, &message.ReceivedMessage{
		ID: domain.NewID(), ProjectID: projectID, ConnectionID: connectionID,
		Platform: domain.PlatformTelegram, ProviderMessageID: "77",
		ProviderChatID: "chat-received",
	})
	sent.Save(ctx, &message.SentMessage{
		ID: domain.NewID(), ProjectID: projectID, ConnectionID: connectionID,
		Platform: domain.PlatformTelegram, ProviderMessageID: "77",
		TargetChatID: "chat-sent",
	})

	target, err := r.ResolveTarget(ctx, projectID, connectionID, domain.PlatformTelegram, "77")
	if err != nil {
		t.Fatal(err)
	}
	if target.ChatID != "chat-received" || target.FromMe {
		t.Errorf("got %+v, want received-side resolution", target)
	}
}

func TestResolveUnknownMessage(t *testing.T) {
	r, _, _, projectID, connectionID := newFixture(t)

	_, err := r.ResolveTarget(context.Background(), projectID, connectionID, domain.PlatformDiscord, "missing")
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
	if notFound.Platform != domain.PlatformDiscord || notFound.ID != "missing" {
		t.Errorf("error names %s/%s, want discord/missing", notFound.Platform, notFound.ID)
	}
}
