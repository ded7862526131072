package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/omnirelay/omnirelay/pkg/creds"
	"github.com/omnirelay/omnirelay/pkg/dispatch"
	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/infrastructure/persistence"
	"github.com/omnirelay/omnirelay/pkg/provider"
	"github.com/omnirelay/omnirelay/pkg/registry"
	"github.com/omnirelay/omnirelay/pkg/resolve"
)

type nopHandle struct{}

func (nopHandle) Deactivate(context.Context) error { return nil }

// chatProvider is a reactable webhook platform double.
type chatProvider struct {
	platform domain.Platform

	mu        sync.Mutex
	sent      []message.Content
	reactions []reactionCall
}

type reactionCall struct {
	chatID string
	emoji  string
	fromMe bool
	add    bool
}

func (p *chatProvider) Platform() domain.Platform             { return p.platform }
func (p *chatProvider) ConnectionType() domain.ConnectionType { return domain.ConnectionWebhook }
func (p *chatProvider) DisplayName() string                   { return string(p.platform) }

func (p *chatProvider) Activate(context.Context, *connection.Connection) (provider.Handle, error) {
	return nopHandle{}, nil
}

func (p *chatProvider) Send(_ context.Context, _ connection.Ref, chatID string, content message.Content) (message.DeliveryReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, content)
	return message.DeliveryReceipt{NativeMessageID: "srv-1", ChatID: chatID, SentAt: domain.Now()}, nil
}

func (p *chatProvider) SendReaction(_ context.Context, _ connection.Ref, chatID, _, emoji string, fromMe bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reactions = append(p.reactions, reactionCall{chatID: chatID, emoji: emoji, fromMe: fromMe, add: true})
	return nil
}

func (p *chatProvider) RemoveReaction(_ context.Context, _ connection.Ref, chatID, _, emoji string, fromMe bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reactions = append(p.reactions, reactionCall{chatID: chatID, emoji: emoji, fromMe: fromMe})
	return nil
}

// mailProvider is a send-only platform double with no reaction capability.
type mailProvider struct{}

func (p *mailProvider) Platform() domain.Platform             { return domain.PlatformEmail }
func (p *mailProvider) ConnectionType() domain.ConnectionType { return domain.ConnectionPolling }
func (p *mailProvider) DisplayName() string                   { return "email" }

func (p *mailProvider) Activate(context.Context, *connection.Connection) (provider.Handle, error) {
	return nopHandle{}, nil
}

func (p *mailProvider) Send(_ context.Context, _ connection.Ref, chatID string, _ message.Content) (message.DeliveryReceipt, error) {
	return message.DeliveryReceipt{NativeMessageID: "mail-1", ChatID: chatID, SentAt: domain.Now()}, nil
}

type fixture struct {
	svc      *GatewayService
	conns    *persistence.MemoryConnectionRepository
	received *persistence.MemoryReceivedRepository
	sent     *persistence.MemorySentRepository
	reg      *registry.Registry
	queue    *dispatch.Queue
	chat     *chatProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chat := &chatProvider{platform: domain.PlatformTelegram}
	reg := registry.New(chat, &mailProvider{})

	conns := persistence.NewMemoryConnectionRepository()
	received := persistence.NewMemoryReceivedRepository()
	sent := persistence.NewMemorySentRepository()

	queue := dispatch.New(reg,
		dispatch.Options{Workers: 2, MaxAttempts: 2, BaseBackoff: time.Millisecond},
		NewSendRecorder(sent, reg))
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	svc := NewGatewayService(conns, received, creds.DefaultService(), reg, queue,
		resolve.New(received, sent))
	return &fixture{svc: svc, conns: conns, received: received, sent: sent, reg: reg, queue: queue, chat: chat}
}

func (f *fixture) createActive(t *testing.T, platform, name string, credentials map[string]string) *connection.Connection {
	t.Helper()
	ctx := context.Background()
	created, err := f.svc.CreateConnection(ctx, domain.NewID(), platform, name, credentials)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	conn, err := f.svc.ActivateConnection(ctx, created.Connection.Ref())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return conn
}

func telegramCreds() map[string]string {
	return map[string]string{"token": "1234567890:AAHdqWcvCH1vGWJxfSeofSAs0K5PALDsaw"}
}

func emailCreds() map[string]string {
	return map[string]string{
		"smtpHost": "smtp.example.com", "smtpPort": "587",
		"username": "relay@example.com", "password": "pw",
		"fromAddress": "relay@example.com",
	}
}

func TestCreateConnectionMintsWebhookTokenForWebhookPlatforms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tg, err := f.svc.CreateConnection(ctx, domain.NewID(), "telegram", "tg main", telegramCreds())
	if err != nil {
		t.Fatal(err)
	}
	if tg.Connection.WebhookToken == "" {
		t.Error("webhook platform connection has no webhook token")
	}

	em, err := f.svc.CreateConnection(ctx, domain.NewID(), "email", "mailer", emailCreds())
	if err != nil {
		t.Fatal(err)
	}
	if em.Connection.WebhookToken != "" {
		t.Error("polling platform connection must not get a webhook token")
	}
}

func TestCreateConnectionRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateConnection(context.Background(), domain.NewID(), "telegram", "tg", map[string]string{"token": "nope"})
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

func TestCreateConnectionUnknownPlatform(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateConnection(context.Background(), domain.NewID(), "pager", "old pager", nil)
	var unsupported *domain.UnsupportedPlatformError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %v, want UnsupportedPlatformError", err)
	}
}

func TestActivateDeactivateLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := f.createActive(t, "telegram", "tg", telegramCreds())
	if !conn.Active {
		t.Error("connection not marked active")
	}
	if _, ok := f.reg.Resolve(conn.Ref()); !ok {
		t.Fatal("connection not registered after activation")
	}

	deactivated, err := f.svc.DeactivateConnection(ctx, conn.Ref())
	if err != nil {
		t.Fatal(err)
	}
	if deactivated.Active {
		t.Error("connection still marked active")
	}
	if _, ok := f.reg.Resolve(conn.Ref()); ok {
		t.Error("connection still registered after deactivation")
	}
}

func TestSendOnUnregisteredConnection(t *testing.T) {
	f := newFixture(t)
	ref := connection.Ref{ProjectID: domain.NewID(), ConnectionID: domain.NewID()}

	err := f.svc.Send(context.Background(), ref, "chat-1", message.Content{Text: "hi"})
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

func TestSendRecordsSentMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := f.createActive(t, "telegram", "tg", telegramCreds())
	if err := f.svc.Send(ctx, conn.Ref(), "chat-9", message.Content{Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	f.queue.Stop()

	record, err := f.sent.FindByProviderID(ctx, conn.ProjectID, conn.ID, "srv-1")
	if err != nil {
		t.Fatalf("sent message not recorded: %v", err)
	}
	if record.TargetChatID != "chat-9" || record.Text != "hello" {
		t.Errorf("record = %+v", record)
	}
}

func TestReactUnknownMessage(t *testing.T) {
	f := newFixture(t)
	conn := f.createActive(t, "telegram", "tg", telegramCreds())

	err := f.svc.React(context.Background(), conn.Ref(), "missing-id", "👍")
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

func TestReactOnPlatformWithoutReactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := f.createActive(t, "email", "mailer", emailCreds())
	// The message exists; only the capability is missing.
	f.received.Save(ctx, &message.ReceivedMessage{
		ID: domain.NewID(), ProjectID: conn.ProjectID, ConnectionID: conn.ID,
		Platform: domain.PlatformEmail, ProviderMessageID: "mail-msg-1",
		ProviderChatID: "someone@example.com",
	})

	err := f.svc.React(ctx, conn.Ref(), "mail-msg-1", "👍")
	var unsupported *domain.UnsupportedOperationError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %v, want UnsupportedOperationError", err)
	}
	if unsupported.Platform != domain.PlatformEmail || unsupported.Operation != "reactions" {
		t.Errorf("error detail = %+v", unsupported)
	}
}

func TestReactToOwnSentMessageCarriesFromMe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := f.createActive(t, "telegram", "tg", telegramCreds())
	f.sent.Save(ctx, &message.SentMessage{
		ID: domain.NewID(), ProjectID: conn.ProjectID, ConnectionID: conn.ID,
		Platform: domain.PlatformTelegram, ProviderMessageID: "own-5",
		TargetChatID: "chat-3",
	})

	if err := f.svc.React(ctx, conn.Ref(), "own-5", "🔥"); err != nil {
		t.Fatal(err)
	}
	f.queue.Stop()

	f.chat.mu.Lock()
	defer f.chat.mu.Unlock()
	if len(f.chat.reactions) != 1 {
		t.Fatalf("provider saw %d reaction calls, want 1", len(f.chat.reactions))
	}
	call := f.chat.reactions[0]
	if !call.fromMe || call.chatID != "chat-3" || call.emoji != "🔥" || !call.add {
		t.Errorf("reaction call = %+v", call)
	}
}

func TestRecordInboundPersistsEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := connection.Ref{ProjectID: domain.NewID(), ConnectionID: domain.NewID()}
	env := message.NewInbound(ref, domain.PlatformWhatsApp, "jid-1", "jid-1", "ping")
	env.NativeMessageID = "WA-1"

	f.svc.RecordInbound(env)

	record, err := f.received.FindByProviderID(ctx, ref.ProjectID, ref.ConnectionID, "WA-1")
	if err != nil {
		t.Fatalf("inbound not recorded: %v", err)
	}
	if record.Text != "ping" || record.ProviderChatID != "jid-1" {
		t.Errorf("record = %+v", record)
	}
}
