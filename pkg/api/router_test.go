package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/provider"
	"github.com/omnirelay/omnirelay/pkg/registry"
)

type nopHandle struct{}

func (nopHandle) Deactivate(context.Context) error { return nil }

// webhookProvider is a webhook-type double that records inbound deliveries.
type webhookProvider struct {
	platform domain.Platform
	err      error

	mu     sync.Mutex
	bodies []string
}

func (p *webhookProvider) Platform() domain.Platform             { return p.platform }
func (p *webhookProvider) ConnectionType() domain.ConnectionType { return domain.ConnectionWebhook }
func (p *webhookProvider) DisplayName() string                   { return string(p.platform) }

func (p *webhookProvider) Activate(context.Context, *connection.Connection) (provider.Handle, error) {
	return nopHandle{}, nil
}

func (p *webhookProvider) Send(context.Context, connection.Ref, string, message.Content) (message.DeliveryReceipt, error) {
	return message.DeliveryReceipt{}, nil
}

func (p *webhookProvider) HandleInbound(_ context.Context, _ connection.Ref, body []byte, _ http.Header) (provider.Ack, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.mu.Lock()
	p.bodies = append(p.bodies, string(body))
	p.mu.Unlock()
	return provider.OK(map[string]string{"status": "accepted"}), nil
}

func (p *webhookProvider) deliveries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bodies)
}

// deafProvider claims webhook connectivity but implements no inbound
// handling, which the router treats as a wiring bug.
type deafProvider struct{}

func (p *deafProvider) Platform() domain.Platform             { return domain.PlatformWhatsApp }
func (p *deafProvider) ConnectionType() domain.ConnectionType { return domain.ConnectionWebhook }
func (p *deafProvider) DisplayName() string                   { return "deaf" }

func (p *deafProvider) Activate(context.Context, *connection.Connection) (provider.Handle, error) {
	return nopHandle{}, nil
}

func (p *deafProvider) Send(context.Context, connection.Ref, string, message.Content) (message.DeliveryReceipt, error) {
	return message.DeliveryReceipt{}, nil
}

// socketProvider is websocket-type; webhook deliveries to it are a 400.
type socketProvider struct{ webhookProvider }

func (p *socketProvider) ConnectionType() domain.ConnectionType { return domain.ConnectionWebsocket }

func registerConn(t *testing.T, reg *registry.Registry, platform domain.Platform) *connection.Connection {
	t.Helper()
	conn, err := connection.New(domain.NewID(), platform, "inbound", map[string]string{"token": "x"})
	if err != nil {
		t.Fatal(err)
	}
	conn.AssignWebhookToken()
	if err := reg.Register(context.Background(), conn); err != nil {
		t.Fatal(err)
	}
	return conn
}

func doWebhook(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookDeliveryReachesHandler(t *testing.T) {
	p := &webhookProvider{platform: domain.PlatformTelegram}
	reg := registry.New(p)
	conn := registerConn(t, reg, domain.PlatformTelegram)
	srv := NewServer("127.0.0.1:0", nil, reg, NewWSHub())

	// Platforms disagree on verbs; both must land.
	for _, method := range []string{http.MethodPost, http.MethodGet} {
		rec := doWebhook(t, srv, method, "/webhooks/telegram/"+conn.WebhookToken, `{"update_id":1}`)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", method, rec.Code)
		}
	}
	if p.deliveries() != 2 {
		t.Errorf("handler saw %d deliveries, want 2", p.deliveries())
	}
}

func TestWebhookUnknownPlatformIs404(t *testing.T) {
	reg := registry.New(&webhookProvider{platform: domain.PlatformTelegram})
	srv := NewServer("127.0.0.1:0", nil, reg, NewWSHub())

	rec := doWebhook(t, srv, http.MethodPost, "/webhooks/pager/sometoken", "{}")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookUnknownTokenIs404(t *testing.T) {
	p := &webhookProvider{platform: domain.PlatformTelegram}
	reg := registry.New(p)
	registerConn(t, reg, domain.PlatformTelegram)
	srv := NewServer("127.0.0.1:0", nil, reg, NewWSHub())

	rec := doWebhook(t, srv, http.MethodPost, "/webhooks/telegram/ffffffffffffffff", "{}")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if p.deliveries() != 0 {
		t.Errorf("handler saw %d deliveries for unknown token, want 0", p.deliveries())
	}
}

func TestWebhookTokenUnderWrongPlatformIs404(t *testing.T) {
	tg := &webhookProvider{platform: domain.PlatformTelegram}
	wa := &webhookProvider{platform: domain.PlatformWhatsApp}
	reg := registry.New(tg, wa)
	conn := registerConn(t, reg, domain.PlatformTelegram)
	srv := NewServer("127.0.0.1:0", nil, reg, NewWSHub())

	rec := doWebhook(t, srv, http.MethodPost, "/webhooks/whatsapp-evo/"+conn.WebhookToken, "{}")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookToNonWebhookPlatformIs400(t *testing.T) {
	p := &socketProvider{webhookProvider{platform: domain.PlatformDiscord}}
	reg := registry.New(p)
	conn := registerConn(t, reg, domain.PlatformDiscord)
	srv := NewServer("127.0.0.1:0", nil, reg, NewWSHub())

	rec := doWebhook(t, srv, http.MethodPost, "/webhooks/discord/"+conn.WebhookToken, "{}")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookProviderWithoutHandlerIs500(t *testing.T) {
	reg := registry.New(&deafProvider{})
	conn := registerConn(t, reg, domain.PlatformWhatsApp)
	srv := NewServer("127.0.0.1:0", nil, reg, NewWSHub())

	rec := doWebhook(t, srv, http.MethodPost, "/webhooks/whatsapp-evo/"+conn.WebhookToken, "{}")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal error") {
		t.Errorf("body = %q, want opaque internal error", rec.Body.String())
	}
}

func TestWebhookAuthFailureIs401(t *testing.T) {
	p := &webhookProvider{
		platform: domain.PlatformTelegram,
		err:      &domain.AuthError{Platform: domain.PlatformTelegram, Reason: "secret token mismatch"},
	}
	reg := registry.New(p)
	conn := registerConn(t, reg, domain.PlatformTelegram)
	srv := NewServer("127.0.0.1:0", nil, reg, NewWSHub())

	rec := doWebhook(t, srv, http.MethodPost, "/webhooks/telegram/"+conn.WebhookToken, "{}")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "mismatch") {
		t.Errorf("body leaks failure detail: %q", rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	p := &webhookProvider{platform: domain.PlatformTelegram}
	reg := registry.New(p)
	registerConn(t, reg, domain.PlatformTelegram)
	srv := NewServer("127.0.0.1:0", nil, reg, NewWSHub())

	rec := doWebhook(t, srv, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"connections":1`) {
		t.Errorf("body = %s", body)
	}
}
