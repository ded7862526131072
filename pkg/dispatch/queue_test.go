package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/provider"
	"github.com/omnirelay/omnirelay/pkg/registry"
)

// scriptedProvider returns the scripted errors in order, then succeeds.
type scriptedProvider struct {
	mu       sync.Mutex
	errs     []error
	attempts int
	sent     []string
}

func (p *scriptedProvider) Platform() domain.Platform             { return domain.PlatformWhatsApp }
func (p *scriptedProvider) ConnectionType() domain.ConnectionType { return domain.ConnectionWebhook }
func (p *scriptedProvider) DisplayName() string                   { return "scripted" }

func (p *scriptedProvider) Activate(context.Context, *connection.Connection) (provider.Handle, error) {
	return nil, nil
}

func (p *scriptedProvider) Send(_ context.Context, _ connection.Ref, chatID string, content message.Content) (message.DeliveryReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return message.DeliveryReceipt{}, err
		}
	}
	p.sent = append(p.sent, content.Text)
	return message.DeliveryReceipt{NativeMessageID: "native-1", ChatID: chatID, SentAt: domain.Now()}, nil
}

func (p *scriptedProvider) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *scriptedProvider) sentTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

type staticResolver struct {
	reg *registry.Registration
}

func (r *staticResolver) Resolve(connection.Ref) (*registry.Registration, bool) {
	return r.reg, r.reg != nil
}

func testRef() connection.Ref {
	return connection.Ref{ProjectID: domain.NewID(), ConnectionID: domain.NewID()}
}

func runTask(t *testing.T, p *scriptedProvider, task Task, maxAttempts int) Result {
	t.Helper()
	results := make(chan Result, 1)
	q := New(
		&staticResolver{reg: &registry.Registration{Provider: p}},
		Options{Workers: 2, MaxAttempts: maxAttempts, BaseBackoff: time.Millisecond},
		func(res Result) { results <- res },
	)
	q.Start(context.Background())
	if err := q.Enqueue(task); err != nil {
		t.Fatal(err)
	}
	q.Stop()

	select {
	case res := <-results:
		return res
	default:
		t.Fatal("no terminal result reported")
		return Result{}
	}
}

func TestAuthErrorIsNotRetried(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		&domain.AuthError{Platform: domain.PlatformWhatsApp, Reason: "revoked"},
	}}
	res := runTask(t, p, Task{Kind: KindSend, Ref: testRef(), TargetChatID: "chat", Content: message.Content{Text: "x"}}, 5)

	if p.attemptCount() != 1 {
		t.Errorf("attempts = %d, want 1", p.attemptCount())
	}
	var authErr *domain.AuthError
	if !errors.As(res.Err, &authErr) {
		t.Errorf("result error = %v, want AuthError", res.Err)
	}
}

func TestUnsupportedOperationIsNotRetried(t *testing.T) {
	p := &scriptedProvider{}
	res := runTask(t, p, Task{Kind: KindReact, Ref: testRef(), TargetChatID: "chat", NativeMessageID: "m1", Emoji: "👍"}, 5)

	// scriptedProvider is not Reactable, so the first attempt fails terminally.
	if p.attemptCount() != 0 {
		t.Errorf("send attempts = %d, want 0", p.attemptCount())
	}
	var unsupported *domain.UnsupportedOperationError
	if !errors.As(res.Err, &unsupported) {
		t.Errorf("result error = %v, want UnsupportedOperationError", res.Err)
	}
}

func TestRateLimitedRetriesUntilSuccess(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		&domain.RateLimitedError{Platform: domain.PlatformWhatsApp},
		&domain.TransientError{Platform: domain.PlatformWhatsApp, Err: errors.New("timeout")},
	}}
	res := runTask(t, p, Task{Kind: KindSend, Ref: testRef(), TargetChatID: "chat", Content: message.Content{Text: "x"}}, 5)

	if res.Err != nil {
		t.Fatalf("result error = %v, want success", res.Err)
	}
	if p.attemptCount() != 3 {
		t.Errorf("attempts = %d, want 3", p.attemptCount())
	}
	if res.Receipt.NativeMessageID != "native-1" {
		t.Errorf("receipt native id = %q", res.Receipt.NativeMessageID)
	}
}

func TestRetriesAreBounded(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		&domain.RateLimitedError{Platform: domain.PlatformWhatsApp},
		&domain.RateLimitedError{Platform: domain.PlatformWhatsApp},
		&domain.RateLimitedError{Platform: domain.PlatformWhatsApp},
		&domain.RateLimitedError{Platform: domain.PlatformWhatsApp},
	}}
	res := runTask(t, p, Task{Kind: KindSend, Ref: testRef(), TargetChatID: "chat", Content: message.Content{Text: "x"}}, 3)

	if p.attemptCount() != 3 {
		t.Errorf("attempts = %d, want 3", p.attemptCount())
	}
	if !domain.Retryable(res.Err) {
		t.Errorf("terminal error = %v, want the retryable error that exhausted attempts", res.Err)
	}
}

func TestUnknownConnectionFailsWithoutRetry(t *testing.T) {
	results := make(chan Result, 1)
	q := New(&staticResolver{}, Options{Workers: 1, MaxAttempts: 5, BaseBackoff: time.Millisecond},
		func(res Result) { results <- res })
	q.Start(context.Background())
	if err := q.Enqueue(Task{Kind: KindSend, Ref: testRef(), TargetChatID: "chat"}); err != nil {
		t.Fatal(err)
	}
	q.Stop()

	res := <-results
	var notFound *domain.NotFoundError
	if !errors.As(res.Err, &notFound) {
		t.Errorf("result error = %v, want NotFoundError", res.Err)
	}
}

func TestSameConversationKeepsOrder(t *testing.T) {
	p := &scriptedProvider{}
	q := New(
		&staticResolver{reg: &registry.Registration{Provider: p}},
		Options{Workers: 4, MaxAttempts: 1, BaseBackoff: time.Millisecond},
		nil,
	)
	q.Start(context.Background())

	ref := testRef()
	for _, text := range []string{"one", "two", "three", "four"} {
		if err := q.Enqueue(Task{Kind: KindSend, Ref: ref, TargetChatID: "chat", Content: message.Content{Text: text}}); err != nil {
			t.Fatal(err)
		}
	}
	q.Stop()

	got := p.sentTexts()
	want := []string{"one", "two", "three", "four"}
	if len(got) != len(want) {
		t.Fatalf("sent %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("send order %v, want %v", got, want)
		}
	}
}

func TestConcurrentEnqueueDuringStop(t *testing.T) {
	p := &scriptedProvider{}
	q := New(
		&staticResolver{reg: &registry.Registration{Provider: p}},
		Options{Workers: 4, MaxAttempts: 1, BaseBackoff: time.Millisecond},
		nil,
	)
	q.Start(context.Background())

	ref := testRef()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				// After Stop wins the race every enqueue must fail cleanly,
				// never panic on a closed lane.
				if err := q.Enqueue(Task{Kind: KindSend, Ref: ref, TargetChatID: "chat", Content: message.Content{Text: "x"}}); err != nil {
					return
				}
			}
		}(i)
	}
	q.Stop()
	wg.Wait()

	if err := q.Enqueue(Task{Kind: KindSend, Ref: ref, TargetChatID: "chat"}); err == nil {
		t.Error("enqueue after stop must fail")
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	q := New(&staticResolver{}, Options{Workers: 1}, nil)
	q.Start(context.Background())
	q.Stop()
	if err := q.Enqueue(Task{Kind: KindSend, Ref: testRef()}); err == nil {
		t.Error("enqueue after stop must fail")
	}
}
