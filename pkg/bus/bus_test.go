package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/omnirelay/omnirelay/pkg/domain"
	"github.com/omnirelay/omnirelay/pkg/domain/connection"
	"github.com/omnirelay/omnirelay/pkg/domain/message"
)

func testEnvelope(text string) message.Envelope {
	ref := connection.Ref{ProjectID: "p1", ConnectionID: "c1"}
	return message.NewInbound(ref, domain.PlatformTelegram, "chat-1", "sender-1", text)
}

func TestEachSubscriberSeesPublishOrder(t *testing.T) {
	b := New(16)

	var mu sync.Mutex
	var first, second []string
	b.Subscribe("first", func(env message.Envelope) {
		mu.Lock()
		first = append(first, env.Text)
		mu.Unlock()
	})
	b.Subscribe("second", func(env message.Envelope) {
		mu.Lock()
		second = append(second, env.Text)
		mu.Unlock()
	})

	for _, text := range []string{"a", "b", "c"} {
		b.Publish(testEnvelope(text))
	}
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	for name, got := range map[string][]string{"first": first, "second": second} {
		if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
			t.Errorf("subscriber %s saw %v, want [a b c]", name, got)
		}
	}
}

func TestFailingSubscriberDoesNotAffectOthers(t *testing.T) {
	b := New(4)

	b.Subscribe("angry", func(message.Envelope) { panic("boom") })

	received := make(chan string, 1)
	b.Subscribe("calm", func(env message.Envelope) { received <- env.Text })

	b.Publish(testEnvelope("hello"))

	select {
	case got := <-received:
		if got != "hello" {
			t.Errorf("got %q, want hello", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second subscriber never received the envelope")
	}
	b.Close()
}

func TestPublishAfterCloseIsNoOp(t *testing.T) {
	b := New(4)
	b.Subscribe("any", func(message.Envelope) {})
	b.Close()

	// Must not panic or block.
	b.Publish(testEnvelope("late"))
	b.Close()
}
