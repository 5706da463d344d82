package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewMessageBus_MinimumBuffer(t *testing.T) {
	b := NewMessageBus(0)
	if cap(b.Inbound) != 1 {
		t.Fatalf("cap = %d, want 1", cap(b.Inbound))
	}
}

func TestMessageBus_PublishFull(t *testing.T) {
	b := NewMessageBus(1)
	if err := b.Publish(context.Background(), InboundMessage{MessageID: "1"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Publish(ctx, InboundMessage{MessageID: "2"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("publish on full buffer = %v, want deadline exceeded", err)
	}

	got := <-b.Inbound
	if got.MessageID != "1" {
		t.Fatalf("MessageID = %q, want 1", got.MessageID)
	}
}

func TestInboundMessage_ContactKey(t *testing.T) {
	// One contact writing in two chats maps to one key.
	direct := InboundMessage{Channel: "whatsapp", SenderID: "15550001", ChatID: "15550001@s.whatsapp.net"}
	group := InboundMessage{Channel: "whatsapp", SenderID: "15550001", ChatID: "120363@g.us"}
	if got := direct.ContactKey(); got != "whatsapp:15550001" {
		t.Errorf("ContactKey = %q", got)
	}
	if direct.ContactKey() != group.ContactKey() {
		t.Errorf("ContactKey differs across chats: %q vs %q", direct.ContactKey(), group.ContactKey())
	}

	other := InboundMessage{Channel: "telegram", SenderID: "15550001"}
	if other.ContactKey() == direct.ContactKey() {
		t.Error("ContactKey should separate channels")
	}
}
