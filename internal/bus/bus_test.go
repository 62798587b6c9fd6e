package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("daemon.", 10)
	defer unsub()

	b.Publish(Event{Kind: "daemon.status_changed", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "daemon.status_changed" {
			t.Errorf("got kind %q, want daemon.status_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Publish(Event{Kind: "daemon.status_changed"})
	b.Publish(Event{Kind: "chat.connected"})

	select {
	case evt := <-ch:
		if evt.Kind != "chat.connected" {
			t.Errorf("got kind %q, want chat.connected", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure daemon event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("daemon.", 10)
	unsub()

	b.Publish(Event{Kind: "daemon.status_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestDroppedCounter(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(NamespaceChat, 1)
	defer unsub()

	b.Publish(NewEvent(MessageReceived, nil))
	b.Publish(NewEvent(MessageReceived, nil))
	b.Publish(NewEvent(DaemonStatusChanged, nil))

	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestSubscribersSeePublishOrder(t *testing.T) {
	b := New()
	first, unsub1 := b.Subscribe(NamespaceChat, 10)
	defer unsub1()
	second, unsub2 := b.Subscribe("", 10)
	defer unsub2()

	kinds := []string{SessionInvited, SessionAccepted, SessionStarted, MessageReceived}
	for _, k := range kinds {
		b.Publish(NewEvent(k, nil))
	}
	for _, ch := range []<-chan Event{first, second} {
		for _, want := range kinds {
			select {
			case evt := <-ch:
				if evt.Kind != want {
					t.Fatalf("got %q, want %q", evt.Kind, want)
				}
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for event")
			}
		}
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(NamespaceChat, 1)
	_, keep := b.Subscribe(NamespaceChat, 1)
	defer keep()
	unsub()
	unsub()
	if len(b.subs) != 1 {
		t.Errorf("subs = %d, want 1", len(b.subs))
	}
}
