package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindStatusChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindStatusChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("push.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged})
	b.Publish(Event{Kind: KindPushConnected})

	select {
	case evt := <-ch:
		if evt.Kind != KindPushConnected {
			t.Errorf("got kind %q, want %q", evt.Kind, KindPushConnected)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the session event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(Event{Kind: KindStatusChanged})

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

func TestGroupClosesAllSubscriptions(t *testing.T) {
	b := New()
	var g Group

	chA, unsubA := b.Subscribe("push.", 10)
	g.Add(unsubA)
	chB, unsubB := b.Subscribe("message.", 10)
	g.Add(unsubB)

	g.Close()

	b.Publish(Event{Kind: KindPushMessage})
	b.Publish(Event{Kind: KindMessageUpserted})

	select {
	case evt := <-chA:
		t.Errorf("push subscription still live after group close: %v", evt)
	case evt := <-chB:
		t.Errorf("message subscription still live after group close: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGroupAddAfterClose(t *testing.T) {
	b := New()
	var g Group
	g.Close()

	ch, unsub := b.Subscribe("push.", 10)
	g.Add(unsub) // must unsubscribe immediately

	b.Publish(Event{Kind: KindPushMessage})

	select {
	case evt := <-ch:
		t.Errorf("subscription added to closed group still live: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGroupCloseIdempotent(t *testing.T) {
	var g Group
	calls := 0
	g.Add(func() { calls++ })
	g.Close()
	g.Close()
	if calls != 1 {
		t.Errorf("unsubscribe ran %d times, want 1", calls)
	}
}
