package bus

import (
	"testing"
	"time"
)

func TestEmitStampsEvent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("archive.", 10)
	defer unsub()

	before := time.Now()
	b.Emit(KindArchiveSaved, "1_g1")

	select {
	case evt := <-ch:
		if evt.Kind != KindArchiveSaved {
			t.Errorf("got kind %q, want %s", evt.Kind, KindArchiveSaved)
		}
		if evt.Timestamp.Before(before) {
			t.Error("event timestamp precedes Emit call")
		}
		if evt.Payload != "1_g1" {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	b.Emit(KindProgress, nil)
	b.Emit(KindWAMessage, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindWAMessage {
			t.Errorf("got kind %q, want %s", evt.Kind, KindWAMessage)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("progress.", 10)
	unsub()

	b.Emit(KindProgress, "x")

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("progress.", 1)
	defer unsub()

	b.Emit(KindProgress, 1)
	// Dropped: the buffer is full.
	b.Emit(KindProgress, 2)

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("got payload %v, want 1", evt.Payload)
	}
	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	b := New()
	_, unsubA := b.Subscribe("wa.", 1)
	chB, unsubB := b.Subscribe("wa.", 1)
	defer unsubB()

	unsubA()
	unsubA()
	b.Emit(KindWAMessage, nil)

	select {
	case <-chB:
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber missed the event")
	}
	if b.Dropped() != 0 {
		t.Errorf("Dropped() = %d after delivering to every subscriber", b.Dropped())
	}
}

func TestNilBusIsSilent(t *testing.T) {
	var b *Bus
	b.Emit(KindArchiveSaved, nil)
	if b.Dropped() != 0 {
		t.Error("nil bus reported drops")
	}
}
