package sigtransport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaywire/sigtransport/signalpb"
)

// Scenario 6 (spec §8): tryMessageAgain with sent_at before the 2017-06-01
// cutoff dispatches through the legacy DataMessage path even though the
// plaintext could, in principle, also decode as a Content message.
func TestTryMessageAgainLegacyCutoff(t *testing.T) {
	store := NewMemoryStore("+15550009999", 1)
	cipherFactory := func(addr SessionAddress, unlimited bool) SessionCipher {
		return &passthroughCipher{mu: &sync.Mutex{}, deleted: map[uint32]bool{}}
	}

	received := make(chan MessageEvent, 1)
	events := &Events{
		OnMessage: func(ev MessageEvent) { received <- ev },
	}
	r := newTestReceiver(t, store, cipherFactory, events)

	dm := &signalpb.DataMessage{Body: "legacy retry"}
	padded := Pad(signalpb.MarshalDataMessageWire(dm))

	const sentAt = 1490000000000 // before 2017-06-01T07:00:00Z
	if err := r.TryMessageAgain(context.Background(), "+15550003333.1", padded, sentAt); err != nil {
		t.Fatalf("TryMessageAgain: %v", err)
	}

	select {
	case ev := <-received:
		if ev.Message.Body != "legacy retry" {
			t.Errorf("body = %q, want %q", ev.Message.Body, "legacy retry")
		}
		if ev.Source != "+15550003333" || ev.SourceDevice != 1 {
			t.Errorf("source = %s.%d, want +15550003333.1", ev.Source, ev.SourceDevice)
		}
	case <-time.After(time.Second):
		t.Fatal("message event not delivered")
	}
}

// After the cutoff, a well-formed Content-wrapped DataMessage is dispatched
// through the Content decode path instead of falling back to legacy.
func TestTryMessageAgainContentPath(t *testing.T) {
	store := NewMemoryStore("+15550009999", 1)
	cipherFactory := func(addr SessionAddress, unlimited bool) SessionCipher {
		return &passthroughCipher{mu: &sync.Mutex{}, deleted: map[uint32]bool{}}
	}

	received := make(chan MessageEvent, 1)
	events := &Events{
		OnMessage: func(ev MessageEvent) { received <- ev },
	}
	r := newTestReceiver(t, store, cipherFactory, events)

	content := &signalpb.Content{DataMessage: &signalpb.DataMessage{Body: "content retry"}}
	padded := Pad(content.Marshal())

	const sentAt = 1600000000000 // after 2017-06-01T07:00:00Z
	if err := r.TryMessageAgain(context.Background(), "+15550003333.1", padded, sentAt); err != nil {
		t.Fatalf("TryMessageAgain: %v", err)
	}

	select {
	case ev := <-received:
		if ev.Message.Body != "content retry" {
			t.Errorf("body = %q, want %q", ev.Message.Body, "content retry")
		}
	case <-time.After(time.Second):
		t.Fatal("message event not delivered")
	}
}
