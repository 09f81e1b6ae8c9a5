package sigtransport

import (
	"context"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
)

func TestQueueAllCachedPurgesOversizedCache(t *testing.T) {
	store := NewMemoryStore("+15550000000", 1)
	ctx := context.Background()
	for i := 0; i < maxCachedOnStartup+1; i++ {
		item := &UnprocessedItem{IDStr: strconv.Itoa(i), Version: 2, Attempts: 1}
		if err := store.AddUnprocessed(ctx, item); err != nil {
			t.Fatalf("seed unprocessed: %v", err)
		}
	}

	cache := NewEnvelopeCache(store, zerolog.Nop())
	items, err := cache.QueueAllCached(ctx)
	if err != nil {
		t.Fatalf("QueueAllCached: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no surviving items after purge, got %d", len(items))
	}
	count, _ := store.CountUnprocessed(ctx)
	if count != 0 {
		t.Fatalf("expected empty cache after purge, got %d items", count)
	}
}

func TestQueueAllCachedDropsExhaustedAttempts(t *testing.T) {
	store := NewMemoryStore("+15550000000", 1)
	ctx := context.Background()

	// attempts=2 -> incremented to 3 -> dropped before dispatch.
	exhausted := &UnprocessedItem{IDStr: "exhausted", Version: 2, Attempts: 2}
	// attempts=1 -> incremented to 2 -> survives.
	surviving := &UnprocessedItem{IDStr: "surviving", Version: 2, Attempts: 1}
	if err := store.AddUnprocessed(ctx, exhausted); err != nil {
		t.Fatal(err)
	}
	if err := store.AddUnprocessed(ctx, surviving); err != nil {
		t.Fatal(err)
	}

	cache := NewEnvelopeCache(store, zerolog.Nop())
	items, err := cache.QueueAllCached(ctx)
	if err != nil {
		t.Fatalf("QueueAllCached: %v", err)
	}
	if len(items) != 1 || items[0].IDStr != "surviving" {
		t.Fatalf("expected only 'surviving' to remain, got %+v", items)
	}
	if items[0].Attempts != 2 {
		t.Fatalf("expected attempts bumped to 2, got %d", items[0].Attempts)
	}
	if _, err := store.GetUnprocessed(ctx, "exhausted"); err == nil {
		t.Fatalf("expected exhausted item to be removed from store")
	}
}
