package sigtransport

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// maxCachedOnStartup mirrors the source's purge threshold: if the cache
// holds more than this many items at startup, the whole cache is dropped
// rather than replayed (spec §4.2).
const maxCachedOnStartup = 250

// maxDispatchAttempts is the attempt count at which an item is dropped
// before its next dispatch runs. The increment happens at load time, so the
// third dispatch never actually executes (Design Notes §9).
const maxDispatchAttempts = 3

// EnvelopeCache wraps the caller's Store with the envelope-identity
// bookkeeping the receive path needs: insert-before-ack, attempt counting,
// and the decrypted-payload upgrade.
type EnvelopeCache struct {
	store Store
	log   zerolog.Logger
}

// NewEnvelopeCache builds a cache wrapper over store.
func NewEnvelopeCache(store Store, log zerolog.Logger) *EnvelopeCache {
	return &EnvelopeCache{store: store, log: log.With().Str("component", "envelope_cache").Logger()}
}

// Add inserts a newly received envelope with attempts=1, version=2.
func (c *EnvelopeCache) Add(ctx context.Context, env *Envelope, raw []byte) (*UnprocessedItem, error) {
	item := &UnprocessedItem{
		IDStr:     env.ID(),
		Version:   2,
		Envelope:  raw,
		Timestamp: env.Timestamp,
		Attempts:  1,
	}
	if err := c.store.AddUnprocessed(ctx, item); err != nil {
		return nil, fmt.Errorf("sigtransport: cache add %s: %w", item.IDStr, err)
	}
	return item, nil
}

// UpdateDecrypted persists the decrypted plaintext on an already-cached item
// so later retries can skip re-decryption. Failure is logged but never
// fatal to the caller's processing (spec §4.5 decrypt).
func (c *EnvelopeCache) UpdateDecrypted(ctx context.Context, item *UnprocessedItem, decrypted []byte) {
	item.Decrypted = decrypted
	if err := c.store.UpdateUnprocessed(ctx, item); err != nil {
		c.log.Warn().Err(err).Str("id", item.IDStr).Msg("failed to persist decrypted payload")
	}
}

// Remove deletes a cache entry. The receive path calls it directly to drop
// envelopes it cannot process; event consumers remove entries only through
// ConfirmFunc closures.
func (c *EnvelopeCache) Remove(ctx context.Context, id string) error {
	return c.store.RemoveUnprocessed(ctx, id)
}

// confirmFor returns a ConfirmFunc closing over id, logging (but not
// surfacing) removal failures — the event has already been delivered by the
// time confirm is invoked.
func (c *EnvelopeCache) confirmFor(id string) ConfirmFunc {
	return func() {
		if err := c.store.RemoveUnprocessed(context.Background(), id); err != nil {
			c.log.Warn().Err(err).Str("id", id).Msg("confirm: failed to remove cache entry")
		}
	}
}

// cachedItemAction is the routing decision queueAllCached makes for one
// surviving item.
type cachedItemAction int

const (
	actionDispatchDecrypted cachedItemAction = iota
	actionDispatchFull
	actionDropped
)

// QueueAllCached implements the startup scan (spec §4.2 / scenario 5): load
// all unprocessed items, purge everything if the count exceeds 250,
// otherwise bump each item's attempt counter and either drop it (attempts
// >= 3) or hand it back to the caller for re-dispatch through the
// appropriate path.
func (c *EnvelopeCache) QueueAllCached(ctx context.Context) ([]*UnprocessedItem, error) {
	items, err := c.store.GetAllUnprocessed(ctx)
	if err != nil {
		return nil, fmt.Errorf("sigtransport: queueAllCached: %w", err)
	}
	if len(items) > maxCachedOnStartup {
		c.log.Warn().Int("count", len(items)).Msg("unprocessed cache exceeds startup limit, purging")
		if err := c.store.RemoveAllUnprocessed(ctx); err != nil {
			return nil, fmt.Errorf("sigtransport: purge cache: %w", err)
		}
		return nil, nil
	}

	var surviving []*UnprocessedItem
	for _, item := range items {
		item.Attempts++
		if item.Attempts >= maxDispatchAttempts {
			if err := c.store.RemoveUnprocessed(ctx, item.IDStr); err != nil {
				c.log.Warn().Err(err).Str("id", item.IDStr).Msg("failed to drop exhausted cache entry")
			}
			continue
		}
		if err := c.store.UpdateUnprocessed(ctx, item); err != nil {
			c.log.Warn().Err(err).Str("id", item.IDStr).Msg("failed to persist bumped attempt count")
		}
		surviving = append(surviving, item)
	}
	return surviving, nil
}
