package sigtransport

import (
	"context"
	"fmt"

	"github.com/relaywire/sigtransport/signalpb"
)

// processDecrypted normalizes a decoded DataMessage: flag handling, group
// reconciliation against the Store, and attachment scheduling (spec §4.6).
func (r *Receiver) processDecrypted(ctx context.Context, env *Envelope, dm *signalpb.DataMessage) (*signalpb.DataMessage, error) {
	if signalpb.HasUnknownFlags(dm.Flags) {
		return nil, ErrUnknownFlags
	}

	if dm.Flags&signalpb.FlagEndSession != 0 {
		dm.Body = ""
		dm.Attachments = nil
		dm.Group = nil
		return dm, nil
	}
	if dm.Flags&(signalpb.FlagExpirationTimerUpdate|signalpb.FlagProfileKeyUpdate) != 0 {
		dm.Body = ""
		dm.Attachments = nil
	}

	if dm.Group != nil {
		if err := r.reconcileGroup(ctx, env, dm); err != nil {
			return nil, err
		}
	}

	for _, a := range dm.Attachments {
		if _, err := r.server.GetAttachment(ctx, a.ID); err != nil {
			return nil, fmt.Errorf("sigtransport: attachment %d: %w", a.ID, err)
		}
	}
	if dm.Group != nil && dm.Group.Avatar != nil {
		if _, err := r.server.GetAttachment(ctx, dm.Group.Avatar.ID); err != nil {
			r.log.Warn().Err(err).Uint64("id", dm.Group.Avatar.ID).Msg("group avatar fetch failed, ignoring")
		}
	}
	for _, a := range dm.ContactAvatarAttachments {
		if _, err := r.server.GetAttachment(ctx, a.ID); err != nil {
			r.log.Warn().Err(err).Uint64("id", a.ID).Msg("contact avatar fetch failed, ignoring")
		}
	}

	return dm, nil
}

// reconcileGroup applies group membership changes mirrored from the server
// sync stream against the Store (spec §4.6 group reconciliation).
func (r *Receiver) reconcileGroup(ctx context.Context, env *Envelope, dm *signalpb.DataMessage) error {
	g := dm.Group
	existing, err := r.store.GroupsGetNumbers(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("sigtransport: group lookup: %w", err)
	}

	// Spec §4.6: if the group is absent and this isn't an UPDATE, treat it
	// as a first sighting with members=[source] before applying the
	// type-specific handling below, which then sees a non-nil roster.
	if existing == nil && g.Type != signalpb.GroupUpdate {
		if err := r.store.GroupsCreateNewGroup(ctx, []string{env.Source}, g.ID); err != nil {
			return fmt.Errorf("sigtransport: create group on first sighting: %w", err)
		}
		r.log.Warn().Str("source", env.Source).Int32("type", int32(g.Type)).Msg("group message for unknown group, treating as first sighting")
		existing = []string{env.Source}
	}

	switch g.Type {
	case signalpb.GroupUpdate:
		if existing == nil {
			if err := r.store.GroupsCreateNewGroup(ctx, g.Members, g.ID); err != nil {
				return fmt.Errorf("sigtransport: create group: %w", err)
			}
		} else if err := r.store.GroupsUpdateNumbers(ctx, g.ID, g.Members); err != nil {
			return fmt.Errorf("sigtransport: update group: %w", err)
		}

	case signalpb.GroupQuit:
		if env.Source == r.localNumber {
			if err := r.store.GroupsDeleteGroup(ctx, g.ID); err != nil {
				return fmt.Errorf("sigtransport: delete group: %w", err)
			}
		} else if err := r.store.GroupsRemoveNumber(ctx, g.ID, env.Source); err != nil {
			return fmt.Errorf("sigtransport: remove group member: %w", err)
		}
		dm.Body = ""
		dm.Attachments = nil

	case signalpb.GroupDeliver:
		g.Name = ""
		g.Members = nil
		g.Avatar = nil

	default:
		_ = r.cache.Remove(ctx, env.ID())
		return fmt.Errorf("sigtransport: unknown group type %d", g.Type)
	}

	return nil
}

// handleSyncMessage validates the sync-message source and dispatches by the
// first populated field, in the fixed priority order of spec §4.5.
func (r *Receiver) handleSyncMessage(ctx context.Context, env *Envelope, confirm ConfirmFunc, sm *signalpb.SyncMessage) error {
	if env.Source != r.localNumber || env.SourceDevice == r.localDeviceID {
		_ = r.cache.Remove(ctx, env.ID())
		return fmt.Errorf("%w: sync message from unauthorized source", ErrMalformedEnvelope)
	}

	switch {
	case sm.Sent != nil:
		return r.handleSentMessage(ctx, confirm, sm.Sent)
	case sm.Contacts != nil:
		if r.events != nil && r.events.OnContactSync != nil {
			r.events.OnContactSync(ContactSyncEvent{Blob: sm.Contacts.Blob, Confirm: confirm})
		}
		return nil
	case sm.Groups != nil:
		if r.events != nil && r.events.OnGroupSync != nil {
			r.events.OnGroupSync(GroupSyncEvent{Blob: sm.Groups.Blob, Confirm: confirm})
		}
		return nil
	case sm.Blocked != nil:
		return r.applyBlocked(ctx, confirm, sm.Blocked)
	case sm.Request != nil:
		confirm()
		return nil
	case len(sm.Read) > 0:
		if r.events != nil && r.events.OnReadSync != nil {
			r.events.OnReadSync(ReadSyncEvent{Reads: sm.Read, Confirm: confirm})
		}
		return nil
	case sm.Verified != nil:
		if r.events != nil && r.events.OnVerified != nil {
			r.events.OnVerified(VerifiedEvent{Destination: sm.Verified.Destination, IdentityKey: sm.Verified.IdentityKey, Confirm: confirm})
		}
		return nil
	case sm.Configuration != nil:
		if r.events != nil && r.events.OnConfiguration != nil {
			r.events.OnConfiguration(ConfigurationEvent{ReadReceipts: sm.Configuration.ReadReceipts, Confirm: confirm})
		}
		return nil
	default:
		confirm()
		return nil
	}
}

func (r *Receiver) applyBlocked(ctx context.Context, confirm ConfirmFunc, b *signalpb.SyncBlocked) error {
	buf, err := jsonMarshalStrings(b.Numbers)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, "blocked", buf); err != nil {
		return fmt.Errorf("sigtransport: persist blocked list: %w", err)
	}
	confirm()
	return nil
}

// handleSentMessage mirrors handleDataMessage for a self-sent sync mirror:
// it shares the same normalization path but emits "sent" rather than
// "message" and carries a destination plus optional expiration timestamp.
func (r *Receiver) handleSentMessage(ctx context.Context, confirm ConfirmFunc, sent *signalpb.SyncSentMessage) error {
	if sent.Message == nil {
		confirm()
		return nil
	}

	env := &Envelope{Source: r.localNumber, SourceDevice: r.localDeviceID, Timestamp: sent.Timestamp}
	normalized, err := r.processDecrypted(ctx, env, sent.Message)
	if err != nil {
		return err
	}

	if r.events != nil && r.events.OnSent != nil {
		r.events.OnSent(SentEvent{
			Destination:              sent.Destination,
			Timestamp:                sent.Timestamp,
			Message:                  normalized,
			ExpirationStartTimestamp: sent.ExpirationStartTimestamp,
			Confirm:                  confirm,
		})
	}
	return nil
}
