package sigtransport

import "github.com/relaywire/sigtransport/signalpb"

// ConfirmFunc is the capability handed out with most events: an unforgeable
// token that removes exactly one cache entry. Callers never see the cache
// id directly, only this closure (Design Notes §9).
type ConfirmFunc func()

// MessageEvent is emitted for an inbound DataMessage.
type MessageEvent struct {
	Source       string
	SourceDevice uint32
	Timestamp    uint64
	Message      *signalpb.DataMessage
	Confirm      ConfirmFunc
}

// SentEvent mirrors MessageEvent for sync "sent" mirrors of our own
// outgoing messages.
type SentEvent struct {
	Destination              string
	Timestamp                uint64
	Message                  *signalpb.DataMessage
	ExpirationStartTimestamp uint64
	Confirm                  ConfirmFunc
}

// DeliveryEvent is emitted for RECEIPT envelopes.
type DeliveryEvent struct {
	Timestamp    uint64
	Source       string
	SourceDevice uint32
	Confirm      ConfirmFunc
}

// ReadSyncEvent carries sync "read" receipts.
type ReadSyncEvent struct {
	Reads   []*signalpb.SyncRead
	Confirm ConfirmFunc
}

// ContactSyncEvent/GroupSyncEvent carry opaque attachment-pointer blobs the
// caller is expected to fetch and apply.
type ContactSyncEvent struct {
	Blob    []byte
	Confirm ConfirmFunc
}

type GroupSyncEvent struct {
	Blob    []byte
	Confirm ConfirmFunc
}

// GroupEvent is emitted after group reconciliation (processDecrypted).
type GroupEvent struct {
	Group   *signalpb.GroupContext
	Source  string
	Confirm ConfirmFunc
}

// VerifiedEvent/ConfigurationEvent mirror sync updates.
type VerifiedEvent struct {
	Destination string
	IdentityKey []byte
	Confirm     ConfirmFunc
}

type ConfigurationEvent struct {
	ReadReceipts bool
	Confirm      ConfirmFunc
}

// EmptyEvent fires once the queue has fully drained.
type EmptyEvent struct{}

// ProgressEvent fires every 10 completed tasks in the serial chain.
type ProgressEvent struct {
	Count int
}

// ReconnectEvent fires before a reconnect attempt.
type ReconnectEvent struct{}

// ErrorEvent surfaces a recoverable or fatal processing error. Confirm is
// nil when the item was intentionally left in the cache for retry.
type ErrorEvent struct {
	Err     error
	Confirm ConfirmFunc
}

// Events is the sink a Receiver delivers callbacks to. Unset fields are
// simply not invoked; callers wire only what they need, mirroring the
// source's ad hoc event emitter.
type Events struct {
	OnMessage       func(MessageEvent)
	OnSent          func(SentEvent)
	OnDelivery      func(DeliveryEvent)
	OnReadSync      func(ReadSyncEvent)
	OnContactSync   func(ContactSyncEvent)
	OnGroupSync     func(GroupSyncEvent)
	OnGroup         func(GroupEvent)
	OnVerified      func(VerifiedEvent)
	OnConfiguration func(ConfigurationEvent)
	OnEmpty         func(EmptyEvent)
	OnProgress      func(ProgressEvent)
	OnReconnect     func(ReconnectEvent)
	OnError         func(ErrorEvent)
}

func (e *Events) emitError(err error, confirm ConfirmFunc) {
	if e != nil && e.OnError != nil {
		e.OnError(ErrorEvent{Err: err, Confirm: confirm})
	}
}

func (e *Events) emitEmpty() {
	if e != nil && e.OnEmpty != nil {
		e.OnEmpty(EmptyEvent{})
	}
}

func (e *Events) emitProgress(count int) {
	if e != nil && e.OnProgress != nil {
		e.OnProgress(ProgressEvent{Count: count})
	}
}

func (e *Events) emitReconnect() {
	if e != nil && e.OnReconnect != nil {
		e.OnReconnect(ReconnectEvent{})
	}
}
