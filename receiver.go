package sigtransport

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaywire/sigtransport/signalpb"
)

// ReceiverConfig collects everything a Receiver needs from its caller. The
// Double Ratchet, the Store, and the Server are all external collaborators
// (spec §1); Receiver only calls through their contracts.
type ReceiverConfig struct {
	Store         Store
	Server        Server
	SignalingKey  *SignalingKey
	CipherFactory SessionCipherFactory
	Events        *Events
	LocalNumber   string
	LocalDeviceID uint32
	// Blocked reports whether source is on the blocked list; defaults to
	// always-false if nil.
	Blocked func(source string) bool
	// Dial opens a new push-socket connection; required.
	Dial Dialer
	// TaskTimeout bounds each serial-chain dispatch task (spec §5). Zero
	// disables the timeout.
	TaskTimeout time.Duration
	Metrics     *Metrics
	Log         zerolog.Logger
}

// Receiver is the Receive Path engine: it owns the socket supervisor, the
// envelope cache, and the serial dispatch chain, and turns inbound
// envelopes into Events.
type Receiver struct {
	store         Store
	server        Server
	signalingKey  *SignalingKey
	cipherFactory SessionCipherFactory
	events        *Events
	localNumber   string
	localDeviceID uint32
	blocked       func(source string) bool

	cache     *EnvelopeCache
	queue     *TaskQueue
	incoming  *IncomingChain
	socket    *SocketSupervisor
	metrics   *Metrics
	log       zerolog.Logger
}

// NewReceiver builds a Receiver. It does not connect or replay the cache;
// call Start for that.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	blocked := cfg.Blocked
	if blocked == nil {
		blocked = func(string) bool { return false }
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	r := &Receiver{
		store:         cfg.Store,
		server:        cfg.Server,
		signalingKey:  cfg.SignalingKey,
		cipherFactory: cfg.CipherFactory,
		events:        cfg.Events,
		localNumber:   cfg.LocalNumber,
		localDeviceID: cfg.LocalDeviceID,
		blocked:       blocked,
		cache:         NewEnvelopeCache(cfg.Store, cfg.Log),
		incoming:      NewIncomingChain(),
		metrics:       metrics,
		log:           cfg.Log.With().Str("component", "receiver").Logger(),
	}
	r.queue = NewTaskQueue(cfg.TaskTimeout, func(count int) {
		r.metrics.queueProgress.Set(float64(count))
		r.events.emitProgress(count)
	}, cfg.Log)
	r.socket = NewSocketSupervisor(cfg.Dial, cfg.Server, cfg.LocalNumber, r.handleRequest, cfg.Events, cfg.Log, metrics)
	return r
}

// Start replays any cached envelopes (if retryCached) and opens the push
// socket.
func (r *Receiver) Start(ctx context.Context, retryCached bool) error {
	if retryCached {
		items, err := r.cache.QueueAllCached(ctx)
		if err != nil {
			return err
		}
		for _, item := range items {
			r.queueCachedItem(ctx, item)
		}
	}
	return r.socket.Connect(ctx)
}

// Shutdown closes the socket and waits for the serial chain to drain.
func (r *Receiver) Shutdown(ctx context.Context) error {
	err := r.socket.Close("called close")
	drained := make(chan struct{})
	r.queue.Drain(ctx, r.incoming, func() { close(drained) })
	select {
	case <-drained:
	case <-ctx.Done():
	}
	return err
}

func (r *Receiver) queueCachedItem(ctx context.Context, item *UnprocessedItem) {
	env, err := ParseEnvelope(item.Envelope, item.Timestamp)
	if err != nil {
		r.events.emitError(err, nil)
		return
	}
	r.queue.Add(ctx, func(ctx context.Context) error {
		return r.handleEnvelope(ctx, env, item)
	})
}

// handleRequest is the socket supervisor's onFrame callback (spec §4.5
// handleRequest).
func (r *Receiver) handleRequest(ctx context.Context, req *FramedRequest) {
	if req.Verb == "PUT" && req.Path == "/api/v1/queue/empty" {
		_ = req.Respond(ctx, 200, "OK")
		r.queue.Drain(ctx, r.incoming, func() { r.events.emitEmpty() })
		return
	}
	if !(req.Verb == "PUT" && req.Path == "/api/v1/message") {
		_ = req.Respond(ctx, 200, "OK")
		return
	}

	wait, done := r.incoming.Next()
	plaintext, err := r.signalingKey.Decrypt(req.Body)
	if err != nil {
		done()
		_ = req.Respond(ctx, 500, "invalid signaling frame")
		r.events.emitError(err, nil)
		return
	}

	env, err := ParseEnvelope(plaintext, uint64(time.Now().UnixMilli()))
	if err != nil {
		done()
		_ = req.Respond(ctx, 500, "invalid envelope")
		r.events.emitError(err, nil)
		return
	}

	if r.blocked(env.Source) {
		done()
		_ = req.Respond(ctx, 200, "OK")
		return
	}

	item, err := r.cache.Add(ctx, env, plaintext)
	if err != nil {
		done()
		_ = req.Respond(ctx, 500, "cache insert failed")
		r.log.Error().Err(err).Str("id", env.ID()).Msg("failed to cache envelope")
		return
	}
	_ = req.Respond(ctx, 200, "OK")
	r.metrics.cacheDepth.Inc()

	go func() {
		<-wait
		done()
		r.queue.Add(ctx, func(ctx context.Context) error {
			return r.handleEnvelope(ctx, env, item)
		})
	}()
}

// handleEnvelope routes one cached envelope by outer type (spec §4.5
// handleEnvelope).
func (r *Receiver) handleEnvelope(ctx context.Context, env *Envelope, item *UnprocessedItem) error {
	confirm := r.cache.confirmFor(item.IDStr)

	if env.Type == signalpb.EnvelopeReceipt {
		r.metrics.cacheDepth.Dec()
		if r.events != nil && r.events.OnDelivery != nil {
			r.events.OnDelivery(DeliveryEvent{
				Timestamp:    env.Timestamp,
				Source:       env.Source,
				SourceDevice: env.SourceDevice,
				Confirm:      confirm,
			})
		}
		return nil
	}

	switch {
	case len(env.Content) > 0:
		plaintext, err := r.decrypt(ctx, env, item, env.Content)
		if err != nil {
			return err
		}
		return r.innerHandleContentMessage(ctx, env, confirm, plaintext)
	case len(env.LegacyMessage) > 0:
		plaintext, err := r.decrypt(ctx, env, item, env.LegacyMessage)
		if err != nil {
			return err
		}
		dm, err := signalpb.UnmarshalDataMessageWire(plaintext)
		if err != nil {
			_ = r.cache.Remove(ctx, item.IDStr)
			return fmt.Errorf("%w: legacy data message: %v", ErrMalformedEnvelope, err)
		}
		return r.handleDataMessage(ctx, env, confirm, dm)
	default:
		_ = r.cache.Remove(ctx, item.IDStr)
		return ErrMalformedEnvelope
	}
}

// decrypt performs ratchet decryption for envelope, reusing item.Decrypted
// if a previous attempt already succeeded (spec §4.5 decrypt / envelope
// cache decrypted-payload upgrade).
func (r *Receiver) decrypt(ctx context.Context, env *Envelope, item *UnprocessedItem, ciphertext []byte) ([]byte, error) {
	if len(item.Decrypted) > 0 {
		return item.Decrypted, nil
	}

	addr := SessionAddress{Number: env.Source, DeviceID: env.SourceDevice}
	unlimited := env.Source == r.localNumber
	cipher := r.cipherFactory(addr, unlimited)

	var padded []byte
	var err error
	switch env.Type {
	case signalpb.EnvelopeCiphertext:
		padded, err = cipher.DecryptWhisperMessage(ctx, addr, ciphertext)
	case signalpb.EnvelopePreKeyBundle:
		padded, err = cipher.DecryptPreKeyWhisperMessage(ctx, addr, ciphertext)
	default:
		return nil, ErrUnknownMessageType
	}
	if err != nil {
		var idErr *unknownIdentityKeyError
		if asUnknownIdentityKey(err, &idErr) {
			ike := &IncomingIdentityKeyError{Address: addr, Ciphertext: ciphertext, IdentityKey: idErr.IdentityKey}
			r.events.emitError(ike, r.cache.confirmFor(item.IDStr))
			return nil, ike
		}
		return nil, fmt.Errorf("sigtransport: decrypt: %w", err)
	}

	plaintext, err := Unpad(padded)
	if err != nil {
		return nil, err
	}
	r.cache.UpdateDecrypted(ctx, item, plaintext)
	return plaintext, nil
}

// innerHandleContentMessage decodes a Content proto and routes it to
// exactly one handler (spec §4.5).
func (r *Receiver) innerHandleContentMessage(ctx context.Context, env *Envelope, confirm ConfirmFunc, plaintext []byte) error {
	content, err := signalpb.UnmarshalContent(plaintext)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch {
	case content.SyncMessage != nil:
		return r.handleSyncMessage(ctx, env, confirm, content.SyncMessage)
	case content.DataMessage != nil:
		return r.handleDataMessage(ctx, env, confirm, content.DataMessage)
	case content.NullMessage != nil:
		confirm()
		return nil
	case content.CallMessage != nil:
		confirm()
		return nil
	case content.ReceiptMessage != nil:
		if r.events != nil && r.events.OnDelivery != nil {
			for _, ts := range content.ReceiptMessage.Timestamps {
				r.events.OnDelivery(DeliveryEvent{Timestamp: ts, Source: env.Source, SourceDevice: env.SourceDevice, Confirm: confirm})
			}
		}
		return nil
	default:
		confirm()
		return ErrUnsupportedContent
	}
}

// handleDataMessage implements END_SESSION handling then normalizes and
// emits the message (spec §4.5 handleDataMessage).
func (r *Receiver) handleDataMessage(ctx context.Context, env *Envelope, confirm ConfirmFunc, dm *signalpb.DataMessage) error {
	if dm.Flags&signalpb.FlagEndSession != 0 {
		if err := r.handleEndSession(ctx, env.Source); err != nil {
			r.log.Warn().Err(err).Str("source", env.Source).Msg("end session cleanup failed")
		}
	}

	normalized, err := r.processDecrypted(ctx, env, dm)
	if err != nil {
		return err
	}

	if r.events != nil && r.events.OnMessage != nil {
		r.events.OnMessage(MessageEvent{
			Source:       env.Source,
			SourceDevice: env.SourceDevice,
			Timestamp:    env.Timestamp,
			Message:      normalized,
			Confirm:      confirm,
		})
	}
	return nil
}

// handleEndSession deletes all session records for every known device of
// number.
func (r *Receiver) handleEndSession(ctx context.Context, number string) error {
	ids, err := r.store.GetDeviceIDs(ctx, number)
	if err != nil {
		return err
	}
	for _, id := range ids {
		addr := SessionAddress{Number: number, DeviceID: id}
		cipher := r.cipherFactory(addr, false)
		if err := cipher.DeleteAllSessionsForDevice(ctx, addr); err != nil {
			r.log.Warn().Err(err).Str("number", number).Uint32("device", id).Msg("failed to delete session")
		}
	}
	return nil
}

// unknownIdentityKeyError is the shape the external ratchet is expected to
// return when decrypt fails because the peer's identity key changed
// without prior TOFU acceptance.
type unknownIdentityKeyError struct {
	IdentityKey []byte
	Err         error
}

func (e *unknownIdentityKeyError) Error() string { return e.Err.Error() }
func (e *unknownIdentityKeyError) Unwrap() error  { return e.Err }

func asUnknownIdentityKey(err error, target **unknownIdentityKeyError) bool {
	for err != nil {
		if ike, ok := err.(*unknownIdentityKeyError); ok {
			*target = ike
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
