package sigtransport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// HTTPError wraps a structured HTTP status code returned by the Server
// contract so the send engine can branch on 404/409/410 without the Server
// interface itself needing typed return values per status.
type HTTPError struct {
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("sigtransport: http %d: %v", e.StatusCode, e.Err)
}
func (e *HTTPError) Unwrap() error { return e.Err }

// identityKeyChangedError is the shape the external ratchet is expected to
// return from ProcessPreKey or Encrypt when the peer's identity key
// changed mid-operation.
type identityKeyChangedError struct {
	IdentityKey []byte
	Err         error
}

func (e *identityKeyChangedError) Error() string { return e.Err.Error() }
func (e *identityKeyChangedError) Unwrap() error { return e.Err }

// SenderConfig collects everything the Send Path needs from its caller.
type SenderConfig struct {
	Store          Store
	Server         Server
	CipherFactory  SessionCipherFactory
	BuilderFactory func(addr SessionAddress) SessionBuilder
	LocalNumber    string
	Metrics        *Metrics
	Log            zerolog.Logger
}

// OutgoingMessage is the Send Path engine: per-recipient, per-device
// fan-out with 409/410/404/identity-key recovery (spec §4.7).
type OutgoingMessage struct {
	store          Store
	server         Server
	cipherFactory  SessionCipherFactory
	builderFactory func(addr SessionAddress) SessionBuilder
	localNumber    string
	metrics        *Metrics
	log            zerolog.Logger
}

// NewOutgoingMessage builds a Send Path engine.
func NewOutgoingMessage(cfg SenderConfig) *OutgoingMessage {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &OutgoingMessage{
		store:          cfg.Store,
		server:         cfg.Server,
		cipherFactory:  cfg.CipherFactory,
		builderFactory: cfg.BuilderFactory,
		localNumber:    cfg.LocalNumber,
		metrics:        metrics,
		log:            cfg.Log.With().Str("component", "outgoing_message").Logger(),
	}
}

// Send fans a single Content payload out to every number in numbers. The
// same content bytes (pre-padding) are encrypted to every device of a
// number within one attempt (spec invariant: no mid-flight mutation).
// callback fires exactly once, when every number has completed.
func (s *OutgoingMessage) Send(ctx context.Context, numbers []string, content []byte, timestamp uint64, silent bool, callback func(*OutgoingBatch)) {
	batch := &OutgoingBatch{
		Timestamp: timestamp,
		Numbers:   append([]string(nil), numbers...),
		Content:   content,
		Silent:    silent,
	}
	var mu sync.Mutex

	batch.callback = callback

	if len(numbers) == 0 {
		if callback != nil {
			callback(batch)
		}
		return
	}

	for _, number := range numbers {
		number := number
		go func() {
			s.sendToNumber(ctx, batch, &mu, number)
		}()
	}
}

func (s *OutgoingMessage) registerResult(batch *OutgoingBatch, mu *sync.Mutex, number string, sendErr error) {
	mu.Lock()
	if sendErr != nil {
		batch.Errors = append(batch.Errors, sendErr)
		s.metrics.sendFailures.Inc()
	} else {
		batch.SuccessfulNumbers = append(batch.SuccessfulNumbers, number)
		s.metrics.sendSuccesses.Inc()
	}
	complete := batch.numberCompleted()
	cb := batch.callback
	mu.Unlock()
	if complete && cb != nil {
		cb(batch)
	}
}

func (s *OutgoingMessage) sendToNumber(ctx context.Context, batch *OutgoingBatch, mu *sync.Mutex, number string) {
	updateDevices, err := s.getStaleDeviceIdsForNumber(ctx, number)
	if err != nil {
		s.registerResult(batch, mu, number, &OutgoingMessageError{Number: number, OriginalContent: batch.Content, Timestamp: batch.Timestamp, Cause: err})
		return
	}
	if err := s.getKeysForNumber(ctx, number, updateDevices, batch); err != nil {
		s.registerResult(batch, mu, number, err)
		return
	}
	s.reloadDevicesAndSend(ctx, batch, mu, number, true)
}

// getStaleDeviceIdsForNumber enumerates devices needing a fresh session:
// every device of number without an open session, or [1] if the number has
// no known devices yet (bootstrap).
func (s *OutgoingMessage) getStaleDeviceIdsForNumber(ctx context.Context, number string) ([]uint32, error) {
	ids, err := s.store.GetDeviceIDs(ctx, number)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []uint32{1}, nil
	}
	stale := []uint32{}
	for _, id := range ids {
		addr := SessionAddress{Number: number, DeviceID: id}
		cipher := s.cipherFactory(addr, number == s.localNumber)
		open, err := cipher.HasOpenSession(ctx, addr)
		if err != nil {
			return nil, err
		}
		if !open {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

// getKeysForNumber fetches pre-key bundles for updateDevices and processes
// each through SessionBuilder. A nil updateDevices means a full refresh:
// fetch every device for number in one call.
func (s *OutgoingMessage) getKeysForNumber(ctx context.Context, number string, updateDevices []uint32, batch *OutgoingBatch) error {
	if updateDevices == nil {
		resp, err := s.server.GetKeysForNumber(ctx, number, nil)
		if err != nil {
			return err
		}
		return s.processBundles(ctx, number, resp, batch)
	}

	for _, id := range updateDevices {
		devID := id
		resp, err := s.server.GetKeysForNumber(ctx, number, &devID)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode == 404 {
				if devID != 1 {
					_ = s.store.RemoveSession(ctx, SessionAddress{Number: number, DeviceID: devID})
					continue
				}
				return &UnregisteredUserError{Number: number, Cause: err}
			}
			return err
		}
		if err := s.processBundles(ctx, number, resp, batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *OutgoingMessage) processBundles(ctx context.Context, number string, resp *KeyBundleResponse, batch *OutgoingBatch) error {
	for _, d := range resp.Devices {
		addr := SessionAddress{Number: number, DeviceID: d.DeviceID}
		builder := s.builderFactory(addr)
		if err := builder.ProcessPreKey(ctx, addr, d); err != nil {
			var ike *identityKeyChangedError
			if errors.As(err, &ike) {
				return &OutgoingIdentityKeyError{Number: number, OriginalContent: batch.Content, Timestamp: batch.Timestamp, IdentityKey: ike.IdentityKey}
			}
			return err
		}
	}
	return nil
}

// reloadDevicesAndSend reloads the canonical device list from Store and
// dispatches doSendMessage; an empty roster is a registered error, not a
// panic (spec §4.7 step 3).
func (s *OutgoingMessage) reloadDevicesAndSend(ctx context.Context, batch *OutgoingBatch, mu *sync.Mutex, number string, recurse bool) {
	ids, err := s.store.GetDeviceIDs(ctx, number)
	if err != nil {
		s.registerResult(batch, mu, number, &OutgoingMessageError{Number: number, OriginalContent: batch.Content, Timestamp: batch.Timestamp, Cause: err})
		return
	}
	if len(ids) == 0 {
		s.registerResult(batch, mu, number, &OutgoingMessageError{Number: number, OriginalContent: batch.Content, Timestamp: batch.Timestamp, Cause: errors.New("empty device list")})
		return
	}
	s.doSendMessage(ctx, batch, mu, number, ids, recurse)
}

func (s *OutgoingMessage) doSendMessage(ctx context.Context, batch *OutgoingBatch, mu *sync.Mutex, number string, deviceIDs []uint32, recurse bool) {
	padded := Pad(batch.Content)

	var devCiphertexts []DeviceCiphertext
	for _, id := range deviceIDs {
		addr := SessionAddress{Number: number, DeviceID: id}
		cipher := s.cipherFactory(addr, number == s.localNumber)
		typ, ct, err := cipher.Encrypt(ctx, addr, padded)
		if err != nil {
			var ike *identityKeyChangedError
			if errors.As(err, &ike) {
				s.registerResult(batch, mu, number, &OutgoingIdentityKeyError{Number: number, OriginalContent: batch.Content, Timestamp: batch.Timestamp, IdentityKey: ike.IdentityKey})
				return
			}
			s.registerResult(batch, mu, number, &OutgoingMessageError{Number: number, OriginalContent: batch.Content, Timestamp: batch.Timestamp, Cause: err})
			return
		}
		devCiphertexts = append(devCiphertexts, DeviceCiphertext{
			Type:                typ,
			DestinationDeviceID: id,
			Content:             base64.StdEncoding.EncodeToString(ct),
		})
	}

	result, err := s.server.SendMessages(ctx, number, devCiphertexts, batch.Timestamp, batch.Silent)
	if err != nil {
		s.registerResult(batch, mu, number, &SendMessageNetworkError{Number: number, Cause: err, Timestamp: batch.Timestamp})
		return
	}

	switch result.StatusCode {
	case 200, 202:
		s.registerResult(batch, mu, number, nil)

	case 409:
		if !recurse {
			s.registerResult(batch, mu, number, &OutgoingMessageError{Number: number, OriginalContent: batch.Content, Timestamp: batch.Timestamp, Cause: errors.New("hit retry limit")})
			return
		}
		for _, d := range result.Body409.ExtraDevices {
			_ = s.store.RemoveSession(ctx, SessionAddress{Number: number, DeviceID: d})
		}
		if err := s.getKeysForNumber(ctx, number, result.Body409.MissingDevices, batch); err != nil {
			s.registerResult(batch, mu, number, err)
			return
		}
		// One further retry permitted, mirroring the source exactly
		// (Design Notes §9): the next recursive call is still recurse=true.
		s.reloadDevicesAndSend(ctx, batch, mu, number, true)

	case 410:
		if !recurse {
			s.registerResult(batch, mu, number, &OutgoingMessageError{Number: number, OriginalContent: batch.Content, Timestamp: batch.Timestamp, Cause: errors.New("hit retry limit")})
			return
		}
		for _, d := range result.Body410.StaleDevices {
			addr := SessionAddress{Number: number, DeviceID: d}
			cipher := s.cipherFactory(addr, number == s.localNumber)
			_ = cipher.CloseOpenSessionForDevice(ctx, addr)
		}
		if err := s.getKeysForNumber(ctx, number, result.Body410.StaleDevices, batch); err != nil {
			s.registerResult(batch, mu, number, err)
			return
		}
		s.reloadDevicesAndSend(ctx, batch, mu, number, false)

	case 404:
		s.registerResult(batch, mu, number, &UnregisteredUserError{Number: number})

	default:
		s.registerResult(batch, mu, number, &OutgoingMessageError{Number: number, OriginalContent: batch.Content, Timestamp: batch.Timestamp, Cause: fmt.Errorf("unexpected status %d", result.StatusCode)})
	}
}
