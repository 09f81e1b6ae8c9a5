package sigtransport

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/relaywire/sigtransport/signalpb"
)

// legacyContentCutoffMs is 2017-06-01T07:00:00Z in epoch milliseconds: the
// calendar boundary the retry negotiator uses to pick a decode strategy
// (spec §4.8, Design Notes §9). Messages sent before this date predate the
// Content protobuf and must be decoded as a bare legacy DataMessage.
const legacyContentCutoffMs = 1496300400000

func noopConfirm() {}

// parseSessionAddress splits a "{number}.{deviceId}" address string as
// used by tryMessageAgain's `from` parameter.
func parseSessionAddress(from string) (SessionAddress, error) {
	i := strings.LastIndexByte(from, '.')
	if i < 0 {
		return SessionAddress{}, fmt.Errorf("sigtransport: malformed session address %q", from)
	}
	deviceID, err := strconv.ParseUint(from[i+1:], 10, 32)
	if err != nil {
		return SessionAddress{}, fmt.Errorf("sigtransport: malformed session address %q: %w", from, err)
	}
	return SessionAddress{Number: from[:i], DeviceID: uint32(deviceID)}, nil
}

// TryMessageAgain re-decrypts ciphertext as a pre-key whisper message after
// a stored identity-key error has been accepted by the caller, choosing the
// legacy DataMessage or Content decode path by sentAt (spec §4.8).
func (r *Receiver) TryMessageAgain(ctx context.Context, from string, ciphertext []byte, sentAt uint64) error {
	addr, err := parseSessionAddress(from)
	if err != nil {
		return err
	}

	cipher := r.cipherFactory(addr, addr.Number == r.localNumber)
	padded, err := cipher.DecryptPreKeyWhisperMessage(ctx, addr, ciphertext)
	if err != nil {
		return fmt.Errorf("sigtransport: retry decrypt: %w", err)
	}
	plaintext, err := Unpad(padded)
	if err != nil {
		return err
	}

	if sentAt < legacyContentCutoffMs {
		return r.emitRetryLegacy(ctx, addr, sentAt, plaintext)
	}

	if content, err := signalpb.UnmarshalContent(plaintext); err == nil && validateRetryContentMessage(content) {
		return r.dispatchRetryContent(ctx, addr, sentAt, content)
	}
	return r.emitRetryLegacy(ctx, addr, sentAt, plaintext)
}

func (r *Receiver) emitRetryLegacy(ctx context.Context, addr SessionAddress, sentAt uint64, plaintext []byte) error {
	dm, err := signalpb.UnmarshalDataMessageWire(plaintext)
	if err != nil {
		return fmt.Errorf("%w: retry legacy decode: %v", ErrMalformedEnvelope, err)
	}
	env := &Envelope{Source: addr.Number, SourceDevice: addr.DeviceID, Timestamp: sentAt}
	return r.handleDataMessage(ctx, env, noopConfirm, dm)
}

func (r *Receiver) dispatchRetryContent(ctx context.Context, addr SessionAddress, sentAt uint64, content *signalpb.Content) error {
	env := &Envelope{Source: addr.Number, SourceDevice: addr.DeviceID, Timestamp: sentAt}
	switch {
	case content.DataMessage != nil:
		return r.handleDataMessage(ctx, env, noopConfirm, content.DataMessage)
	case content.CallMessage != nil, content.NullMessage != nil:
		return nil
	default:
		return ErrUnsupportedContent
	}
}

// validateRetryContentMessage enforces the retry-path content shape: no
// sync message, exactly one of dataMessage/callMessage/nullMessage, and any
// dataMessage must carry at least one meaningful field.
func validateRetryContentMessage(c *signalpb.Content) bool {
	if c.SyncMessage != nil {
		return false
	}
	set := 0
	if c.DataMessage != nil {
		set++
	}
	if c.CallMessage != nil {
		set++
	}
	if c.NullMessage != nil {
		set++
	}
	if set != 1 {
		return false
	}
	if dm := c.DataMessage; dm != nil {
		if len(dm.Attachments) == 0 && dm.Body == "" && dm.ExpireTimer == 0 && dm.Flags == 0 && dm.Group == nil {
			return false
		}
	}
	return true
}
