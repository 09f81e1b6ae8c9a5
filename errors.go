package sigtransport

import (
	"errors"
	"fmt"
)

// Sentinel errors for envelope- and worker-level failures. Wrapped with
// fmt.Errorf("...: %w", ...) at call sites so errors.Is keeps working.
var (
	ErrUnknownFlags       = errors.New("sigtransport: unknown data message flags")
	ErrMalformedEnvelope  = errors.New("sigtransport: malformed envelope")
	ErrUnsupportedContent = errors.New("sigtransport: unsupported content")
	ErrUnknownMessageType = errors.New("sigtransport: unknown envelope type")
	ErrWorkerTimeout      = errors.New("sigtransport: worker job timed out")
)

// OutgoingMessageError is a generic, retry-eligible send failure for one
// recipient number.
type OutgoingMessageError struct {
	Number          string
	OriginalContent []byte
	Timestamp       uint64
	Cause           error
}

func (e *OutgoingMessageError) Error() string {
	return fmt.Sprintf("sigtransport: send to %s failed: %v", e.Number, e.Cause)
}

func (e *OutgoingMessageError) Unwrap() error { return e.Cause }

// SendMessageNetworkError covers transport failures that don't fit the
// 404/409/410 structured responses.
type SendMessageNetworkError struct {
	Number    string
	JSONBody  []byte
	Timestamp uint64
	Cause     error
}

func (e *SendMessageNetworkError) Error() string {
	return fmt.Sprintf("sigtransport: network error sending to %s: %v", e.Number, e.Cause)
}

func (e *SendMessageNetworkError) Unwrap() error { return e.Cause }

// OutgoingIdentityKeyError reports that a recipient's identity key rotated
// mid-send; only the caller's UI/policy layer can decide to re-negotiate.
type OutgoingIdentityKeyError struct {
	Number          string
	OriginalContent []byte
	Timestamp       uint64
	IdentityKey     []byte
}

func (e *OutgoingIdentityKeyError) Error() string {
	return fmt.Sprintf("sigtransport: identity key changed for %s", e.Number)
}

// IncomingIdentityKeyError reports an inbound peer identity mismatch.
type IncomingIdentityKeyError struct {
	Address     SessionAddress
	Ciphertext  []byte
	IdentityKey []byte
}

func (e *IncomingIdentityKeyError) Error() string {
	return fmt.Sprintf("sigtransport: incoming identity key mismatch for %s.%d", e.Address.Number, e.Address.DeviceID)
}

// UnregisteredUserError reports a 404 from a key fetch or send against a
// recipient device 1, or any other fatal "no such user" response.
type UnregisteredUserError struct {
	Number string
	Cause  error
}

func (e *UnregisteredUserError) Error() string {
	return fmt.Sprintf("sigtransport: unregistered user %s: %v", e.Number, e.Cause)
}

func (e *UnregisteredUserError) Unwrap() error { return e.Cause }
