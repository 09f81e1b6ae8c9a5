package sigtransport

import (
	"fmt"
	"strconv"

	"github.com/relaywire/sigtransport/signalpb"
)

// Envelope is the parsed, immutable outer transport frame. Identity is the
// tuple (Source, SourceDevice, Timestamp).
type Envelope struct {
	Type          signalpb.EnvelopeType
	Source        string
	SourceDevice  uint32
	Timestamp     uint64
	ReceivedAt    uint64
	Content       []byte
	LegacyMessage []byte
}

// ParseEnvelope decodes a protobuf-encoded Envelope off the wire.
func ParseEnvelope(buf []byte, receivedAt uint64) (*Envelope, error) {
	pb, err := signalpb.UnmarshalEnvelope(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &Envelope{
		Type:          pb.Type,
		Source:        pb.Source,
		SourceDevice:  pb.SourceDevice,
		Timestamp:     pb.Timestamp,
		ReceivedAt:    receivedAt,
		Content:       pb.Content,
		LegacyMessage: pb.LegacyMessage,
	}, nil
}

// ID returns the envelope-identity cache key, "{source}.{sourceDevice} {timestamp}".
func (e *Envelope) ID() string {
	return envelopeID(e.Source, e.SourceDevice, e.Timestamp)
}

func envelopeID(source string, device uint32, timestamp uint64) string {
	return source + "." + strconv.FormatUint(uint64(device), 10) + " " + strconv.FormatUint(timestamp, 10)
}

// UnprocessedItem is the durable, at-least-once cache record for one
// envelope awaiting dispatch.
type UnprocessedItem struct {
	IDStr     string
	Version   int
	Envelope  []byte // raw protobuf bytes as received
	Decrypted []byte // populated once session decryption has succeeded
	Timestamp uint64
	Attempts  uint
}

// ID returns the cache key for this item.
func (u *UnprocessedItem) ID() string { return u.IDStr }

// DeviceCiphertext is the wire shape posted to the server, one per device.
type DeviceCiphertext struct {
	Type                      uint8  `json:"type"`
	DestinationDeviceID       uint32 `json:"destinationDeviceId"`
	DestinationRegistrationID uint32 `json:"destinationRegistrationId"`
	Content                   string `json:"content"` // base64
}

// OutgoingBatch tracks the in-flight fan-out of one logical send across
// multiple recipient numbers. It is destroyed after the final callback
// fires.
type OutgoingBatch struct {
	Timestamp         uint64
	Numbers           []string
	Content           []byte // encoded signalpb.Content, pre-padding
	Silent            bool
	numbersCompleted  int
	SuccessfulNumbers []string
	Errors            []error
	callback          func(*OutgoingBatch)
}

func (b *OutgoingBatch) numberCompleted() bool {
	b.numbersCompleted++
	return b.numbersCompleted == len(b.Numbers)
}

// SocketState enumerates the WebSocket lifecycle state, per spec §3.
type SocketState int32

const (
	SocketDisconnected SocketState = iota
	SocketConnecting
	SocketOpen
	SocketClosing
	SocketClosed
)

func (s SocketState) String() string {
	switch s {
	case SocketDisconnected:
		return "disconnected"
	case SocketConnecting:
		return "connecting"
	case SocketOpen:
		return "open"
	case SocketClosing:
		return "closing"
	case SocketClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close codes used by the push socket.
const (
	CloseCodeUserInitiated = 3000
	CloseCodeQueueDrained  = 3001
)
