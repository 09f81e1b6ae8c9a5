// Package signalpb provides the wire types this engine decrypts and
// dispatches. In a full deployment these are generated from the Signal
// Service protobuf schema by protoc; that schema is an external contract
// (see spec §6) so this package hand-authors the subset of messages the
// engine actually touches, wire-compatible with the reference field
// numbers, encoded with google.golang.org/protobuf's low-level protowire
// primitives rather than a full generated marshaler.
package signalpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope.Type values, field 1.
type EnvelopeType int32

const (
	EnvelopeUnknown      EnvelopeType = 0
	EnvelopeCiphertext   EnvelopeType = 1
	EnvelopePreKeyBundle EnvelopeType = 3
	EnvelopeReceipt      EnvelopeType = 5
)

// Envelope is the outer transport frame delivered over the push socket.
// Field numbers follow the documented Signal Service Envelope schema.
type Envelope struct {
	Type          EnvelopeType
	Source        string
	SourceDevice  uint32
	Timestamp     uint64
	Content       []byte
	LegacyMessage []byte
	ReceivedAt    uint64 // not on the wire; stamped locally on receipt
}

const (
	envFieldType          = 1
	envFieldSource        = 2
	envFieldSourceDevice  = 7
	envFieldLegacyMessage = 4
	envFieldContent       = 8
	envFieldTimestamp     = 5
)

// Marshal encodes the envelope using protobuf wire format.
func (e *Envelope) Marshal() []byte {
	var b []byte
	if e.Type != EnvelopeUnknown {
		b = protowire.AppendTag(b, envFieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Type))
	}
	if e.Source != "" {
		b = protowire.AppendTag(b, envFieldSource, protowire.BytesType)
		b = protowire.AppendString(b, e.Source)
	}
	if e.SourceDevice != 0 {
		b = protowire.AppendTag(b, envFieldSourceDevice, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.SourceDevice))
	}
	if e.Timestamp != 0 {
		b = protowire.AppendTag(b, envFieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, e.Timestamp)
	}
	if len(e.LegacyMessage) > 0 {
		b = protowire.AppendTag(b, envFieldLegacyMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, e.LegacyMessage)
	}
	if len(e.Content) > 0 {
		b = protowire.AppendTag(b, envFieldContent, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Content)
	}
	return b
}

// UnmarshalEnvelope decodes raw protobuf bytes into an Envelope. Unknown
// fields are skipped, matching protobuf's forward-compatibility rules.
func UnmarshalEnvelope(buf []byte) (*Envelope, error) {
	e := &Envelope{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid envelope tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]

		switch num {
		case envFieldType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid envelope.type")
			}
			e.Type = EnvelopeType(v)
			buf = buf[n:]
		case envFieldSource:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid envelope.source")
			}
			e.Source = string(v)
			buf = buf[n:]
		case envFieldSourceDevice:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid envelope.sourceDevice")
			}
			e.SourceDevice = uint32(v)
			buf = buf[n:]
		case envFieldTimestamp:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid envelope.timestamp")
			}
			e.Timestamp = v
			buf = buf[n:]
		case envFieldLegacyMessage:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid envelope.legacyMessage")
			}
			e.LegacyMessage = append([]byte(nil), v...)
			buf = buf[n:]
		case envFieldContent:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid envelope.content")
			}
			e.Content = append([]byte(nil), v...)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid envelope field %d", num)
			}
			buf = buf[n:]
		}
	}
	return e, nil
}
