package signalpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// WebSocketMessage.Type values.
type WebSocketMessageType int32

const (
	WSMessageUnknown  WebSocketMessageType = 0
	WSMessageRequest  WebSocketMessageType = 1
	WSMessageResponse WebSocketMessageType = 2
)

// WebSocketRequestMessage is one framed request carried over the push
// socket (spec §4.5 handleRequest).
type WebSocketRequestMessage struct {
	ID   uint64
	Verb string
	Path string
	Body []byte
}

// WebSocketResponseMessage acknowledges a request by ID.
type WebSocketResponseMessage struct {
	ID      uint64
	Status  uint32
	Message string
}

// WebSocketMessage is the outer frame: exactly one of Request/Response is
// set, selected by Type.
type WebSocketMessage struct {
	Type     WebSocketMessageType
	Request  *WebSocketRequestMessage
	Response *WebSocketResponseMessage
}

const (
	wsmFieldType     = 1
	wsmFieldRequest  = 2
	wsmFieldResponse = 3

	reqFieldVerb = 1
	reqFieldPath = 2
	reqFieldBody = 3
	reqFieldID   = 4

	respFieldID      = 1
	respFieldStatus  = 2
	respFieldMessage = 3
)

func marshalRequest(r *WebSocketRequestMessage) []byte {
	var b []byte
	if r.Verb != "" {
		b = protowire.AppendTag(b, reqFieldVerb, protowire.BytesType)
		b = protowire.AppendString(b, r.Verb)
	}
	if r.Path != "" {
		b = protowire.AppendTag(b, reqFieldPath, protowire.BytesType)
		b = protowire.AppendString(b, r.Path)
	}
	if len(r.Body) > 0 {
		b = protowire.AppendTag(b, reqFieldBody, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Body)
	}
	b = protowire.AppendTag(b, reqFieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.ID)
	return b
}

func unmarshalRequest(buf []byte) (*WebSocketRequestMessage, error) {
	r := &WebSocketRequestMessage{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid ws request tag")
		}
		buf = buf[n:]
		switch num {
		case reqFieldVerb:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws request.verb")
			}
			r.Verb = string(v)
			buf = buf[n:]
		case reqFieldPath:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws request.path")
			}
			r.Path = string(v)
			buf = buf[n:]
		case reqFieldBody:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws request.body")
			}
			r.Body = append([]byte(nil), v...)
			buf = buf[n:]
		case reqFieldID:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws request.id")
			}
			r.ID = v
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws request field %d", num)
			}
			buf = buf[n:]
		}
	}
	return r, nil
}

func marshalResponse(r *WebSocketResponseMessage) []byte {
	var b []byte
	b = protowire.AppendTag(b, respFieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.ID)
	b = protowire.AppendTag(b, respFieldStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Status))
	if r.Message != "" {
		b = protowire.AppendTag(b, respFieldMessage, protowire.BytesType)
		b = protowire.AppendString(b, r.Message)
	}
	return b
}

func unmarshalResponse(buf []byte) (*WebSocketResponseMessage, error) {
	r := &WebSocketResponseMessage{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid ws response tag")
		}
		buf = buf[n:]
		switch num {
		case respFieldID:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws response.id")
			}
			r.ID = v
			buf = buf[n:]
		case respFieldStatus:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws response.status")
			}
			r.Status = uint32(v)
			buf = buf[n:]
		case respFieldMessage:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws response.message")
			}
			r.Message = string(v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws response field %d", num)
			}
			buf = buf[n:]
		}
	}
	return r, nil
}

// Marshal encodes the outer WebSocketMessage frame.
func (m *WebSocketMessage) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, wsmFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	if m.Request != nil {
		b = protowire.AppendTag(b, wsmFieldRequest, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRequest(m.Request))
	}
	if m.Response != nil {
		b = protowire.AppendTag(b, wsmFieldResponse, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalResponse(m.Response))
	}
	return b
}

// UnmarshalWebSocketMessage decodes the outer frame.
func UnmarshalWebSocketMessage(buf []byte) (*WebSocketMessage, error) {
	m := &WebSocketMessage{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid ws message tag")
		}
		buf = buf[n:]
		switch num {
		case wsmFieldType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws message.type")
			}
			m.Type = WebSocketMessageType(v)
			buf = buf[n:]
		case wsmFieldRequest:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws message.request")
			}
			req, err := unmarshalRequest(v)
			if err != nil {
				return nil, err
			}
			m.Request = req
			buf = buf[n:]
		case wsmFieldResponse:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws message.response")
			}
			resp, err := unmarshalResponse(v)
			if err != nil {
				return nil, err
			}
			m.Response = resp
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid ws message field %d", num)
			}
			buf = buf[n:]
		}
	}
	return m, nil
}
