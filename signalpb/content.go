package signalpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// GroupContext.Type values.
type GroupType int32

const (
	GroupUnknown GroupType = 0
	GroupUpdate  GroupType = 1
	GroupDeliver GroupType = 2
	GroupQuit    GroupType = 3
)

// GroupContext carries group routing and membership metadata on a
// DataMessage.
type GroupContext struct {
	ID      []byte
	Type    GroupType
	Name    string
	Members []string
	Avatar  *AttachmentPointer
}

// AttachmentPointer is the minimal subset of the attachment schema the
// engine needs to schedule a fetch; the byte payload itself is fetched and
// decrypted by the external attachment subsystem (spec §1).
type AttachmentPointer struct {
	ID          uint64
	ContentType string
	Key         []byte
	Size        uint32
}

// Quote is the minimal quoted-message reference carried on a DataMessage.
type Quote struct {
	ID     int64
	Author string
}

// DataMessage flag bits (spec §4.6 / §9 — genuine bitwise flags, not an
// enum).
const (
	FlagEndSession            uint32 = 1 << 0
	FlagExpirationTimerUpdate uint32 = 1 << 1
	FlagProfileKeyUpdate      uint32 = 1 << 2
	knownFlagsMask            uint32 = FlagEndSession | FlagExpirationTimerUpdate | FlagProfileKeyUpdate
)

// DataMessage is the user-visible message variant of Content.
type DataMessage struct {
	Body                     string
	Attachments              []*AttachmentPointer
	Group                    *GroupContext
	Flags                    uint32
	ExpireTimer              uint32
	ProfileKey               []byte
	Quote                    *Quote
	ContactAvatarAttachments []*AttachmentPointer
}

// SyncMessage variants; exactly one field is populated per §4.5.
type SyncMessage struct {
	Sent          *SyncSentMessage
	Contacts      *SyncContacts
	Groups        *SyncGroups
	Blocked       *SyncBlocked
	Request       *SyncRequest
	Read          []*SyncRead
	Verified      *SyncVerified
	Configuration *SyncConfiguration
}

type SyncSentMessage struct {
	Destination              string
	Timestamp                uint64
	Message                  *DataMessage
	ExpirationStartTimestamp uint64
}

type SyncContacts struct {
	Blob []byte // encrypted attachment pointer payload, opaque to the engine
}

type SyncGroups struct {
	Blob []byte
}

type SyncBlocked struct {
	Numbers []string
	GroupIDs [][]byte
}

type SyncRequestType int32

const (
	SyncRequestUnknown  SyncRequestType = 0
	SyncRequestContacts SyncRequestType = 1
	SyncRequestGroups   SyncRequestType = 2
	SyncRequestBlocked  SyncRequestType = 3
)

type SyncRequest struct {
	Type SyncRequestType
}

type SyncRead struct {
	Sender    string
	Timestamp uint64
}

type SyncVerified struct {
	Destination string
	IdentityKey []byte
}

type SyncConfiguration struct {
	ReadReceipts bool
}

// ReceiptMessage, NullMessage and CallMessage are thin marker types; the
// engine only needs to detect their presence, not their full payload.
type ReceiptMessage struct {
	Timestamps []uint64
}

type NullMessage struct{}

type CallMessage struct {
	Kind string
}

// Content is the inner, decrypted discriminated union. Exactly one of the
// message variants is set per §4.5 (innerHandleContentMessage).
type Content struct {
	DataMessage    *DataMessage
	SyncMessage    *SyncMessage
	NullMessage    *NullMessage
	CallMessage    *CallMessage
	ReceiptMessage *ReceiptMessage
}

const (
	contentFieldDataMessage    = 1
	contentFieldSyncMessage    = 2
	contentFieldCallMessage    = 3
	contentFieldNullMessage    = 4
	contentFieldReceiptMessage = 5
)

// Marshal encodes Content to protobuf wire bytes.
func (c *Content) Marshal() []byte {
	var b []byte
	if c.DataMessage != nil {
		b = protowire.AppendTag(b, contentFieldDataMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalDataMessage(c.DataMessage))
	}
	if c.SyncMessage != nil {
		b = protowire.AppendTag(b, contentFieldSyncMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalSyncMessage(c.SyncMessage))
	}
	if c.CallMessage != nil {
		b = protowire.AppendTag(b, contentFieldCallMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(c.CallMessage.Kind))
	}
	if c.NullMessage != nil {
		b = protowire.AppendTag(b, contentFieldNullMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, nil)
	}
	if c.ReceiptMessage != nil {
		b = protowire.AppendTag(b, contentFieldReceiptMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalReceiptMessage(c.ReceiptMessage))
	}
	return b
}

// UnmarshalContent decodes protobuf wire bytes into Content.
func UnmarshalContent(buf []byte) (*Content, error) {
	c := &Content{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid content tag")
		}
		buf = buf[n:]

		switch num {
		case contentFieldDataMessage:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid content.dataMessage")
			}
			dm, err := unmarshalDataMessage(v)
			if err != nil {
				return nil, err
			}
			c.DataMessage = dm
			buf = buf[n:]
		case contentFieldSyncMessage:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid content.syncMessage")
			}
			sm, err := unmarshalSyncMessage(v)
			if err != nil {
				return nil, err
			}
			c.SyncMessage = sm
			buf = buf[n:]
		case contentFieldCallMessage:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid content.callMessage")
			}
			c.CallMessage = &CallMessage{Kind: string(v)}
			buf = buf[n:]
		case contentFieldNullMessage:
			_, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid content.nullMessage")
			}
			c.NullMessage = &NullMessage{}
			buf = buf[n:]
		case contentFieldReceiptMessage:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid content.receiptMessage")
			}
			rm, err := unmarshalReceiptMessage(v)
			if err != nil {
				return nil, err
			}
			c.ReceiptMessage = rm
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid content field %d", num)
			}
			buf = buf[n:]
		}
	}
	return c, nil
}

const (
	dmFieldBody        = 1
	dmFieldAttachments = 2
	dmFieldGroup       = 3
	dmFieldFlags       = 4
	dmFieldExpireTimer = 5
	dmFieldProfileKey  = 6
	dmFieldQuoteID     = 7
	dmFieldQuoteAuthor = 8
)

func marshalDataMessage(m *DataMessage) []byte {
	var b []byte
	if m.Body != "" {
		b = protowire.AppendTag(b, dmFieldBody, protowire.BytesType)
		b = protowire.AppendString(b, m.Body)
	}
	for _, a := range m.Attachments {
		b = protowire.AppendTag(b, dmFieldAttachments, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalAttachment(a))
	}
	if m.Group != nil {
		b = protowire.AppendTag(b, dmFieldGroup, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalGroup(m.Group))
	}
	if m.Flags != 0 {
		b = protowire.AppendTag(b, dmFieldFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Flags))
	}
	if m.ExpireTimer != 0 {
		b = protowire.AppendTag(b, dmFieldExpireTimer, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ExpireTimer))
	}
	if len(m.ProfileKey) > 0 {
		b = protowire.AppendTag(b, dmFieldProfileKey, protowire.BytesType)
		b = protowire.AppendBytes(b, m.ProfileKey)
	}
	if m.Quote != nil {
		b = protowire.AppendTag(b, dmFieldQuoteID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Quote.ID))
		b = protowire.AppendTag(b, dmFieldQuoteAuthor, protowire.BytesType)
		b = protowire.AppendString(b, m.Quote.Author)
	}
	return b
}

func unmarshalDataMessage(buf []byte) (*DataMessage, error) {
	m := &DataMessage{}
	var quoteID int64
	var quoteAuthor string
	var haveQuote bool
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid dataMessage tag")
		}
		buf = buf[n:]
		switch num {
		case dmFieldBody:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid dataMessage.body")
			}
			m.Body = string(v)
			buf = buf[n:]
		case dmFieldAttachments:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid dataMessage.attachments")
			}
			a, err := unmarshalAttachment(v)
			if err != nil {
				return nil, err
			}
			m.Attachments = append(m.Attachments, a)
			buf = buf[n:]
		case dmFieldGroup:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid dataMessage.group")
			}
			g, err := unmarshalGroup(v)
			if err != nil {
				return nil, err
			}
			m.Group = g
			buf = buf[n:]
		case dmFieldFlags:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid dataMessage.flags")
			}
			m.Flags = uint32(v)
			buf = buf[n:]
		case dmFieldExpireTimer:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid dataMessage.expireTimer")
			}
			m.ExpireTimer = uint32(v)
			buf = buf[n:]
		case dmFieldProfileKey:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid dataMessage.profileKey")
			}
			m.ProfileKey = append([]byte(nil), v...)
			buf = buf[n:]
		case dmFieldQuoteID:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid dataMessage.quote.id")
			}
			quoteID = int64(v)
			haveQuote = true
			buf = buf[n:]
		case dmFieldQuoteAuthor:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid dataMessage.quote.author")
			}
			quoteAuthor = string(v)
			haveQuote = true
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid dataMessage field %d", num)
			}
			buf = buf[n:]
		}
	}
	if haveQuote {
		m.Quote = &Quote{ID: quoteID, Author: quoteAuthor}
	}
	return m, nil
}

const (
	attFieldID          = 1
	attFieldContentType = 2
	attFieldKey         = 3
	attFieldSize        = 4
)

func marshalAttachment(a *AttachmentPointer) []byte {
	var b []byte
	b = protowire.AppendTag(b, attFieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, a.ID)
	if a.ContentType != "" {
		b = protowire.AppendTag(b, attFieldContentType, protowire.BytesType)
		b = protowire.AppendString(b, a.ContentType)
	}
	if len(a.Key) > 0 {
		b = protowire.AppendTag(b, attFieldKey, protowire.BytesType)
		b = protowire.AppendBytes(b, a.Key)
	}
	if a.Size != 0 {
		b = protowire.AppendTag(b, attFieldSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Size))
	}
	return b
}

func unmarshalAttachment(buf []byte) (*AttachmentPointer, error) {
	a := &AttachmentPointer{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid attachment tag")
		}
		buf = buf[n:]
		switch num {
		case attFieldID:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid attachment.id")
			}
			a.ID = v
			buf = buf[n:]
		case attFieldContentType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid attachment.contentType")
			}
			a.ContentType = string(v)
			buf = buf[n:]
		case attFieldKey:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid attachment.key")
			}
			a.Key = append([]byte(nil), v...)
			buf = buf[n:]
		case attFieldSize:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid attachment.size")
			}
			a.Size = uint32(v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid attachment field %d", num)
			}
			buf = buf[n:]
		}
	}
	return a, nil
}

const (
	grpFieldID      = 1
	grpFieldType    = 2
	grpFieldName    = 3
	grpFieldMembers = 4
	grpFieldAvatar  = 5
)

func marshalGroup(g *GroupContext) []byte {
	var b []byte
	if len(g.ID) > 0 {
		b = protowire.AppendTag(b, grpFieldID, protowire.BytesType)
		b = protowire.AppendBytes(b, g.ID)
	}
	b = protowire.AppendTag(b, grpFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(g.Type))
	if g.Name != "" {
		b = protowire.AppendTag(b, grpFieldName, protowire.BytesType)
		b = protowire.AppendString(b, g.Name)
	}
	for _, m := range g.Members {
		b = protowire.AppendTag(b, grpFieldMembers, protowire.BytesType)
		b = protowire.AppendString(b, m)
	}
	if g.Avatar != nil {
		b = protowire.AppendTag(b, grpFieldAvatar, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalAttachment(g.Avatar))
	}
	return b
}

func unmarshalGroup(buf []byte) (*GroupContext, error) {
	g := &GroupContext{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid group tag")
		}
		buf = buf[n:]
		switch num {
		case grpFieldID:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid group.id")
			}
			g.ID = append([]byte(nil), v...)
			buf = buf[n:]
		case grpFieldType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid group.type")
			}
			g.Type = GroupType(v)
			buf = buf[n:]
		case grpFieldName:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid group.name")
			}
			g.Name = string(v)
			buf = buf[n:]
		case grpFieldMembers:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid group.members")
			}
			g.Members = append(g.Members, string(v))
			buf = buf[n:]
		case grpFieldAvatar:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid group.avatar")
			}
			a, err := unmarshalAttachment(v)
			if err != nil {
				return nil, err
			}
			g.Avatar = a
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid group field %d", num)
			}
			buf = buf[n:]
		}
	}
	return g, nil
}

const receiptFieldTimestamp = 1

func marshalReceiptMessage(r *ReceiptMessage) []byte {
	var b []byte
	for _, ts := range r.Timestamps {
		b = protowire.AppendTag(b, receiptFieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, ts)
	}
	return b
}

func unmarshalReceiptMessage(buf []byte) (*ReceiptMessage, error) {
	r := &ReceiptMessage{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid receiptMessage tag")
		}
		buf = buf[n:]
		switch num {
		case receiptFieldTimestamp:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid receiptMessage.timestamp")
			}
			r.Timestamps = append(r.Timestamps, v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid receiptMessage field %d", num)
			}
			buf = buf[n:]
		}
	}
	return r, nil
}

const (
	syncFieldSent          = 1
	syncFieldContacts      = 2
	syncFieldGroups        = 3
	syncFieldRequest       = 4
	syncFieldRead          = 5
	syncFieldBlocked       = 6
	syncFieldVerified      = 7
	syncFieldConfiguration = 8
)

func marshalSyncMessage(s *SyncMessage) []byte {
	var b []byte
	if s.Sent != nil {
		b = protowire.AppendTag(b, syncFieldSent, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalSyncSent(s.Sent))
	}
	if s.Contacts != nil {
		b = protowire.AppendTag(b, syncFieldContacts, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Contacts.Blob)
	}
	if s.Groups != nil {
		b = protowire.AppendTag(b, syncFieldGroups, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Groups.Blob)
	}
	if s.Request != nil {
		b = protowire.AppendTag(b, syncFieldRequest, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Request.Type))
	}
	for _, r := range s.Read {
		b = protowire.AppendTag(b, syncFieldRead, protowire.BytesType)
		var rb []byte
		rb = protowire.AppendTag(rb, 1, protowire.BytesType)
		rb = protowire.AppendString(rb, r.Sender)
		rb = protowire.AppendTag(rb, 2, protowire.VarintType)
		rb = protowire.AppendVarint(rb, r.Timestamp)
		b = protowire.AppendBytes(b, rb)
	}
	if s.Blocked != nil {
		b = protowire.AppendTag(b, syncFieldBlocked, protowire.BytesType)
		var bb []byte
		for _, n := range s.Blocked.Numbers {
			bb = protowire.AppendTag(bb, 1, protowire.BytesType)
			bb = protowire.AppendString(bb, n)
		}
		b = protowire.AppendBytes(b, bb)
	}
	if s.Verified != nil {
		b = protowire.AppendTag(b, syncFieldVerified, protowire.BytesType)
		var vb []byte
		vb = protowire.AppendTag(vb, 1, protowire.BytesType)
		vb = protowire.AppendString(vb, s.Verified.Destination)
		b = protowire.AppendBytes(b, vb)
	}
	if s.Configuration != nil {
		b = protowire.AppendTag(b, syncFieldConfiguration, protowire.BytesType)
		var cb []byte
		v := uint64(0)
		if s.Configuration.ReadReceipts {
			v = 1
		}
		cb = protowire.AppendTag(cb, 1, protowire.VarintType)
		cb = protowire.AppendVarint(cb, v)
		b = protowire.AppendBytes(b, cb)
	}
	return b
}

func unmarshalSyncMessage(buf []byte) (*SyncMessage, error) {
	s := &SyncMessage{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid syncMessage tag")
		}
		buf = buf[n:]
		switch num {
		case syncFieldSent:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid syncMessage.sent")
			}
			sent, err := unmarshalSyncSent(v)
			if err != nil {
				return nil, err
			}
			s.Sent = sent
			buf = buf[n:]
		case syncFieldContacts:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid syncMessage.contacts")
			}
			s.Contacts = &SyncContacts{Blob: append([]byte(nil), v...)}
			buf = buf[n:]
		case syncFieldGroups:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid syncMessage.groups")
			}
			s.Groups = &SyncGroups{Blob: append([]byte(nil), v...)}
			buf = buf[n:]
		case syncFieldRequest:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid syncMessage.request")
			}
			s.Request = &SyncRequest{Type: SyncRequestType(v)}
			buf = buf[n:]
		case syncFieldRead:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid syncMessage.read")
			}
			read, err := unmarshalSyncRead(v)
			if err != nil {
				return nil, err
			}
			s.Read = append(s.Read, read)
			buf = buf[n:]
		case syncFieldBlocked:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid syncMessage.blocked")
			}
			blocked, err := unmarshalSyncBlocked(v)
			if err != nil {
				return nil, err
			}
			s.Blocked = blocked
			buf = buf[n:]
		case syncFieldVerified:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid syncMessage.verified")
			}
			s.Verified = &SyncVerified{}
			sub := v
			for len(sub) > 0 {
				num, _, n := protowire.ConsumeTag(sub)
				if n < 0 {
					break
				}
				sub = sub[n:]
				if num == 1 {
					dst, n := protowire.ConsumeBytes(sub)
					if n < 0 {
						break
					}
					s.Verified.Destination = string(dst)
					sub = sub[n:]
				} else {
					break
				}
			}
			buf = buf[n:]
		case syncFieldConfiguration:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid syncMessage.configuration")
			}
			s.Configuration = &SyncConfiguration{}
			sub := v
			for len(sub) > 0 {
				num, _, n := protowire.ConsumeTag(sub)
				if n < 0 {
					break
				}
				sub = sub[n:]
				if num == 1 {
					rr, n := protowire.ConsumeVarint(sub)
					if n < 0 {
						break
					}
					s.Configuration.ReadReceipts = rr != 0
					sub = sub[n:]
				} else {
					break
				}
			}
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid syncMessage field %d", num)
			}
			buf = buf[n:]
		}
	}
	return s, nil
}

func marshalSyncSent(s *SyncSentMessage) []byte {
	var b []byte
	if s.Destination != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, s.Destination)
	}
	if s.Timestamp != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, s.Timestamp)
	}
	if s.Message != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalDataMessage(s.Message))
	}
	if s.ExpirationStartTimestamp != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, s.ExpirationStartTimestamp)
	}
	return b
}

func unmarshalSyncSent(buf []byte) (*SyncSentMessage, error) {
	s := &SyncSentMessage{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid sent tag")
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid sent.destination")
			}
			s.Destination = string(v)
			buf = buf[n:]
		case 2:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid sent.timestamp")
			}
			s.Timestamp = v
			buf = buf[n:]
		case 3:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid sent.message")
			}
			dm, err := unmarshalDataMessage(v)
			if err != nil {
				return nil, err
			}
			s.Message = dm
			buf = buf[n:]
		case 4:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid sent.expirationStartTimestamp")
			}
			s.ExpirationStartTimestamp = v
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid sent field %d", num)
			}
			buf = buf[n:]
		}
	}
	return s, nil
}

func unmarshalSyncRead(buf []byte) (*SyncRead, error) {
	r := &SyncRead{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid read tag")
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid read.sender")
			}
			r.Sender = string(v)
			buf = buf[n:]
		case 2:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid read.timestamp")
			}
			r.Timestamp = v
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid read field %d", num)
			}
			buf = buf[n:]
		}
	}
	return r, nil
}

func unmarshalSyncBlocked(buf []byte) (*SyncBlocked, error) {
	b := &SyncBlocked{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("signalpb: invalid blocked tag")
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid blocked.numbers")
			}
			b.Numbers = append(b.Numbers, string(v))
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("signalpb: invalid blocked field %d", num)
			}
			buf = buf[n:]
		}
	}
	return b, nil
}

// HasUnknownFlags reports whether flags contains any bit outside the known
// set (spec §4.6: any unknown nonzero flag is rejected).
func HasUnknownFlags(flags uint32) bool {
	return flags&^knownFlagsMask != 0
}

// MarshalDataMessageWire encodes a bare DataMessage, used for the legacy
// envelope path where the ciphertext decodes directly to a DataMessage
// rather than a wrapping Content.
func MarshalDataMessageWire(m *DataMessage) []byte { return marshalDataMessage(m) }

// UnmarshalDataMessageWire decodes a bare DataMessage.
func UnmarshalDataMessageWire(buf []byte) (*DataMessage, error) { return unmarshalDataMessage(buf) }
