package sigtransport

import "context"

// SessionAddress identifies one device belonging to one recipient number.
// Held by the external Store; the engine only ever addresses sessions
// through it.
type SessionAddress struct {
	Number   string
	DeviceID uint32
}

// PreKeyBundle is the key material returned by Server.GetKeysForNumber,
// sufficient to bootstrap a new session via SessionBuilder.
type PreKeyBundle struct {
	DeviceID       uint32
	RegistrationID uint32
	IdentityKey    []byte
	PreKey         []byte
	SignedPreKey   []byte
}

// KeyBundleResponse is the decoded response of a key fetch.
type KeyBundleResponse struct {
	IdentityKey []byte
	Devices     []PreKeyBundle
}

// SessionBuilder bootstraps a new session from pre-key material. It is
// provided by the external ratchet implementation (out of scope here).
type SessionBuilder interface {
	ProcessPreKey(ctx context.Context, addr SessionAddress, bundle PreKeyBundle) error
}

// SessionCipher performs the actual Double Ratchet encrypt/decrypt
// operations for one session address. Provided externally.
type SessionCipher interface {
	Encrypt(ctx context.Context, addr SessionAddress, padded []byte) (ciphertextType uint8, ciphertext []byte, err error)
	DecryptWhisperMessage(ctx context.Context, addr SessionAddress, ciphertext []byte) ([]byte, error)
	DecryptPreKeyWhisperMessage(ctx context.Context, addr SessionAddress, ciphertext []byte) ([]byte, error)
	HasOpenSession(ctx context.Context, addr SessionAddress) (bool, error)
	CloseOpenSessionForDevice(ctx context.Context, addr SessionAddress) error
	DeleteAllSessionsForDevice(ctx context.Context, addr SessionAddress) error
}

// SessionCipherFactory builds a SessionCipher for one address. unlimited is
// set when sending to or receiving from one of the local account's own
// devices (self-sync), which relaxes the message-keys retention limit.
type SessionCipherFactory func(addr SessionAddress, unlimited bool) SessionCipher

// Group is the locally mirrored view of a Signal group.
type Group struct {
	ID      []byte
	Numbers []string
}

// Store is the persistent identity/session/pre-key/cache contract. It is
// provided by the caller; the engine never persists state of its own beyond
// what Store exposes. All methods are safe for concurrent use and must
// serialize their own writes.
type Store interface {
	// Identity / sessions.
	GetDeviceIDs(ctx context.Context, number string) ([]uint32, error)
	RemoveSession(ctx context.Context, addr SessionAddress) error
	UserGetNumber(ctx context.Context) (string, error)
	UserGetDeviceID(ctx context.Context) (uint32, error)

	// Unprocessed cache.
	AddUnprocessed(ctx context.Context, item *UnprocessedItem) error
	UpdateUnprocessed(ctx context.Context, item *UnprocessedItem) error
	GetUnprocessed(ctx context.Context, id string) (*UnprocessedItem, error)
	GetAllUnprocessed(ctx context.Context) ([]*UnprocessedItem, error)
	CountUnprocessed(ctx context.Context) (int, error)
	RemoveUnprocessed(ctx context.Context, id string) error
	RemoveAllUnprocessed(ctx context.Context) error

	// Groups.
	GroupsGetGroup(ctx context.Context, id []byte) (*Group, error)
	GroupsGetNumbers(ctx context.Context, id []byte) ([]string, error)
	GroupsCreateNewGroup(ctx context.Context, members []string, id []byte) error
	GroupsUpdateNumbers(ctx context.Context, id []byte, members []string) error
	GroupsRemoveNumber(ctx context.Context, id []byte, number string) error
	GroupsDeleteGroup(ctx context.Context, id []byte) error

	// Preferences, used for "blocked" and "blocked-groups".
	Get(ctx context.Context, key string, def []byte) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// DeviceList409 is the structured body of a 409 send response.
type DeviceList409 struct {
	ExtraDevices   []uint32
	MissingDevices []uint32
}

// DeviceList410 is the structured body of a 410 send response.
type DeviceList410 struct {
	StaleDevices []uint32
}

// SendMessagesResult distinguishes the structured error bodies the server
// uses to drive in-engine recovery from a plain transport failure.
type SendMessagesResult struct {
	StatusCode int
	Body409    *DeviceList409
	Body410    *DeviceList410
}

// MessageSocket is the minimal framed-request surface the socket supervisor
// consumes from a live WebSocket connection to the push endpoint.
type MessageSocket interface {
	ReadFrame(ctx context.Context) (*FramedRequest, error)
	WriteKeepAlive(ctx context.Context) error
	Close(code int, reason string) error
}

// FramedRequest is one message-socket frame: verb/path/body plus a respond
// callback that writes the HTTP-style ack back over the socket.
type FramedRequest struct {
	Verb string
	Path string
	Body []byte
	// Respond acknowledges the frame with an HTTP-style status and reason.
	Respond func(ctx context.Context, status int, reason string) error
}

// Server is the contract for HTTP/WS calls to the Signal service.
type Server interface {
	GetMessageSocket(ctx context.Context) (MessageSocket, error)
	GetKeysForNumber(ctx context.Context, number string, deviceID *uint32) (*KeyBundleResponse, error)
	SendMessages(ctx context.Context, number string, batch []DeviceCiphertext, timestamp uint64, silent bool) (*SendMessagesResult, error)
	GetAttachment(ctx context.Context, id uint64) ([]byte, error)
	GetDevices(ctx context.Context, number string) error
}
