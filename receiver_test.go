package sigtransport

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaywire/sigtransport/signalpb"
)

// passthroughCipher decrypts by returning the ciphertext unchanged (the
// envelope fixtures below embed already-padded plaintext as "ciphertext"),
// and records DeleteAllSessionsForDevice calls for the end-session scenario.
type passthroughCipher struct {
	mu      *sync.Mutex
	deleted map[uint32]bool
}

func (c *passthroughCipher) Encrypt(ctx context.Context, addr SessionAddress, padded []byte) (uint8, []byte, error) {
	return 1, padded, nil
}
func (c *passthroughCipher) DecryptWhisperMessage(ctx context.Context, addr SessionAddress, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}
func (c *passthroughCipher) DecryptPreKeyWhisperMessage(ctx context.Context, addr SessionAddress, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}
func (c *passthroughCipher) HasOpenSession(ctx context.Context, addr SessionAddress) (bool, error) {
	return true, nil
}
func (c *passthroughCipher) CloseOpenSessionForDevice(ctx context.Context, addr SessionAddress) error {
	return nil
}
func (c *passthroughCipher) DeleteAllSessionsForDevice(ctx context.Context, addr SessionAddress) error {
	c.mu.Lock()
	c.deleted[addr.DeviceID] = true
	c.mu.Unlock()
	return nil
}

// noAttachmentServer is a Server stub sufficient for receive-path tests that
// never touch attachments or the socket.
type noAttachmentServer struct{}

func (noAttachmentServer) GetMessageSocket(ctx context.Context) (MessageSocket, error) {
	return nil, nil
}
func (noAttachmentServer) GetKeysForNumber(ctx context.Context, number string, deviceID *uint32) (*KeyBundleResponse, error) {
	return nil, nil
}
func (noAttachmentServer) SendMessages(ctx context.Context, number string, batch []DeviceCiphertext, timestamp uint64, silent bool) (*SendMessagesResult, error) {
	return nil, nil
}
func (noAttachmentServer) GetAttachment(ctx context.Context, id uint64) ([]byte, error) {
	return nil, nil
}
func (noAttachmentServer) GetDevices(ctx context.Context, number string) error { return nil }

func newTestReceiver(t *testing.T, store Store, cipherFactory SessionCipherFactory, events *Events) *Receiver {
	t.Helper()
	return NewReceiver(ReceiverConfig{
		Store:         store,
		Server:        noAttachmentServer{},
		SignalingKey:  testSignalingKey(t),
		CipherFactory: cipherFactory,
		Events:        events,
		LocalNumber:   "+15550009999",
		LocalDeviceID: 1,
		Dial:          func(ctx context.Context) (MessageSocket, error) { return nil, nil },
		Log:           zerolog.Nop(),
	})
}

func testSignalingKey(t *testing.T) *SignalingKey {
	t.Helper()
	key := make([]byte, 52)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	sk, err := NewSignalingKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return sk
}

// encryptFrame produces a signaling-key-framed payload matching the format
// SignalingKey.Decrypt expects: version byte | IV | AES-CBC ciphertext |
// truncated HMAC-SHA256, over the raw envelope bytes.
func encryptFrame(t *testing.T, sk *SignalingKey, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(sk.aesKey)
	if err != nil {
		t.Fatal(err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatal(err)
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	body := append([]byte{1}, iv...)
	body = append(body, ciphertext...)

	mac := hmac.New(sha256.New, sk.macKey)
	mac.Write(body)
	tag := mac.Sum(nil)[:signalingMACLen]
	return append(body, tag...)
}

func pkcs7Pad(buf []byte, blockSize int) []byte {
	padLen := blockSize - len(buf)%blockSize
	out := append([]byte(nil), buf...)
	for i := 0; i < padLen; i++ {
		out = append(out, byte(padLen))
	}
	return out
}

// Scenario 3 (spec §8): an inbound DataMessage with flags=END_SESSION
// deletes every known session for the source, then emits a message event
// with body/attachments/group all cleared.
func TestHandleDataMessageEndSession(t *testing.T) {
	store := NewMemoryStore("+15550009999", 1)
	store.SetDeviceIDs("+15550002222", []uint32{1, 2, 3})

	cipherState := &passthroughCipher{mu: &sync.Mutex{}, deleted: map[uint32]bool{}}
	cipherFactory := func(addr SessionAddress, unlimited bool) SessionCipher { return cipherState }

	var got MessageEvent
	received := make(chan struct{})
	events := &Events{
		OnMessage: func(ev MessageEvent) {
			got = ev
			close(received)
		},
	}

	r := newTestReceiver(t, store, cipherFactory, events)

	env := &Envelope{Source: "+15550002222", SourceDevice: 1, Timestamp: 1000}
	dm := &signalpb.DataMessage{
		Body:  "goodbye",
		Flags: signalpb.FlagEndSession,
		Attachments: []*signalpb.AttachmentPointer{
			{ID: 1},
		},
	}

	if err := r.handleDataMessage(context.Background(), env, func() {}, dm); err != nil {
		t.Fatalf("handleDataMessage: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("message event not delivered")
	}

	for _, id := range []uint32{1, 2, 3} {
		if !cipherState.deleted[id] {
			t.Errorf("expected DeleteAllSessionsForDevice for device %d", id)
		}
	}
	if got.Message.Body != "" {
		t.Errorf("body = %q, want empty", got.Message.Body)
	}
	if len(got.Message.Attachments) != 0 {
		t.Errorf("attachments = %v, want empty", got.Message.Attachments)
	}
	if got.Message.Group != nil {
		t.Errorf("group = %v, want nil", got.Message.Group)
	}
}

// Scenario 4 (spec §8): three messages arrive in order, followed by a
// queue-empty signal. Dispatch order must match arrival order, and the
// empty event must fire strictly after all three messages. The progress
// event must not have fired yet (3 dispatch tasks + 1 drain task < 10).
func TestReceiverQueueEmptyOrdering(t *testing.T) {
	store := NewMemoryStore("+15550009999", 1)
	cipherFactory := func(addr SessionAddress, unlimited bool) SessionCipher {
		return &passthroughCipher{mu: &sync.Mutex{}, deleted: map[uint32]bool{}}
	}

	var mu sync.Mutex
	var order []string
	progressed := false
	emptyCh := make(chan struct{})

	events := &Events{
		OnMessage: func(ev MessageEvent) {
			mu.Lock()
			order = append(order, ev.Message.Body)
			mu.Unlock()
			ev.Confirm()
		},
		OnProgress: func(ProgressEvent) {
			mu.Lock()
			progressed = true
			mu.Unlock()
		},
		OnEmpty: func(EmptyEvent) { close(emptyCh) },
	}

	r := newTestReceiver(t, store, cipherFactory, events)
	ctx := context.Background()

	sk := r.signalingKey
	for i, body := range []string{"one", "two", "three"} {
		content := &signalpb.Content{DataMessage: &signalpb.DataMessage{Body: body}}
		env := &signalpb.Envelope{
			Type:         signalpb.EnvelopeCiphertext,
			Source:       "+15550002222",
			SourceDevice: 1,
			Timestamp:    uint64(1000 + i),
			Content:      Pad(content.Marshal()),
		}
		frame := encryptFrame(t, sk, env.Marshal())
		responded := make(chan struct{})
		r.handleRequest(ctx, &FramedRequest{
			Verb: "PUT",
			Path: "/api/v1/message",
			Body: frame,
			Respond: func(ctx context.Context, status int, reason string) error {
				close(responded)
				return nil
			},
		})
		<-responded
	}

	emptyResponded := make(chan struct{})
	r.handleRequest(ctx, &FramedRequest{
		Verb: "PUT",
		Path: "/api/v1/queue/empty",
		Respond: func(ctx context.Context, status int, reason string) error {
			close(emptyResponded)
			return nil
		},
	})
	<-emptyResponded

	select {
	case <-emptyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("empty event never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"one", "two", "three"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if progressed {
		t.Error("progress event fired before 10 completed tasks")
	}
}
