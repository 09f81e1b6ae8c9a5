package sigtransport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeCipher is a SessionCipher stub whose Encrypt/HasOpenSession behavior
// is scripted per test.
type fakeCipher struct {
	hasSession bool
	closed     map[uint32]bool
	mu         *sync.Mutex
}

func (c *fakeCipher) Encrypt(ctx context.Context, addr SessionAddress, padded []byte) (uint8, []byte, error) {
	return 1, append([]byte(nil), padded...), nil
}
func (c *fakeCipher) DecryptWhisperMessage(ctx context.Context, addr SessionAddress, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}
func (c *fakeCipher) DecryptPreKeyWhisperMessage(ctx context.Context, addr SessionAddress, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}
func (c *fakeCipher) HasOpenSession(ctx context.Context, addr SessionAddress) (bool, error) {
	return c.hasSession, nil
}
func (c *fakeCipher) CloseOpenSessionForDevice(ctx context.Context, addr SessionAddress) error {
	c.mu.Lock()
	c.closed[addr.DeviceID] = true
	c.mu.Unlock()
	return nil
}
func (c *fakeCipher) DeleteAllSessionsForDevice(ctx context.Context, addr SessionAddress) error {
	return nil
}

type fakeBuilder struct{}

func (b *fakeBuilder) ProcessPreKey(ctx context.Context, addr SessionAddress, bundle PreKeyBundle) error {
	return nil
}

// scriptedSendServer scripts a sequence of SendMessagesResult values
// returned from successive SendMessages calls, modeling the 409/410
// recovery scenarios of spec §8.
type scriptedSendServer struct {
	mu       sync.Mutex
	results  []*SendMessagesResult
	callIdx  int
	devices  map[string][]uint32
}

func (s *scriptedSendServer) GetMessageSocket(ctx context.Context) (MessageSocket, error) {
	return nil, nil
}
func (s *scriptedSendServer) GetKeysForNumber(ctx context.Context, number string, deviceID *uint32) (*KeyBundleResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var devs []PreKeyBundle
	if deviceID != nil {
		devs = []PreKeyBundle{{DeviceID: *deviceID, RegistrationID: 1}}
	} else {
		for _, id := range s.devices[number] {
			devs = append(devs, PreKeyBundle{DeviceID: id, RegistrationID: 1})
		}
	}
	return &KeyBundleResponse{Devices: devs}, nil
}
func (s *scriptedSendServer) SendMessages(ctx context.Context, number string, batch []DeviceCiphertext, timestamp uint64, silent bool) (*SendMessagesResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callIdx >= len(s.results) {
		return &SendMessagesResult{StatusCode: 200}, nil
	}
	r := s.results[s.callIdx]
	s.callIdx++
	return r, nil
}
func (s *scriptedSendServer) GetAttachment(ctx context.Context, id uint64) ([]byte, error) {
	return nil, nil
}
func (s *scriptedSendServer) GetDevices(ctx context.Context, number string) error { return nil }

func waitForBatch(t *testing.T, ch <-chan *OutgoingBatch) *OutgoingBatch {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send callback")
		return nil
	}
}

// TestSenderRecoversFrom409 exercises spec §8 scenario 1: a 409 reporting
// an extra device and a missing device is resolved by dropping the extra
// session and fetching keys for the missing one, then a second send call
// succeeds.
func TestSenderRecoversFrom409(t *testing.T) {
	store := NewMemoryStore("+15550000001", 1)
	store.SetDeviceIDs("+15550000002", []uint32{1, 2})

	server := &scriptedSendServer{
		devices: map[string][]uint32{"+15550000002": {1, 2}},
		results: []*SendMessagesResult{
			{StatusCode: 409, Body409: &DeviceList409{ExtraDevices: []uint32{2}, MissingDevices: []uint32{3}}},
			{StatusCode: 200},
		},
	}

	var mu sync.Mutex
	cipher := &fakeCipher{hasSession: true, closed: map[uint32]bool{}, mu: &mu}
	sender := NewOutgoingMessage(SenderConfig{
		Store:          store,
		Server:         server,
		CipherFactory:  func(addr SessionAddress, unlimited bool) SessionCipher { return cipher },
		BuilderFactory: func(addr SessionAddress) SessionBuilder { return &fakeBuilder{} },
		LocalNumber:    "+15550000001",
		Log:            zerolog.Nop(),
	})

	resultCh := make(chan *OutgoingBatch, 1)
	sender.Send(context.Background(), []string{"+15550000002"}, []byte("hello"), 1000, false, func(b *OutgoingBatch) {
		resultCh <- b
	})

	batch := waitForBatch(t, resultCh)
	if len(batch.Errors) != 0 {
		t.Fatalf("expected success after 409 recovery, got errors: %v", batch.Errors)
	}
	if len(batch.SuccessfulNumbers) != 1 || batch.SuccessfulNumbers[0] != "+15550000002" {
		t.Fatalf("expected successful send to +15550000002, got %+v", batch.SuccessfulNumbers)
	}

	ids, _ := store.GetDeviceIDs(context.Background(), "+15550000002")
	for _, id := range ids {
		if id == 2 {
			t.Fatal("expected extra device 2 to be dropped from the roster")
		}
	}
}

// TestSenderRecoversFrom410 exercises spec §8 scenario 2: a 410 reporting a
// stale device closes that session and retries once; a second consecutive
// 410 must register "hit retry limit" rather than retrying forever.
func TestSenderRecoversFrom410(t *testing.T) {
	store := NewMemoryStore("+15550000001", 1)
	store.SetDeviceIDs("+15550000003", []uint32{1})

	server := &scriptedSendServer{
		devices: map[string][]uint32{"+15550000003": {1}},
		results: []*SendMessagesResult{
			{StatusCode: 410, Body410: &DeviceList410{StaleDevices: []uint32{1}}},
			{StatusCode: 410, Body410: &DeviceList410{StaleDevices: []uint32{1}}},
		},
	}

	var mu sync.Mutex
	cipher := &fakeCipher{hasSession: true, closed: map[uint32]bool{}, mu: &mu}
	sender := NewOutgoingMessage(SenderConfig{
		Store:          store,
		Server:         server,
		CipherFactory:  func(addr SessionAddress, unlimited bool) SessionCipher { return cipher },
		BuilderFactory: func(addr SessionAddress) SessionBuilder { return &fakeBuilder{} },
		LocalNumber:    "+15550000001",
		Log:            zerolog.Nop(),
	})

	resultCh := make(chan *OutgoingBatch, 1)
	sender.Send(context.Background(), []string{"+15550000003"}, []byte("hello"), 2000, false, func(b *OutgoingBatch) {
		resultCh <- b
	})

	batch := waitForBatch(t, resultCh)
	if len(batch.Errors) != 1 {
		t.Fatalf("expected exactly one error after hitting the retry limit, got %+v", batch.Errors)
	}
	if len(batch.SuccessfulNumbers) != 0 {
		t.Fatalf("expected no successful numbers, got %+v", batch.SuccessfulNumbers)
	}

	mu.Lock()
	defer mu.Unlock()
	if !cipher.closed[1] {
		t.Fatal("expected device 1's session to be closed after the first 410")
	}
}
