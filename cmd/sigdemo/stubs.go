package main

import (
	"context"
	"errors"
	"time"

	"github.com/relaywire/sigtransport"
)

// stubServer is a no-op Server implementation sufficient to exercise the
// wiring in sigdemo. A real deployment plugs in its own HTTP/WS client
// against the Signal service.
type stubServer struct {
	url string
}

func newStubServer(url string) *stubServer { return &stubServer{url: url} }

func (s *stubServer) GetMessageSocket(ctx context.Context) (sigtransport.MessageSocket, error) {
	return &stubSocket{}, nil
}

func (s *stubServer) GetKeysForNumber(ctx context.Context, number string, deviceID *uint32) (*sigtransport.KeyBundleResponse, error) {
	return &sigtransport.KeyBundleResponse{Devices: []sigtransport.PreKeyBundle{{DeviceID: 1, RegistrationID: 1}}}, nil
}

func (s *stubServer) SendMessages(ctx context.Context, number string, batch []sigtransport.DeviceCiphertext, timestamp uint64, silent bool) (*sigtransport.SendMessagesResult, error) {
	return &sigtransport.SendMessagesResult{StatusCode: 200}, nil
}

func (s *stubServer) GetAttachment(ctx context.Context, id uint64) ([]byte, error) {
	return nil, errors.New("sigdemo: attachment fetch not implemented")
}

func (s *stubServer) GetDevices(ctx context.Context, number string) error { return nil }

// stubSocket is a MessageSocket that never produces frames; it exists only
// so the socket supervisor has something to keep alive against.
type stubSocket struct{}

func (s *stubSocket) ReadFrame(ctx context.Context) (*sigtransport.FramedRequest, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stubSocket) WriteKeepAlive(ctx context.Context) error {
	select {
	case <-time.After(10 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stubSocket) Close(code int, reason string) error { return nil }

// stubCipher is a no-op SessionCipher; a real deployment supplies a
// Double Ratchet implementation here.
type stubCipher struct {
	addr sigtransport.SessionAddress
}

func newStubCipher(addr sigtransport.SessionAddress) *stubCipher { return &stubCipher{addr: addr} }

func (c *stubCipher) Encrypt(ctx context.Context, addr sigtransport.SessionAddress, padded []byte) (uint8, []byte, error) {
	return 1, padded, nil
}
func (c *stubCipher) DecryptWhisperMessage(ctx context.Context, addr sigtransport.SessionAddress, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}
func (c *stubCipher) DecryptPreKeyWhisperMessage(ctx context.Context, addr sigtransport.SessionAddress, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}
func (c *stubCipher) HasOpenSession(ctx context.Context, addr sigtransport.SessionAddress) (bool, error) {
	return true, nil
}
func (c *stubCipher) CloseOpenSessionForDevice(ctx context.Context, addr sigtransport.SessionAddress) error {
	return nil
}
func (c *stubCipher) DeleteAllSessionsForDevice(ctx context.Context, addr sigtransport.SessionAddress) error {
	return nil
}

// stubBuilder is a no-op SessionBuilder.
type stubBuilder struct{}

func newStubBuilder() *stubBuilder { return &stubBuilder{} }

func (b *stubBuilder) ProcessPreKey(ctx context.Context, addr sigtransport.SessionAddress, bundle sigtransport.PreKeyBundle) error {
	return nil
}
