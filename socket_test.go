package sigtransport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSocket is a MessageSocket whose ReadFrame blocks until a close is
// injected via closeNow, then returns that error to drive onClose.
type fakeSocket struct {
	mu       sync.Mutex
	closeErr error
	ready    chan struct{}
	closes   int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{ready: make(chan struct{})}
}

func (f *fakeSocket) closeNow(err error) {
	f.mu.Lock()
	f.closeErr = err
	f.mu.Unlock()
	close(f.ready)
}

func (f *fakeSocket) ReadFrame(ctx context.Context) (*FramedRequest, error) {
	select {
	case <-f.ready:
		f.mu.Lock()
		defer f.mu.Unlock()
		return nil, f.closeErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSocket) WriteKeepAlive(ctx context.Context) error { return nil }

func (f *fakeSocket) Close(code int, reason string) error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

type fakeDevicesServer struct {
	mu           sync.Mutex
	devicesCalls int
	sockets      []*fakeSocket
	dialIdx      int
}

func (s *fakeDevicesServer) GetMessageSocket(ctx context.Context) (MessageSocket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sock := s.sockets[s.dialIdx]
	s.dialIdx++
	return sock, nil
}

func (s *fakeDevicesServer) GetKeysForNumber(ctx context.Context, number string, deviceID *uint32) (*KeyBundleResponse, error) {
	return nil, nil
}
func (s *fakeDevicesServer) SendMessages(ctx context.Context, number string, batch []DeviceCiphertext, timestamp uint64, silent bool) (*SendMessagesResult, error) {
	return nil, nil
}
func (s *fakeDevicesServer) GetAttachment(ctx context.Context, id uint64) ([]byte, error) {
	return nil, nil
}
func (s *fakeDevicesServer) GetDevices(ctx context.Context, number string) error {
	s.mu.Lock()
	s.devicesCalls++
	s.mu.Unlock()
	return nil
}

func waitForState(t *testing.T, sup *SocketSupervisor, want SocketState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sup.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", sup.State(), want)
}

func TestSocketSupervisorTerminalCloseDoesNotReconnect(t *testing.T) {
	sock := newFakeSocket()
	server := &fakeDevicesServer{sockets: []*fakeSocket{sock}}
	sup := NewSocketSupervisor(func(ctx context.Context) (MessageSocket, error) {
		return server.GetMessageSocket(ctx)
	}, server, "+15550000000", func(ctx context.Context, req *FramedRequest) {}, &Events{}, zerolog.Nop(), nil)

	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitForState(t, sup, SocketOpen, time.Second)

	sock.closeNow(&SocketCloseError{Code: CloseCodeUserInitiated})
	waitForState(t, sup, SocketClosed, time.Second)

	time.Sleep(50 * time.Millisecond)
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.dialIdx != 1 {
		t.Fatalf("expected no reconnect dial, dialIdx = %d", server.dialIdx)
	}
}

func TestSocketSupervisorQueueDrainedEmitsEmptyNoReconnect(t *testing.T) {
	sock := newFakeSocket()
	server := &fakeDevicesServer{sockets: []*fakeSocket{sock}}

	var emptyFired bool
	var mu sync.Mutex
	events := &Events{OnEmpty: func(EmptyEvent) {
		mu.Lock()
		emptyFired = true
		mu.Unlock()
	}}

	sup := NewSocketSupervisor(func(ctx context.Context) (MessageSocket, error) {
		return server.GetMessageSocket(ctx)
	}, server, "+15550000000", func(ctx context.Context, req *FramedRequest) {}, events, zerolog.Nop(), nil)

	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitForState(t, sup, SocketOpen, time.Second)

	sock.closeNow(&SocketCloseError{Code: CloseCodeQueueDrained})
	waitForState(t, sup, SocketClosed, time.Second)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if !emptyFired {
		t.Fatal("expected OnEmpty to fire")
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.dialIdx != 1 {
		t.Fatalf("expected no reconnect dial, dialIdx = %d", server.dialIdx)
	}
}

func TestSocketSupervisorAbnormalCloseReconnects(t *testing.T) {
	sock1 := newFakeSocket()
	sock2 := newFakeSocket()
	server := &fakeDevicesServer{sockets: []*fakeSocket{sock1, sock2}}

	var reconnected bool
	var mu sync.Mutex
	events := &Events{OnReconnect: func(ReconnectEvent) {
		mu.Lock()
		reconnected = true
		mu.Unlock()
	}}

	sup := NewSocketSupervisor(func(ctx context.Context) (MessageSocket, error) {
		return server.GetMessageSocket(ctx)
	}, server, "+15550000000", func(ctx context.Context, req *FramedRequest) {}, events, zerolog.Nop(), nil)

	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitForState(t, sup, SocketOpen, time.Second)

	sock1.closeNow(&SocketCloseError{Code: 1006})
	waitForState(t, sup, SocketOpen, 2*time.Second)

	server.mu.Lock()
	devicesCalls := server.devicesCalls
	dialIdx := server.dialIdx
	server.mu.Unlock()
	if devicesCalls < 1 {
		t.Fatal("expected GetDevices probe before reconnect")
	}
	if dialIdx != 2 {
		t.Fatalf("expected a reconnect dial, dialIdx = %d", dialIdx)
	}

	mu.Lock()
	defer mu.Unlock()
	if !reconnected {
		t.Fatal("expected OnReconnect to fire on the second Connect")
	}
}
