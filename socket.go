package sigtransport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Dialer opens a new MessageSocket to the push endpoint. Implementations
// typically close over DialWebSocket and the caller's auth credentials.
type Dialer func(ctx context.Context) (MessageSocket, error)

// SocketSupervisor owns the single live WebSocket connection to the push
// endpoint and implements the connect/reconnect/close state machine of
// spec §4.4. At most one connection exists at a time: a Connect call while
// one is open first closes the previous one.
type SocketSupervisor struct {
	state int32 // SocketState, accessed atomically

	mu           sync.Mutex
	socket       MessageSocket
	hasConnected bool
	calledClose  bool

	dial    Dialer
	server  Server
	number  string
	onFrame func(ctx context.Context, req *FramedRequest)
	events  *Events
	log     zerolog.Logger
	metrics *Metrics

	keepaliveInterval time.Duration
	keepaliveDeadline time.Duration
	probeLimiter      *rate.Limiter

	readerDone chan struct{}
}

// NewSocketSupervisor builds a supervisor. onFrame is invoked for every
// decoded inbound FramedRequest, serialized with respect to reconnects (the
// supervisor never runs two reader loops concurrently). metrics may be nil,
// in which case an unregistered Metrics instance is used.
func NewSocketSupervisor(dial Dialer, server Server, number string, onFrame func(ctx context.Context, req *FramedRequest), events *Events, log zerolog.Logger, metrics *Metrics) *SocketSupervisor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &SocketSupervisor{
		state:             int32(SocketDisconnected),
		dial:              dial,
		server:            server,
		number:            number,
		onFrame:           onFrame,
		events:            events,
		metrics:           metrics,
		keepaliveInterval: 55 * time.Second,
		keepaliveDeadline: 10 * time.Second,
		probeLimiter:      rate.NewLimiter(rate.Every(5*time.Second), 1),
		log:               log.With().Str("component", "socket_supervisor").Logger(),
	}
}

// State returns the current connection state.
func (s *SocketSupervisor) State() SocketState {
	return SocketState(atomic.LoadInt32(&s.state))
}

func (s *SocketSupervisor) setState(v SocketState) {
	atomic.StoreInt32(&s.state, int32(v))
	s.metrics.SetSocketState(v)
}

// Connect opens a new socket, closing any previous one first. A no-op if
// Close has already been called. Calls after the first are treated as
// reconnects and fire the reconnect event before dialing.
func (s *SocketSupervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.calledClose {
		s.mu.Unlock()
		return nil
	}
	isReconnect := s.hasConnected
	prior := s.socket
	s.socket = nil
	s.mu.Unlock()

	if prior != nil && s.State() != SocketClosed {
		_ = prior.Close(CloseCodeUserInitiated, "superseded by reconnect")
	}

	if isReconnect {
		s.events.emitReconnect()
	}

	s.setState(SocketConnecting)
	sock, err := s.dial(ctx)
	if err != nil {
		s.setState(SocketDisconnected)
		return err
	}

	s.mu.Lock()
	if s.calledClose {
		s.mu.Unlock()
		_ = sock.Close(CloseCodeUserInitiated, "closed during connect")
		return nil
	}
	s.socket = sock
	s.hasConnected = true
	s.readerDone = make(chan struct{})
	s.mu.Unlock()

	s.setState(SocketOpen)
	go s.runReadLoop(ctx, sock)
	go s.runKeepalive(ctx, sock)
	return nil
}

func (s *SocketSupervisor) runReadLoop(ctx context.Context, sock MessageSocket) {
	defer close(s.readerDone)
	for {
		req, err := sock.ReadFrame(ctx)
		if err != nil {
			code, reason := 0, err.Error()
			var closeErr *SocketCloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Reason
			}
			s.onClose(ctx, code, reason)
			return
		}
		if req.Path == "/api/v1/queue/empty" {
			// Handled by the dispatcher via onFrame (it triggers onEmpty);
			// still routed through the normal path so respond() is honored.
		}
		s.onFrame(ctx, req)
	}
}

func (s *SocketSupervisor) runKeepalive(ctx context.Context, sock MessageSocket) {
	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.readerDone:
			return
		case <-ticker.C:
			kaCtx, cancel := context.WithTimeout(ctx, s.keepaliveDeadline)
			err := sock.WriteKeepAlive(kaCtx)
			cancel()
			if err != nil {
				s.log.Warn().Err(err).Msg("keepalive failed, forcing close")
				_ = sock.Close(1006, "keepalive failed")
				return
			}
		}
	}
}

// onClose implements the source's onclose(code, reason) decision table.
func (s *SocketSupervisor) onClose(ctx context.Context, code int, reason string) {
	s.mu.Lock()
	calledClose := s.calledClose
	s.mu.Unlock()

	if calledClose {
		s.setState(SocketClosed)
		return
	}
	if code == CloseCodeUserInitiated {
		s.setState(SocketClosed)
		return
	}
	if code == CloseCodeQueueDrained {
		s.setState(SocketClosed)
		s.events.emitEmpty()
		return
	}

	s.setState(SocketDisconnected)
	if err := s.probeLimiter.Wait(ctx); err != nil {
		s.events.emitError(err, nil)
		return
	}
	if err := s.server.GetDevices(ctx, s.number); err != nil {
		s.events.emitError(err, nil)
		return
	}
	if err := s.Connect(ctx); err != nil {
		s.events.emitError(err, nil)
	}
}

// ErrAlreadyClosed is returned by Close if called more than once.
var ErrAlreadyClosed = errors.New("sigtransport: socket already closed")

// Close is a terminal, user-initiated shutdown: sets calledClose, closes
// the live socket with code 3000. Subsequent Connect calls become no-ops.
func (s *SocketSupervisor) Close(reason string) error {
	s.mu.Lock()
	if s.calledClose {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.calledClose = true
	sock := s.socket
	s.mu.Unlock()

	s.setState(SocketClosing)
	if sock == nil {
		s.setState(SocketClosed)
		return nil
	}
	err := sock.Close(CloseCodeUserInitiated, reason)
	s.setState(SocketClosed)
	return err
}
