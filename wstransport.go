package sigtransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/relaywire/sigtransport/signalpb"
)

// SocketCloseError reports the WebSocket close code and reason the push
// endpoint sent, so the supervisor's onclose decision table (spec §4.4)
// can branch on it instead of treating every read failure as abnormal.
type SocketCloseError struct {
	Code   int
	Reason string
}

func (e *SocketCloseError) Error() string {
	return fmt.Sprintf("sigtransport: push socket closed (code %d): %s", e.Code, e.Reason)
}

// wsTransport is the concrete client-side MessageSocket backed by
// gobwas/ws. It dials the push endpoint, frames outgoing keepalives, and
// decodes incoming WebSocketMessage frames into FramedRequests (spec
// §4.4 [ADD]).
type wsTransport struct {
	conn     net.Conn
	keepID   uint64
	respCh   chan uint64 // request ids awaiting a respond() call
}

// DialWebSocket opens a client WebSocket connection to url, presenting
// header (carrying the username/password the Server contract authenticates
// with).
func DialWebSocket(ctx context.Context, url string, header http.Header) (*wsTransport, error) {
	dialer := ws.Dialer{Header: ws.HandshakeHeaderHTTP(header)}
	conn, _, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("sigtransport: dial push socket: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

// ReadFrame blocks for the next incoming WebSocketMessage and decodes it
// into a FramedRequest. Non-request frames (responses to our own
// keepalives) are consumed internally and not returned to the caller.
func (t *wsTransport) ReadFrame(ctx context.Context) (*FramedRequest, error) {
	for {
		data, opCode, err := wsutil.ReadServerData(t.conn)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return nil, &SocketCloseError{Code: int(closed.Code), Reason: closed.Reason}
			}
			return nil, fmt.Errorf("sigtransport: read push socket frame: %w", err)
		}
		if opCode != ws.OpBinary && opCode != ws.OpText {
			continue
		}
		msg, err := signalpb.UnmarshalWebSocketMessage(data)
		if err != nil {
			return nil, fmt.Errorf("sigtransport: decode websocket frame: %w", err)
		}
		switch msg.Type {
		case signalpb.WSMessageResponse:
			// A reply to our own keepalive or a prior send; nothing for the
			// dispatcher to act on.
			continue
		case signalpb.WSMessageRequest:
			req := msg.Request
			return &FramedRequest{
				Verb: req.Verb,
				Path: req.Path,
				Body: req.Body,
				Respond: func(ctx context.Context, status int, reason string) error {
					return t.writeResponse(req.ID, status, reason)
				},
			}, nil
		default:
			continue
		}
	}
}

func (t *wsTransport) writeResponse(id uint64, status int, reason string) error {
	frame := &signalpb.WebSocketMessage{
		Type: signalpb.WSMessageResponse,
		Response: &signalpb.WebSocketResponseMessage{
			ID:      id,
			Status:  uint32(status),
			Message: reason,
		},
	}
	return wsutil.WriteClientBinary(t.conn, frame.Marshal())
}

// WriteKeepAlive sends a GET /v1/keepalive request frame. The server's
// response frame is consumed by ReadFrame and is not matched against this
// request, so a keepalive that goes unanswered does not close the socket;
// only a failed write does.
func (t *wsTransport) WriteKeepAlive(ctx context.Context) error {
	t.keepID++
	frame := &signalpb.WebSocketMessage{
		Type: signalpb.WSMessageRequest,
		Request: &signalpb.WebSocketRequestMessage{
			ID:   t.keepID,
			Verb: "GET",
			Path: "/v1/keepalive",
		},
	}
	return wsutil.WriteClientBinary(t.conn, frame.Marshal())
}

// Close closes the underlying connection with the given WebSocket close
// code and reason.
func (t *wsTransport) Close(code int, reason string) error {
	err := wsutil.WriteClientMessage(t.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusCode(code), reason))
	closeErr := t.conn.Close()
	if err != nil {
		return err
	}
	return closeErr
}

var _ MessageSocket = (*wsTransport)(nil)
