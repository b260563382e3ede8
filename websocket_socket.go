package meander

import (
	"context"

	"github.com/coder/websocket"
)

// WebSocketSocket is a Socket implementation that wraps
// github.com/coder/websocket.Conn. It is the default transport adapter used
// when serving connections upgraded with coder/websocket.
//
// Because coder/websocket completes the handshake during the HTTP upgrade,
// Accept is a no-op; the subprotocol is negotiated by the upgrade itself.
type WebSocketSocket struct {
	conn  *websocket.Conn
	codec Codec
}

var _ Socket = &WebSocketSocket{}

// NewWebSocketSocket creates a WebSocketSocket from an already-upgraded
// github.com/coder/websocket.Conn. Outbound values passed to SendMedia are
// encoded with codec; a nil codec defaults to JSON.
func NewWebSocketSocket(conn *websocket.Conn, codec Codec) *WebSocketSocket {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &WebSocketSocket{
		conn:  conn,
		codec: codec,
	}
}

// Accept implements Socket.Accept. The handshake already happened during the
// HTTP upgrade, so there is nothing to do here.
func (s *WebSocketSocket) Accept(ctx context.Context, subprotocol string) error {
	return nil
}

// Close closes the underlying WebSocket connection with the given status code.
func (s *WebSocketSocket) Close(code Status) error {
	return s.conn.Close(code, "")
}

// SendMedia encodes data with the socket's codec and writes it as a text
// message.
func (s *WebSocketSocket) SendMedia(ctx context.Context, data any) error {
	encoded, err := s.codec.Encode(data)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, encoded)
}

// Read returns the next raw frame from the connection. It is a convenience
// for transports driving the receive loop around Conn.Dispatch.
func (s *WebSocketSocket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}
