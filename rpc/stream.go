package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sourcegraph/jsonrpc2"
)

const (
	// MaxMessageSize bounds a single websocket message; file content travels inline.
	MaxMessageSize = 4 << 20
	// WriteTimeout bounds one message write. A write that times out closes the connection.
	WriteTimeout = 10 * time.Second
)

// WebSocketStream adapts coder/websocket to jsonrpc2.ObjectStream.
type WebSocketStream struct {
	conn *websocket.Conn
	mu   sync.Mutex // protects writes
}

func NewWebSocketStream(conn *websocket.Conn) *WebSocketStream {
	conn.SetReadLimit(MaxMessageSize)
	return &WebSocketStream{conn: conn}
}

func (s *WebSocketStream) ReadObject(v interface{}) error {
	_, data, err := s.conn.Read(context.Background())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *WebSocketStream) WriteObject(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *WebSocketStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// Ensure WebSocketStream implements ObjectStream
var _ jsonrpc2.ObjectStream = (*WebSocketStream)(nil)
