package ws

import (
	"context"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
)

type heldNotification struct {
	method string
	params any
}

// joinGate holds notifications for a joining connection until its join reply
// is written, so the client always sees the snapshot before later events.
type joinGate struct {
	conn *jsonrpc2.Conn

	mu      sync.Mutex
	open    bool
	pending []heldNotification
}

func newJoinGate(conn *jsonrpc2.Conn) *joinGate {
	return &joinGate{conn: conn}
}

func (g *joinGate) Notify(ctx context.Context, method string, params any, opts ...jsonrpc2.CallOption) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		g.pending = append(g.pending, heldNotification{method: method, params: params})
		return nil
	}
	return g.conn.Notify(ctx, method, params, opts...)
}

// Close closes the underlying connection.
func (g *joinGate) Close() error {
	return g.conn.Close()
}

// release flushes held notifications in order and lets later ones through.
func (g *joinGate) release(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = true

	var firstErr error
	for _, n := range g.pending {
		if err := g.conn.Notify(ctx, n.method, n.params); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	g.pending = nil
	return firstErr
}
