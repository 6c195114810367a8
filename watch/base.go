// Package watch manages push subscriptions and the feeds that serve them.
package watch

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
)

// Notifier delivers one notification to a subscriber. *jsonrpc2.Conn satisfies it.
type Notifier interface {
	Notify(ctx context.Context, method string, params any, opts ...jsonrpc2.CallOption) error
}

type Subscription struct {
	ID     string
	ConnID string
	Conn   Notifier
}

// BaseWatcher keeps subscriptions indexed by id and by connection.
type BaseWatcher struct {
	idPrefix string

	subMu         sync.RWMutex
	subscriptions map[string]*Subscription
	connToIDs     map[string][]string // connID -> subscription IDs

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBaseWatcher(idPrefix string) *BaseWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &BaseWatcher{
		idPrefix:      idPrefix,
		subscriptions: make(map[string]*Subscription),
		connToIDs:     make(map[string][]string),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// GenerateID returns a fresh subscription id such as "wl_0190a5c3e2b17f3a".
func (b *BaseWatcher) GenerateID() string {
	id := uuid.Must(uuid.NewV7())
	return b.idPrefix + "_" + hex.EncodeToString(id[8:])
}

func (b *BaseWatcher) AddSubscription(sub *Subscription) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.subscriptions[sub.ID] = sub
	b.connToIDs[sub.ConnID] = append(b.connToIDs[sub.ConnID], sub.ID)
}

// RemoveSubscription drops id and returns it, or nil if unknown.
func (b *BaseWatcher) RemoveSubscription(id string) *Subscription {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	sub, ok := b.subscriptions[id]
	if !ok {
		return nil
	}
	delete(b.subscriptions, id)

	ids := b.connToIDs[sub.ConnID]
	for i, v := range ids {
		if v == id {
			b.connToIDs[sub.ConnID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(b.connToIDs[sub.ConnID]) == 0 {
		delete(b.connToIDs, sub.ConnID)
	}
	return sub
}

func (b *BaseWatcher) CleanupConnection(connID string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	ids, ok := b.connToIDs[connID]
	if !ok {
		return
	}
	for _, id := range ids {
		delete(b.subscriptions, id)
	}
	delete(b.connToIDs, connID)

	slog.Debug("cleaned up connection subscriptions", "connId", connID, "count", len(ids))
}

func (b *BaseWatcher) subscriptionsSnapshot() []*Subscription {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	subs := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	return subs
}

// NotifyAll sends method to every subscriber and returns how many were tried.
func (b *BaseWatcher) NotifyAll(method string, makeParams func(sub *Subscription) any) int {
	subs := b.subscriptionsSnapshot()
	for _, sub := range subs {
		if err := sub.Conn.Notify(b.ctx, method, makeParams(sub)); err != nil {
			slog.Debug("failed to notify subscriber", "id", sub.ID, "error", err)
		}
	}
	return len(subs)
}

func (b *BaseWatcher) Context() context.Context { return b.ctx }
func (b *BaseWatcher) Cancel()                  { b.cancel() }

func (b *BaseWatcher) HasSubscriptions() bool {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subscriptions) > 0
}

// OwnedBy reports whether subscription id belongs to connID.
func (b *BaseWatcher) OwnedBy(id, connID string) bool {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	sub, ok := b.subscriptions[id]
	return ok && sub.ConnID == connID
}
