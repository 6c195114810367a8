package watch

import (
	"log/slog"

	"github.com/roboleague/collab/rpc"
	"github.com/roboleague/collab/session"
)

// WorkspaceListWatcher pushes changes of the live workspace list.
// Registry callbacks run under the registry lock, so events are handed to a
// buffered channel and delivered from the event loop.
type WorkspaceListWatcher struct {
	*BaseWatcher
	registry *session.Registry
	eventCh  chan session.ChangeEvent
}

func NewWorkspaceListWatcher(registry *session.Registry) *WorkspaceListWatcher {
	w := &WorkspaceListWatcher{
		BaseWatcher: NewBaseWatcher("wl"),
		registry:    registry,
		eventCh:     make(chan session.ChangeEvent, 64),
	}
	registry.SetOnChangeListener(w)
	return w
}

func (w *WorkspaceListWatcher) Start() error {
	go w.eventLoop()
	slog.Info("workspace list watcher started")
	return nil
}

func (w *WorkspaceListWatcher) Stop() {
	w.Cancel()
	slog.Info("workspace list watcher stopped")
}

func (w *WorkspaceListWatcher) eventLoop() {
	for {
		select {
		case <-w.Context().Done():
			return
		case event := <-w.eventCh:
			batch := append([]session.ChangeEvent{event}, w.drain()...)
			for _, e := range coalesce(batch) {
				w.notifyChange(e)
			}
		}
	}
}

// drain takes every event already queued without waiting for more.
func (w *WorkspaceListWatcher) drain() []session.ChangeEvent {
	var events []session.ChangeEvent
	for {
		select {
		case e := <-w.eventCh:
			events = append(events, e)
		default:
			return events
		}
	}
}

// coalesce folds a burst into at most one change per workspace, in order of
// first appearance. A workspace created and removed within the burst was never
// listed, so it produces nothing.
func coalesce(events []session.ChangeEvent) []session.ChangeEvent {
	var order []string
	merged := make(map[string]session.ChangeEvent)
	dropped := make(map[string]bool)

	for _, e := range events {
		teamID := e.Session.TeamID
		prev, seen := merged[teamID]
		if !seen && !dropped[teamID] {
			order = append(order, teamID)
		}
		switch {
		case !seen && dropped[teamID]:
			// Recreated after a created/removed pair; subscribers never saw it.
			e.Op = session.OperationCreated
			delete(dropped, teamID)
		case !seen:
		case prev.Op == session.OperationCreated && e.Op == session.OperationRemoved:
			delete(merged, teamID)
			dropped[teamID] = true
			continue
		case prev.Op == session.OperationCreated:
			e.Op = session.OperationCreated
		case prev.Op == session.OperationRemoved && e.Op == session.OperationCreated:
			e.Op = session.OperationUpdated
		}
		merged[teamID] = e
	}

	result := make([]session.ChangeEvent, 0, len(merged))
	for _, teamID := range order {
		if e, ok := merged[teamID]; ok {
			result = append(result, e)
		}
	}
	return result
}

func (w *WorkspaceListWatcher) notifyChange(event session.ChangeEvent) {
	if !w.HasSubscriptions() {
		return
	}

	w.NotifyAll(rpc.NotifyWorkspaceListChanged, func(sub *Subscription) any {
		return rpc.WorkspaceListChangedParams{
			ID:        sub.ID,
			Operation: string(event.Op),
			Workspace: event.Session,
		}
	})
	slog.Debug("notified workspace list change", "operation", event.Op, "teamId", event.Session.TeamID)
}

// Subscribe registers conn and returns the subscription id with the current list.
func (w *WorkspaceListWatcher) Subscribe(conn Notifier, connID string) (string, []session.Summary) {
	id := w.GenerateID()
	// Subscribe before listing so no change between the two is missed.
	w.AddSubscription(&Subscription{ID: id, ConnID: connID, Conn: conn})

	slog.Debug("workspace list subscription added", "watchId", id, "connId", connID)
	return id, w.registry.List()
}

func (w *WorkspaceListWatcher) Unsubscribe(id string) bool {
	return w.RemoveSubscription(id) != nil
}

// OnSessionChange implements session.OnChangeListener and must not block.
func (w *WorkspaceListWatcher) OnSessionChange(event session.ChangeEvent) {
	if w.Context().Err() != nil {
		return
	}

	select {
	case w.eventCh <- event:
	default:
		slog.Warn("workspace list change event dropped (buffer full)", "operation", event.Op)
	}
}
