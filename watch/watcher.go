package watch

// Watcher is the lifecycle shared by every feed.
type Watcher interface {
	Start() error
	Stop()
	CleanupConnection(connID string)
}

var _ Watcher = (*WorkspaceListWatcher)(nil)
