// Package template provides the starter files seeded into brand-new workspaces.
package template

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/roboleague/collab/files"
)

const (
	debounceInterval = 100 * time.Millisecond
	maxFileSize      = 1 << 20
)

// Provider returns the records a new workspace starts with.
type Provider interface {
	Files() []files.CreateRequest
}

// Empty is a Provider without starter files.
type Empty struct{}

func (Empty) Files() []files.CreateRequest { return nil }

// Dir serves starter files from a directory and reloads them when it changes.
type Dir struct {
	root    string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	entries []files.CreateRequest

	timerMu sync.Mutex
	timer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

func NewDir(root string) *Dir {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dir{root: root, ctx: ctx, cancel: cancel}
}

// Files returns a copy of the current starter set.
func (d *Dir) Files() []files.CreateRequest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]files.CreateRequest, len(d.entries))
	copy(result, d.entries)
	return result
}

// Start loads the directory and begins watching it.
func (d *Dir) Start() error {
	if err := d.Reload(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	d.watcher = watcher
	if err := d.watchTree(); err != nil {
		watcher.Close()
		return err
	}

	go d.eventLoop()
	slog.Info("template watcher started", "dir", d.root, "files", len(d.Files()))
	return nil
}

func (d *Dir) Stop() {
	d.cancel()
	if d.watcher != nil {
		d.watcher.Close()
	}

	d.timerMu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timerMu.Unlock()

	slog.Info("template watcher stopped")
}

// Reload rereads the directory.
func (d *Dir) Reload() error {
	entries, err := scan(d.root)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
	return nil
}

// watchTree adds every directory below root; fsnotify is not recursive.
func (d *Dir) watchTree() error {
	return filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != d.root && isHidden(entry.Name()) {
			return filepath.SkipDir
		}
		return d.watcher.Add(path)
	})
}

func (d *Dir) eventLoop() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("template watcher error", "error", err)
		}
	}
}

func (d *Dir) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := d.watcher.Add(event.Name); err != nil {
				slog.Warn("failed to watch template subdirectory", "path", event.Name, "error", err)
			}
		}
	}

	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(debounceInterval, func() {
		if d.ctx.Err() != nil {
			return
		}
		if err := d.Reload(); err != nil {
			slog.Error("failed to reload templates", "dir", d.root, "error", err)
			return
		}
		slog.Debug("templates reloaded", "files", len(d.Files()))
	})
}

// scan walks root and returns folders and files sorted by path.
func scan(root string) ([]files.CreateRequest, error) {
	var entries []files.CreateRequest
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if isHidden(entry.Name()) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			entries = append(entries, files.CreateRequest{Path: rel, Kind: files.KindFolder})
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxFileSize {
			slog.Warn("skipping large template file", "path", rel, "size", info.Size())
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, files.CreateRequest{Path: rel, Kind: files.KindFile, Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

var (
	_ Provider = Empty{}
	_ Provider = (*Dir)(nil)
)
