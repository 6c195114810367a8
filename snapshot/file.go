package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roboleague/collab/files"
)

type snapshotData struct {
	TeamID  string         `json:"team_id"`
	SavedAt time.Time      `json:"saved_at"`
	Files   []files.Record `json:"files"`
}

// FileStore keeps one JSON document per team under dataDir/workspaces.
// FileStore is NOT safe for multiple instances sharing the same dataDir.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dataDir string) (*FileStore, error) {
	dir := filepath.Join(dataDir, "workspaces")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(teamID string) string {
	return filepath.Join(s.dir, url.PathEscape(teamID)+".json")
}

func (s *FileStore) Load(ctx context.Context, teamID string) ([]files.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(teamID))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap snapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %s: %w", teamID, err)
	}
	if snap.Files == nil {
		snap.Files = []files.Record{}
	}
	return snap.Files, true, nil
}

func (s *FileStore) Save(ctx context.Context, teamID string, records []files.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snapshotData{
		TeamID:  teamID,
		SavedAt: time.Now(),
		Files:   records,
	}, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write to a temp file first so a crash never leaves a truncated snapshot.
	target := s.path(teamID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
