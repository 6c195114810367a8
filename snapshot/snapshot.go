// Package snapshot persists workspace file sets between process restarts.
package snapshot

import (
	"context"

	"github.com/roboleague/collab/files"
)

// Store loads and saves the complete record set of one team workspace.
type Store interface {
	// Load returns the saved records. found is false when nothing was saved.
	Load(ctx context.Context, teamID string) (records []files.Record, found bool, err error)
	Save(ctx context.Context, teamID string, records []files.Record) error
	Close() error
}
