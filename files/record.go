// Package files holds the authoritative in-memory file tree of every team workspace.
package files

import (
	"errors"
	"strings"
	"time"
)

// Kind distinguishes file records from folder records.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// IsValid returns true if the kind is supported.
func (k Kind) IsValid() bool {
	switch k {
	case KindFile, KindFolder:
		return true
	default:
		return false
	}
}

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidKind = errors.New("invalid record kind")
)

// Record is one file or folder entry of a workspace.
// Path doubles as the display name; it is not unique within a workspace.
type Record struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content,omitempty"`
	Language  string    `json:"language,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Name returns the last path segment.
func (r Record) Name() string {
	if i := strings.LastIndexByte(r.Path, '/'); i >= 0 {
		return r.Path[i+1:]
	}
	return r.Path
}

func (r Record) IsFolder() bool {
	return r.Kind == KindFolder
}

// Under reports whether the record lives at dir or below it.
func (r Record) Under(dir string) bool {
	return r.Path == dir || strings.HasPrefix(r.Path, dir+"/")
}

// CreateRequest carries the fields a participant supplies when creating a record.
type CreateRequest struct {
	Path     string
	Kind     Kind
	Content  string
	Language string
	Author   string
}

// NormalizePath collapses repeated separators and strips leading and trailing ones.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "/")
}
