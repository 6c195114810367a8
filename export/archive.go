// Package export packages workspace records as zip archives.
package export

import (
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/roboleague/collab/files"
)

// WriteArchive writes records to w as a zip archive. File records become
// entries with their content; folder records become empty directory entries.
// Records sharing a path are kept apart with a " (n)" suffix.
func WriteArchive(w io.Writer, records []files.Record) error {
	zw := zip.NewWriter(w)
	names := newNameSet()

	for _, rec := range records {
		p := entryName(rec.Path)
		if p == "" {
			continue
		}

		modified := rec.UpdatedAt
		if modified.IsZero() {
			modified = time.Now()
		}

		if rec.IsFolder() {
			name := p + "/"
			if !names.claim(name) {
				continue
			}
			if _, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store, Modified: modified}); err != nil {
				return fmt.Errorf("add folder %s: %w", p, err)
			}
			continue
		}

		name := names.unique(p)
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return fmt.Errorf("add file %s: %w", p, err)
		}
		if _, err := io.WriteString(fw, rec.Content); err != nil {
			return fmt.Errorf("write file %s: %w", p, err)
		}
	}

	return zw.Close()
}

// ArchiveName returns the download name for a team workspace.
func ArchiveName(teamID string) string {
	var b strings.Builder
	for _, r := range teamID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "workspace.zip"
	}
	return "team-" + b.String() + ".zip"
}

// entryName normalizes p and drops dot segments so entries cannot escape
// the extraction directory.
func entryName(p string) string {
	segs := strings.Split(files.NormalizePath(p), "/")
	kept := segs[:0]
	for _, seg := range segs {
		if seg == "." || seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, "/")
}

type nameSet map[string]bool

func newNameSet() nameSet { return make(nameSet) }

func (s nameSet) claim(name string) bool {
	if s[name] {
		return false
	}
	s[name] = true
	return true
}

// unique returns p, or p with " (n)" before its extension if p is taken.
func (s nameSet) unique(p string) string {
	if s.claim(p) {
		return p
	}
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if s.claim(candidate) {
			return candidate
		}
	}
}
