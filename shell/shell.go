package shell

import (
	"io"
	"slices"
	"sync"

	"github.com/roboleague/collab/export"
	"github.com/roboleague/collab/files"
	"github.com/roboleague/collab/rpc"
	"github.com/roboleague/collab/session"
)

// early holds a notification that arrived for a record this shell has not
// seen yet, which happens when a peer reacts to our create before its reply
// reaches us.
type early struct {
	content string
	updated bool
	deleted bool
}

// Shell is the local state of one participant. It is safe for concurrent use.
type Shell struct {
	mu           sync.Mutex
	teamID       string
	records      []files.Record
	participants []session.Participant
	tabs         []string
	active       string
	expanded     map[string]bool
	early        map[string]early
}

func New() *Shell {
	return &Shell{
		expanded: make(map[string]bool),
		early:    make(map[string]early),
	}
}

// Reset replaces the local state with a join snapshot. Tabs of files missing
// from the snapshot are closed; expanded folders are kept.
func (s *Shell) Reset(teamID string, records []files.Record, participants []session.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if teamID != s.teamID {
		s.tabs = nil
		s.active = ""
		s.expanded = make(map[string]bool)
	}
	s.teamID = teamID
	s.records = slices.Clone(records)
	s.participants = slices.Clone(participants)
	s.early = make(map[string]early)
	s.pruneTabs()
}

func (s *Shell) TeamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teamID
}

// ApplyCreated adds a record unless it is already known.
func (s *Shell) ApplyCreated(rec files.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(rec.ID) >= 0 {
		return
	}
	if e, ok := s.early[rec.ID]; ok {
		delete(s.early, rec.ID)
		if e.deleted {
			return
		}
		if e.updated {
			rec.Content = e.content
		}
	}
	s.records = append(s.records, rec)
}

// ApplyUpdated replaces a file's content. It reports whether the file is known.
func (s *Shell) ApplyUpdated(fileID, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(fileID)
	if i < 0 {
		e := s.early[fileID]
		e.content, e.updated = content, true
		s.early[fileID] = e
		return false
	}
	if s.records[i].IsFolder() {
		return false
	}
	s.records[i].Content = content
	return true
}

// ApplyDeleted drops records and closes their tabs. The active tab moves to
// its neighbour.
func (s *Shell) ApplyDeleted(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if s.indexOf(id) < 0 {
			e := s.early[id]
			e.deleted = true
			s.early[id] = e
		}
	}
	s.records = slices.DeleteFunc(s.records, func(r files.Record) bool {
		return slices.Contains(ids, r.ID)
	})
	s.pruneTabs()
}

func (s *Shell) SetParticipants(participants []session.Participant) {
	s.mu.Lock()
	s.participants = slices.Clone(participants)
	s.mu.Unlock()
}

// ApplyFocus records which file a participant is looking at.
func (s *Shell) ApplyFocus(p session.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.participants {
		if s.participants[i].ConnID == p.ConnID {
			s.participants[i].FocusedFileID = p.FocusedFileID
			return
		}
	}
}

func (s *Shell) Participants() []session.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.participants)
}

// Open makes a file the active tab, opening it if needed.
func (s *Shell) Open(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(fileID)
	if i < 0 || s.records[i].IsFolder() {
		return false
	}
	if !slices.Contains(s.tabs, fileID) {
		s.tabs = append(s.tabs, fileID)
	}
	s.active = fileID
	return true
}

// Close closes a tab. Closing the active tab activates its neighbour.
func (s *Shell) Close(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeTab(fileID)
}

func (s *Shell) Tabs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tabs)
}

func (s *Shell) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Toggle flips a folder between expanded and collapsed and returns the new state.
func (s *Shell) Toggle(folderPath string) bool {
	p := files.NormalizePath(folderPath)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expanded[p] {
		delete(s.expanded, p)
		return false
	}
	s.expanded[p] = true
	return true
}

func (s *Shell) Expanded(folderPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expanded[files.NormalizePath(folderPath)]
}

// Edit applies a local change immediately and returns the update to send.
// ok is false for unknown files and folders.
func (s *Shell) Edit(fileID, content string) (params rpc.UpdateParams, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(fileID)
	if i < 0 || s.records[i].IsFolder() {
		return rpc.UpdateParams{}, false
	}
	s.records[i].Content = content
	return rpc.UpdateParams{TeamID: s.teamID, FileID: fileID, Content: content}, true
}

// File returns the record with the given id.
func (s *Shell) File(fileID string) (files.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(fileID); i >= 0 {
		return s.records[i], true
	}
	return files.Record{}, false
}

// Records returns a copy of the local records in arrival order.
func (s *Shell) Records() []files.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

func (s *Shell) Tree() []*Node {
	return BuildTree(s.Records())
}

// Export writes the local records as a zip archive.
func (s *Shell) Export(w io.Writer) error {
	return export.WriteArchive(w, s.Records())
}

func (s *Shell) indexOf(id string) int {
	return slices.IndexFunc(s.records, func(r files.Record) bool { return r.ID == id })
}

func (s *Shell) closeTab(fileID string) {
	i := slices.Index(s.tabs, fileID)
	if i < 0 {
		return
	}
	s.tabs = slices.Delete(s.tabs, i, i+1)
	if s.active != fileID {
		return
	}
	switch {
	case len(s.tabs) == 0:
		s.active = ""
	case i < len(s.tabs):
		s.active = s.tabs[i]
	default:
		s.active = s.tabs[len(s.tabs)-1]
	}
}

// pruneTabs closes tabs whose file is gone. Caller must hold the lock.
func (s *Shell) pruneTabs() {
	for _, id := range slices.Clone(s.tabs) {
		if s.indexOf(id) < 0 {
			s.closeTab(id)
		}
	}
}
