package files

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds the records of every workspace keyed by team id.
// Callers serialise mutations per team; the store only guards its maps.
type Store interface {
	// Workspace lifecycle
	Has(teamID string) bool
	Load(teamID string, records []Record)
	Drop(teamID string)
	Teams() []string

	// Records
	Snapshot(teamID string) []Record
	Create(teamID string, req CreateRequest) (Record, error)
	Update(teamID, fileID, content, author string) (Record, bool)
	Delete(teamID, fileID string) []string
	DeletePath(teamID, path string) []string
}

type workspace struct {
	records map[string]Record
	order   []string // ids in creation order
}

func newWorkspace() *workspace {
	return &workspace{records: make(map[string]Record)}
}

// MemoryStore keeps every workspace in process memory. State is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	teams map[string]*workspace

	newID func() string
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		teams: make(map[string]*workspace),
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
		now:   time.Now,
	}
}

func (s *MemoryStore) Has(teamID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.teams[teamID]
	return ok
}

// Load replaces the workspace for teamID with records, keeping their order.
func (s *MemoryStore) Load(teamID string, records []Record) {
	ws := newWorkspace()
	for _, r := range records {
		if _, dup := ws.records[r.ID]; dup {
			continue
		}
		ws.records[r.ID] = r
		ws.order = append(ws.order, r.ID)
	}

	s.mu.Lock()
	s.teams[teamID] = ws
	s.mu.Unlock()
}

func (s *MemoryStore) Drop(teamID string) {
	s.mu.Lock()
	delete(s.teams, teamID)
	s.mu.Unlock()
}

func (s *MemoryStore) Teams() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]string, 0, len(s.teams))
	for id := range s.teams {
		teams = append(teams, id)
	}
	sort.Strings(teams)
	return teams
}

// Snapshot returns a copy of all records in creation order.
func (s *MemoryStore) Snapshot(teamID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.teams[teamID]
	if !ok {
		return []Record{}
	}
	result := make([]Record, 0, len(ws.order))
	for _, id := range ws.order {
		result = append(result, ws.records[id])
	}
	return result
}

// Create adds a record. Duplicate paths are allowed and yield independent records.
func (s *MemoryStore) Create(teamID string, req CreateRequest) (Record, error) {
	path := NormalizePath(req.Path)
	if path == "" {
		return Record{}, ErrEmptyPath
	}
	kind := req.Kind
	if kind == "" {
		kind = KindFile
	}
	if !kind.IsValid() {
		return Record{}, ErrInvalidKind
	}

	rec := Record{
		ID:        s.newID(),
		Path:      path,
		Kind:      kind,
		UpdatedAt: s.now(),
		UpdatedBy: req.Author,
	}
	if kind == KindFile {
		rec.Content = req.Content
		rec.Language = req.Language
		if rec.Language == "" {
			rec.Language = LanguageFor(path)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.teams[teamID]
	if !ok {
		ws = newWorkspace()
		s.teams[teamID] = ws
	}
	ws.records[rec.ID] = rec
	ws.order = append(ws.order, rec.ID)
	return rec, nil
}

// Update replaces the content of a file record. Unknown ids and folders are ignored.
func (s *MemoryStore) Update(teamID, fileID, content, author string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.teams[teamID]
	if !ok {
		return Record{}, false
	}
	rec, ok := ws.records[fileID]
	if !ok || rec.IsFolder() {
		return Record{}, false
	}
	rec.Content = content
	rec.UpdatedAt = s.now()
	rec.UpdatedBy = author
	ws.records[fileID] = rec
	return rec, true
}

// Delete removes a record. Deleting a folder also removes everything below it.
// Returns the removed ids in creation order.
func (s *MemoryStore) Delete(teamID, fileID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.teams[teamID]
	if !ok {
		return nil
	}
	rec, ok := ws.records[fileID]
	if !ok {
		return nil
	}

	if !rec.IsFolder() {
		return ws.remove(func(r Record) bool { return r.ID == fileID })
	}
	return ws.remove(func(r Record) bool {
		return r.ID == fileID || (r.Path != rec.Path && r.Under(rec.Path))
	})
}

// DeletePath removes every record at path or below it.
func (s *MemoryStore) DeletePath(teamID, path string) []string {
	path = NormalizePath(path)
	if path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.teams[teamID]
	if !ok {
		return nil
	}
	return ws.remove(func(r Record) bool { return r.Under(path) })
}

// remove drops matching records. Caller must hold the store lock.
func (ws *workspace) remove(match func(Record) bool) []string {
	var removed []string
	kept := ws.order[:0]
	for _, id := range ws.order {
		if match(ws.records[id]) {
			removed = append(removed, id)
			delete(ws.records, id)
			continue
		}
		kept = append(kept, id)
	}
	ws.order = kept
	return removed
}

var _ Store = (*MemoryStore)(nil)
