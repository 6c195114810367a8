// Package session tracks which participants are connected to which team workspace.
package session

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	participants []Participant
	createdAt    time.Time
	updatedAt    time.Time
}

func (e *entry) summary(teamID string) Summary {
	return Summary{
		TeamID:       teamID,
		Participants: len(e.participants),
		CreatedAt:    e.createdAt,
		UpdatedAt:    e.updatedAt,
	}
}

func (e *entry) copyParticipants() []Participant {
	result := make([]Participant, len(e.participants))
	copy(result, e.participants)
	return result
}

// Registry maps team ids to their connected participants.
// A session exists from its first join until its last leave; it holds no file state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	listener OnChangeListener
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

func (r *Registry) SetOnChangeListener(listener OnChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = listener
}

func (r *Registry) notifyChange(event ChangeEvent) {
	if r.listener != nil {
		r.listener.OnSessionChange(event)
	}
}

// Join registers p under teamID and returns the updated participant list.
// created is true when this join started the session. Joining twice with the
// same connection id replaces the earlier entry.
func (r *Registry) Join(teamID string, p Participant) ([]Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, exists := r.sessions[teamID]
	if !exists {
		e = &entry{createdAt: now}
		r.sessions[teamID] = e
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}

	replaced := false
	for i := range e.participants {
		if e.participants[i].ConnID == p.ConnID {
			e.participants[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		e.participants = append(e.participants, p)
	}
	e.updatedAt = now

	op := OperationUpdated
	if !exists {
		op = OperationCreated
	}
	r.notifyChange(ChangeEvent{Op: op, Session: e.summary(teamID)})
	return e.copyParticipants(), !exists
}

// Leave removes the participant with connID. last is true when the session
// became empty and was removed; ok is false when the participant was unknown.
func (r *Registry) Leave(teamID, connID string) (participants []Participant, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.sessions[teamID]
	if !exists {
		return nil, false, false
	}

	kept := make([]Participant, 0, len(e.participants))
	for _, p := range e.participants {
		if p.ConnID == connID {
			ok = true
			continue
		}
		kept = append(kept, p)
	}
	if !ok {
		return e.copyParticipants(), false, false
	}

	e.participants = kept
	e.updatedAt = r.now()
	summary := e.summary(teamID)
	op := OperationUpdated
	if len(kept) == 0 {
		delete(r.sessions, teamID)
		last = true
		op = OperationRemoved
	}

	r.notifyChange(ChangeEvent{Op: op, Session: summary})
	return e.copyParticipants(), last, true
}

// Focus records which file a participant is looking at. The workspace list
// is unaffected, so listeners are not called.
func (r *Registry) Focus(teamID, connID, fileID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.sessions[teamID]
	if !exists {
		return Participant{}, false
	}
	for i := range e.participants {
		if e.participants[i].ConnID == connID {
			e.participants[i].FocusedFileID = fileID
			return e.participants[i], true
		}
	}
	return Participant{}, false
}

func (r *Registry) Participants(teamID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.sessions[teamID]
	if !exists {
		return []Participant{}
	}
	return e.copyParticipants()
}

func (r *Registry) Get(teamID string) (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.sessions[teamID]
	if !exists {
		return Summary{}, false
	}
	return e.summary(teamID), true
}

// List returns all live sessions, most recently active first.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Summary, 0, len(r.sessions))
	for teamID, e := range r.sessions {
		result = append(result, e.summary(teamID))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].TeamID < result[j].TeamID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	return result
}
