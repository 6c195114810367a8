// Package broadcast applies participant events to team workspaces and relays
// the results to the other participants of the same session.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roboleague/collab/files"
	"github.com/roboleague/collab/metrics"
	"github.com/roboleague/collab/rpc"
	"github.com/roboleague/collab/session"
	"github.com/roboleague/collab/snapshot"
	"github.com/roboleague/collab/template"
	"github.com/sourcegraph/jsonrpc2"
)

var (
	ErrNotJoined = errors.New("not joined to session")
	ErrShutdown  = errors.New("broadcaster is shut down")
)

const (
	inboxSize         = 64
	saveTimeout       = 10 * time.Second
	minReaperInterval = time.Millisecond
)

// Peer receives notifications for one connection. *jsonrpc2.Conn satisfies it.
// A peer that also has a Close() error method is closed when it falls
// outboxSize notifications behind.
type Peer interface {
	Notify(ctx context.Context, method string, params any, opts ...jsonrpc2.CallOption) error
}

type Options struct {
	// Snapshots persists workspaces across restarts. Optional.
	Snapshots snapshot.Store
	// Template seeds brand-new workspaces. Optional.
	Template template.Provider
	// IdleTimeout evicts sessions nobody joined for this long. Zero disables eviction.
	IdleTimeout time.Duration
}

// Manager owns one event loop per team. Every join, leave and event of a team
// runs on that loop, so the workspace sees them in receipt order.
type Manager struct {
	store    files.Store
	registry *session.Registry
	opts     Options

	mu       sync.Mutex
	sessions map[string]*teamSession
	retiring map[string]chan struct{} // teamID -> done of an evicted loop still saving
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(store files.Store, registry *session.Registry, opts Options) *Manager {
	if opts.Template == nil {
		opts.Template = template.Empty{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:    store,
		registry: registry,
		opts:     opts,
		sessions: make(map[string]*teamSession),
		retiring: make(map[string]chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	if opts.IdleTimeout > 0 {
		go m.runIdleReaper()
	}
	return m
}

// Join attaches a participant and its peer to teamID, starting the session if
// needed. The returned files and participants are consistent with every event
// the peer will be notified of afterwards.
func (m *Manager) Join(ctx context.Context, teamID string, p session.Participant, peer Peer) (JoinResult, error) {
	var result JoinResult
	err := m.dispatch(ctx, teamID, true, func(s *teamSession) {
		result = s.join(p, peer)
	})
	return result, err
}

// Leave detaches connID from teamID and tells the remaining participants.
func (m *Manager) Leave(ctx context.Context, teamID, connID string) error {
	var joined bool
	err := m.dispatch(ctx, teamID, false, func(s *teamSession) {
		joined = s.leave(connID)
	})
	if err != nil {
		return err
	}
	if !joined {
		return ErrNotJoined
	}
	return nil
}

// Submit applies ev on behalf of connID and relays the result to every other
// participant. No-op events return an Outcome with Applied false and no error.
func (m *Manager) Submit(ctx context.Context, teamID, connID string, ev Event) (Outcome, error) {
	outcome, release, err := m.SubmitHeld(ctx, teamID, connID, ev)
	release()
	return outcome, err
}

// SubmitHeld is Submit for callers that answer connID themselves. When it
// returns, every notification queued for connID before ev was applied has been
// delivered, and later ones wait until release is called. Writing the reply in
// between keeps it at the event's place in connID's stream.
func (m *Manager) SubmitHeld(ctx context.Context, teamID, connID string, ev Event) (Outcome, func(), error) {
	var (
		outcome  Outcome
		applyErr error
		h        *hold
		out      *outbox
	)
	err := m.dispatch(ctx, teamID, false, func(s *teamSession) {
		outcome, applyErr = s.submit(connID, ev)
		mem, ok := s.members[connID]
		if !ok {
			return
		}
		h = newHold()
		if !mem.out.push(outbound{hold: h}) {
			s.drop(connID)
			h = nil
			return
		}
		out = mem.out
	})
	if err != nil {
		return Outcome{}, func() {}, err
	}
	if h == nil {
		return outcome, func() {}, applyErr
	}

	select {
	case <-h.reached:
		return outcome, h.release, applyErr
	case <-out.stop:
	case <-ctx.Done():
	}
	h.release()
	return outcome, func() {}, applyErr
}

// Files returns the current records of teamID, falling back to the snapshot
// backend for sessions that are not loaded.
func (m *Manager) Files(ctx context.Context, teamID string) ([]files.Record, bool, error) {
	if m.store.Has(teamID) {
		return m.store.Snapshot(teamID), true, nil
	}
	if m.opts.Snapshots == nil {
		return nil, false, nil
	}
	records, found, err := m.opts.Snapshots.Load(ctx, teamID)
	metrics.RecordSnapshotOperation("load", err == nil)
	return records, found, err
}

// ActiveSessions returns the number of loaded sessions, dormant ones included.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown saves every session and stops all loops.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*teamSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	retiring := make([]chan struct{}, 0, len(m.retiring))
	for _, done := range m.retiring {
		retiring = append(retiring, done)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.inbox <- func(s *teamSession) bool {
			s.save("shutdown")
			for _, mem := range s.members {
				mem.out.close()
			}
			return true
		}
	}
	for _, s := range sessions {
		<-s.done
	}
	for _, done := range retiring {
		<-done
	}

	m.cancel()
	m.mu.Lock()
	m.sessions = make(map[string]*teamSession)
	m.mu.Unlock()
	metrics.SetSessionsActive(0)
	slog.Info("broadcaster shutdown complete", "sessionsClosed", len(sessions))
}

// command runs on a session loop. Returning true stops the loop.
type command func(s *teamSession) bool

// Command states for dispatch.
const (
	cmdQueued int32 = iota
	cmdRunning
	cmdAbandoned
)

// dispatch runs fn on the loop of teamID and waits for it. A loop that stops
// before running fn was evicted, so the lookup is retried. When ctx ends before
// fn starts, fn is skipped and ctx's error returned; once fn started, dispatch
// waits for it so the caller always learns what it did.
func (m *Manager) dispatch(ctx context.Context, teamID string, create bool, fn func(*teamSession)) error {
	for {
		s, err := m.session(teamID, create)
		if err != nil {
			return err
		}

		var state atomic.Int32
		ran := make(chan struct{})
		cmd := func(s *teamSession) bool {
			if !state.CompareAndSwap(cmdQueued, cmdRunning) {
				return false
			}
			fn(s)
			close(ran)
			return false
		}

		select {
		case s.inbox <- cmd:
		case <-s.done:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case <-ran:
			return nil
		case <-s.done:
			select {
			case <-ran:
				return nil
			default:
			}
			continue
		case <-ctx.Done():
			if state.CompareAndSwap(cmdQueued, cmdAbandoned) {
				return ctx.Err()
			}
			<-ran
			return nil
		}
	}
}

func (m *Manager) session(teamID string, create bool) (*teamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrShutdown
	}
	if s, ok := m.sessions[teamID]; ok {
		return s, nil
	}
	if !create {
		return nil, ErrNotJoined
	}

	s := &teamSession{
		teamID:     teamID,
		manager:    m,
		inbox:      make(chan command, inboxSize),
		done:       make(chan struct{}),
		prev:       m.retiring[teamID],
		members:    make(map[string]*member),
		lastActive: time.Now(),
		log:        slog.With("teamId", teamID),
	}
	m.sessions[teamID] = s
	metrics.SetSessionsActive(len(m.sessions))
	go s.run()
	return s, nil
}

// retire removes s from the table so new joins start a fresh loop that waits
// for s to finish saving.
func (m *Manager) retire(s *teamSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.sessions[s.teamID] != s {
		return false
	}
	delete(m.sessions, s.teamID)
	m.retiring[s.teamID] = s.done
	metrics.SetSessionsActive(len(m.sessions))
	return true
}

func (m *Manager) retired(s *teamSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retiring[s.teamID] == s.done {
		delete(m.retiring, s.teamID)
	}
}

func (m *Manager) runIdleReaper() {
	ticker := time.NewTicker(max(m.opts.IdleTimeout/4, minReaperInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapIdle()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) reapIdle() {
	now := time.Now()

	m.mu.Lock()
	var idle []*teamSession
	for _, s := range m.sessions {
		if now.Sub(s.getLastActive()) > m.opts.IdleTimeout {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		select {
		case s.inbox <- (*teamSession).evict:
		default:
			// Busy sessions are not idle; try again next tick.
		}
	}
}

type member struct {
	participant session.Participant
	out         *outbox
}

// teamSession is the state owned by one session loop.
type teamSession struct {
	teamID  string
	manager *Manager
	inbox   chan command
	done    chan struct{}
	prev    chan struct{}
	log     *slog.Logger

	// Loop-owned.
	members map[string]*member

	mu         sync.Mutex
	lastActive time.Time
}

func (s *teamSession) run() {
	defer s.manager.retired(s)
	defer close(s.done)

	if s.prev != nil {
		<-s.prev
	}
	s.seed()

	for cmd := range s.inbox {
		if cmd(s) {
			return
		}
	}
}

// seed loads a workspace that is not in memory yet, from the snapshot backend
// when it has one and from the starter template otherwise.
func (s *teamSession) seed() {
	m := s.manager
	if m.store.Has(s.teamID) {
		return
	}

	if m.opts.Snapshots != nil {
		ctx, cancel := context.WithTimeout(m.ctx, saveTimeout)
		records, found, err := m.opts.Snapshots.Load(ctx, s.teamID)
		cancel()
		metrics.RecordSnapshotOperation("load", err == nil)
		if err != nil {
			s.log.Error("failed to load snapshot", "error", err)
		} else if found {
			m.store.Load(s.teamID, records)
			s.log.Info("workspace restored", "files", len(records))
			return
		}
	}

	m.store.Load(s.teamID, nil)
	seeded := 0
	for _, req := range m.opts.Template.Files() {
		if _, err := m.store.Create(s.teamID, req); err != nil {
			s.log.Warn("skipping template entry", "path", req.Path, "error", err)
			continue
		}
		seeded++
	}
	s.log.Info("workspace created", "templateFiles", seeded)
}

func (s *teamSession) join(p session.Participant, peer Peer) JoinResult {
	m := s.manager
	prev, rejoin := s.members[p.ConnID]
	if rejoin {
		prev.out.close()
	}

	participants, created := m.registry.Join(s.teamID, p)
	for _, joined := range participants {
		if joined.ConnID == p.ConnID {
			p = joined
		}
	}
	s.members[p.ConnID] = &member{
		participant: p,
		out:         newOutbox(m.ctx, peer, s.log.With("connId", p.ConnID)),
	}
	s.touch()
	if !rejoin {
		metrics.ParticipantJoined()
	}

	s.notifyOthers(p.ConnID, rpc.NotifyParticipants, rpc.ParticipantsParams{
		TeamID:       s.teamID,
		Participants: participants,
	})
	s.log.Info("participant joined", "connId", p.ConnID, "userId", p.UserID, "participants", len(participants))

	return JoinResult{
		Files:        m.store.Snapshot(s.teamID),
		Participants: participants,
		Created:      created,
	}
}

func (s *teamSession) leave(connID string) bool {
	mem, ok := s.members[connID]
	if !ok {
		return false
	}
	mem.out.close()
	s.detach(connID)
	return true
}

// drop disconnects a participant whose outbox overflowed. Its connection's
// own cleanup then finds it already gone.
func (s *teamSession) drop(connID string) {
	mem, ok := s.members[connID]
	if !ok {
		return
	}
	mem.out.disconnect()
	metrics.RecordPeerDropped()
	s.log.Warn("participant dropped, notifications backed up", "connId", connID)
	s.detach(connID)
}

func (s *teamSession) detach(connID string) {
	delete(s.members, connID)
	metrics.ParticipantLeft()
	s.touch()

	participants, last, _ := s.manager.registry.Leave(s.teamID, connID)
	s.notifyOthers(connID, rpc.NotifyParticipants, rpc.ParticipantsParams{
		TeamID:       s.teamID,
		Participants: participants,
	})
	s.log.Info("participant left", "connId", connID, "participants", len(participants))

	if last {
		s.save("last leave")
	}
}

func (s *teamSession) submit(connID string, ev Event) (Outcome, error) {
	from, ok := s.members[connID]
	if !ok {
		return Outcome{}, ErrNotJoined
	}
	s.touch()

	outcome, err := s.apply(from.participant, ev)
	switch {
	case err != nil:
		metrics.RecordEvent(ev.Type(), "rejected")
	case outcome.Applied:
		metrics.RecordEvent(ev.Type(), "applied")
	default:
		metrics.RecordEvent(ev.Type(), "ignored")
		s.log.Debug("event ignored", "type", ev.Type(), "connId", connID)
	}
	return outcome, err
}

func (s *teamSession) apply(from session.Participant, ev Event) (Outcome, error) {
	store := s.manager.store

	switch ev := ev.(type) {
	case Create:
		rec, err := store.Create(s.teamID, files.CreateRequest{
			Path:     ev.Path,
			Kind:     ev.Kind,
			Content:  ev.Content,
			Language: ev.Language,
			Author:   from.UserID,
		})
		if errors.Is(err, files.ErrEmptyPath) {
			return Outcome{}, nil
		}
		if err != nil {
			return Outcome{}, err
		}
		s.notifyOthers(from.ConnID, rpc.NotifyFileCreated, rpc.FileCreatedParams{
			TeamID: s.teamID,
			File:   rec,
			By:     from.UserID,
		})
		return Outcome{Applied: true, Created: &rec}, nil

	case Update:
		rec, ok := store.Update(s.teamID, ev.FileID, ev.Content, from.UserID)
		if !ok {
			return Outcome{}, nil
		}
		s.notifyOthers(from.ConnID, rpc.NotifyFileUpdated, rpc.FileUpdatedParams{
			TeamID:  s.teamID,
			FileID:  rec.ID,
			Content: rec.Content,
			By:      from.UserID,
		})
		return Outcome{Applied: true, Updated: &rec}, nil

	case Delete:
		var removed []string
		if ev.FileID != "" {
			removed = store.Delete(s.teamID, ev.FileID)
		} else {
			removed = store.DeletePath(s.teamID, ev.Path)
		}
		if len(removed) == 0 {
			return Outcome{}, nil
		}
		s.notifyOthers(from.ConnID, rpc.NotifyFileDeleted, rpc.FileDeletedParams{
			TeamID:  s.teamID,
			FileIDs: removed,
			By:      from.UserID,
		})
		return Outcome{Applied: true, Deleted: removed}, nil

	case Focus:
		p, ok := s.manager.registry.Focus(s.teamID, from.ConnID, ev.FileID)
		if !ok {
			return Outcome{}, nil
		}
		s.members[from.ConnID].participant = p
		s.notifyOthers(from.ConnID, rpc.NotifyFileFocused, rpc.FileFocusedParams{
			TeamID:      s.teamID,
			FileID:      ev.FileID,
			Participant: p,
		})
		return Outcome{Applied: true, Focused: &p}, nil

	default:
		return Outcome{}, fmt.Errorf("unknown event %T", ev)
	}
}

// notifyOthers queues a notification for every member except connID. Members
// whose outbox is full are dropped.
func (s *teamSession) notifyOthers(connID, method string, params any) {
	var stalled []string
	for id, mem := range s.members {
		if id == connID {
			continue
		}
		if !mem.out.push(outbound{method: method, params: params}) {
			stalled = append(stalled, id)
		}
	}
	for _, id := range stalled {
		s.drop(id)
	}
}

// evict drops a session that is still idle and empty. Runs on the loop.
func (s *teamSession) evict() bool {
	if len(s.members) > 0 || time.Since(s.getLastActive()) <= s.manager.opts.IdleTimeout {
		return false
	}
	if !s.manager.retire(s) {
		return false
	}
	s.save("eviction")
	s.manager.store.Drop(s.teamID)
	metrics.RecordSessionEvicted()
	s.log.Info("idle session evicted")
	return true
}

func (s *teamSession) save(reason string) {
	backend := s.manager.opts.Snapshots
	if backend == nil {
		return
	}
	records := s.manager.store.Snapshot(s.teamID)

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	err := backend.Save(ctx, s.teamID, records)
	metrics.RecordSnapshotOperation("save", err == nil)
	if err != nil {
		s.log.Error("failed to save snapshot", "error", err, "reason", reason)
		return
	}
	s.log.Debug("snapshot saved", "files", len(records), "reason", reason)
}

func (s *teamSession) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *teamSession) getLastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
