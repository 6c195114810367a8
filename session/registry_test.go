package session

import (
	"testing"
	"time"
)

type recordingListener struct {
	events []ChangeEvent
}

func (l *recordingListener) OnSessionChange(event ChangeEvent) {
	l.events = append(l.events, event)
}

func names(ps []Participant) []string {
	result := make([]string, len(ps))
	for i, p := range ps {
		result[i] = p.Name
	}
	return result
}

func TestRegistry_Join(t *testing.T) {
	r := NewRegistry()

	ps, created := r.Join("42", Participant{ConnID: "c1", UserID: "u1", Name: "Alice"})
	if !created {
		t.Error("expected first join to create the session")
	}
	if len(ps) != 1 || ps[0].Name != "Alice" {
		t.Errorf("expected [Alice], got %v", names(ps))
	}
	if ps[0].JoinedAt.IsZero() {
		t.Error("expected JoinedAt to be set")
	}

	ps, created = r.Join("42", Participant{ConnID: "c2", UserID: "u2", Name: "Bob"})
	if created {
		t.Error("expected second join to reuse the session")
	}
	if len(ps) != 2 {
		t.Errorf("expected 2 participants, got %d", len(ps))
	}
}

func TestRegistry_JoinSameConnectionReplaces(t *testing.T) {
	r := NewRegistry()

	r.Join("1", Participant{ConnID: "c1", Name: "Old"})
	ps, _ := r.Join("1", Participant{ConnID: "c1", Name: "New"})

	if len(ps) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(ps))
	}
	if ps[0].Name != "New" {
		t.Errorf("expected name 'New', got %q", ps[0].Name)
	}
}

func TestRegistry_PresenceConsistency(t *testing.T) {
	r := NewRegistry()

	const n, m = 5, 3
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		r.Join("team", Participant{ConnID: id, UserID: "u" + id, Name: "user-" + id})
	}

	var ps []Participant
	for i := 0; i < m; i++ {
		id := string(rune('a' + i))
		var ok bool
		ps, _, ok = r.Leave("team", id)
		if !ok {
			t.Fatalf("expected leave of %s to succeed", id)
		}
	}

	if len(ps) != n-m {
		t.Fatalf("expected %d participants, got %d", n-m, len(ps))
	}
	want := []string{"user-d", "user-e"}
	for i, name := range names(ps) {
		if name != want[i] {
			t.Errorf("participant %d: expected %q, got %q", i, want[i], name)
		}
	}
}

func TestRegistry_LeaveLast(t *testing.T) {
	r := NewRegistry()
	r.Join("1", Participant{ConnID: "c1"})

	ps, last, ok := r.Leave("1", "c1")
	if !ok || !last {
		t.Errorf("expected ok and last, got ok=%v last=%v", ok, last)
	}
	if len(ps) != 0 {
		t.Errorf("expected no participants, got %d", len(ps))
	}
	if _, found := r.Get("1"); found {
		t.Error("expected session to be removed")
	}

	// Rejoining starts a fresh session
	if _, created := r.Join("1", Participant{ConnID: "c2"}); !created {
		t.Error("expected rejoin to create the session again")
	}
}

func TestRegistry_LeaveUnknown(t *testing.T) {
	r := NewRegistry()

	if _, _, ok := r.Leave("none", "c1"); ok {
		t.Error("expected leave from unknown team to fail")
	}

	r.Join("1", Participant{ConnID: "c1"})
	ps, last, ok := r.Leave("1", "other")
	if ok || last {
		t.Errorf("expected unknown connection to be ignored, got ok=%v last=%v", ok, last)
	}
	if len(ps) != 1 {
		t.Errorf("expected participants unchanged, got %d", len(ps))
	}
}

func TestRegistry_Focus(t *testing.T) {
	r := NewRegistry()
	r.Join("1", Participant{ConnID: "c1", Name: "Alice"})

	p, ok := r.Focus("1", "c1", "file-1")
	if !ok {
		t.Fatal("expected focus to succeed")
	}
	if p.FocusedFileID != "file-1" {
		t.Errorf("expected focused file 'file-1', got %q", p.FocusedFileID)
	}
	if got := r.Participants("1")[0].FocusedFileID; got != "file-1" {
		t.Errorf("expected stored focus 'file-1', got %q", got)
	}

	if _, ok := r.Focus("1", "missing", "file-1"); ok {
		t.Error("expected focus of unknown participant to fail")
	}
	if _, ok := r.Focus("2", "c1", "file-1"); ok {
		t.Error("expected focus in unknown team to fail")
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	base := time.Unix(1700000000, 0)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	r.Join("older", Participant{ConnID: "c1"})
	r.Join("newer", Participant{ConnID: "c2"})
	r.Join("newer", Participant{ConnID: "c3"})

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].TeamID != "newer" {
		t.Errorf("expected most recent session first, got %s", list[0].TeamID)
	}
	if list[0].Participants != 2 {
		t.Errorf("expected 2 participants, got %d", list[0].Participants)
	}
}

func TestRegistry_ListenerNotified(t *testing.T) {
	r := NewRegistry()
	l := &recordingListener{}
	r.SetOnChangeListener(l)

	r.Join("1", Participant{ConnID: "c1"})
	r.Join("1", Participant{ConnID: "c2"})
	r.Focus("1", "c1", "f")
	r.Leave("1", "c2")
	r.Leave("1", "c1")

	want := []Operation{OperationCreated, OperationUpdated, OperationUpdated, OperationRemoved}
	if len(l.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(l.events))
	}
	for i, op := range want {
		if l.events[i].Op != op {
			t.Errorf("event %d: expected %s, got %s", i, op, l.events[i].Op)
		}
		if l.events[i].Session.TeamID != "1" {
			t.Errorf("event %d: expected team 1, got %s", i, l.events[i].Session.TeamID)
		}
	}
	if l.events[3].Session.Participants != 0 {
		t.Errorf("expected removal with 0 participants, got %d", l.events[3].Session.Participants)
	}
}
