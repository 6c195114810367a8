package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roboleague/collab/auth"
	"github.com/roboleague/collab/broadcast"
	"github.com/roboleague/collab/files"
	"github.com/roboleague/collab/session"
	"github.com/roboleague/collab/watch"
	"github.com/roboleague/collab/ws"
)

const testToken = "test-token"

type testServer struct {
	t     *testing.T
	url   string
	store *files.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := files.NewMemoryStore()
	registry := session.NewRegistry()
	manager := broadcast.NewManager(store, registry, broadcast.Options{})
	workspaceList := watch.NewWorkspaceListWatcher(registry)
	workspaceList.Start()

	h := ws.NewRPCHandler(auth.NewTokenVerifier(testToken), "test", true, manager, workspaceList)
	server := httptest.NewServer(h)
	t.Cleanup(func() {
		server.Close()
		manager.Shutdown()
		workspaceList.Stop()
	})
	return &testServer{t: t, url: "ws" + strings.TrimPrefix(server.URL, "http"), store: store}
}

func (s *testServer) dial(name string, opts ClientOptions) *Client {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts.Token = testToken
	opts.Name = name
	opts.Logger = slog.Default()
	c, err := Dial(ctx, s.url, opts)
	if err != nil {
		s.t.Fatalf("Dial failed: %v", err)
	}
	s.t.Cleanup(func() { c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func content(c *Client, fileID string) string {
	rec, _ := c.Shell().File(fileID)
	return rec.Content
}

func TestClient_DialRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)

	if _, err := Dial(ctx, s.url, ClientOptions{Token: "wrong"}); err == nil {
		t.Error("expected auth failure")
	}
}

func TestClient_Identity(t *testing.T) {
	s := newTestServer(t)
	c := s.dial("Ann", ClientOptions{})

	id := c.Identity()
	if id.Name != "Ann" || !strings.HasPrefix(id.UserID, "guest-") {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestClient_EndToEndScenario(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)
	a := s.dial("A", ClientOptions{})
	b := s.dial("B", ClientOptions{})

	if err := a.Join(ctx, "42"); err != nil {
		t.Fatalf("A join: %v", err)
	}
	if got := len(a.Shell().Records()); got != 0 {
		t.Fatalf("expected empty session, got %d records", got)
	}

	rec, err := a.Create(ctx, "main.py", files.KindFile, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Language != "python" {
		t.Errorf("expected python language, got %q", rec.Language)
	}

	if err := b.Join(ctx, "42"); err != nil {
		t.Fatalf("B join: %v", err)
	}
	if _, ok := b.Shell().File(rec.ID); !ok {
		t.Fatal("expected B's snapshot to contain main.py")
	}
	eventually(t, "A to see B", func() bool { return len(a.Shell().Participants()) == 2 })

	if err := a.Edit(ctx, rec.ID, "print(1)"); err != nil {
		t.Fatalf("A edit: %v", err)
	}
	eventually(t, "B to see print(1)", func() bool { return content(b, rec.ID) == "print(1)" })

	if err := b.Edit(ctx, rec.ID, "print(2)"); err != nil {
		t.Fatalf("B edit: %v", err)
	}
	eventually(t, "A to see print(2)", func() bool { return content(a, rec.ID) == "print(2)" })

	if content(b, rec.ID) != "print(2)" {
		t.Errorf("expected B to show print(2), got %q", content(b, rec.ID))
	}
	stored := s.store.Snapshot("42")
	if len(stored) != 1 || stored[0].Content != "print(2)" {
		t.Errorf("expected server content print(2), got %+v", stored)
	}
}

func TestClient_CreateEmptyPathIsLocal(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)
	c := s.dial("A", ClientOptions{})
	if err := c.Join(ctx, "42"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := c.Create(ctx, " // ", files.KindFile, ""); !errors.Is(err, files.ErrEmptyPath) {
		t.Errorf("expected ErrEmptyPath, got %v", err)
	}
	if got := len(s.store.Snapshot("42")); got != 0 {
		t.Errorf("expected nothing created, got %d records", got)
	}
}

func TestClient_RequiresJoin(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)
	c := s.dial("A", ClientOptions{})

	if _, err := c.Create(ctx, "a.txt", files.KindFile, ""); !errors.Is(err, ErrNotJoined) {
		t.Errorf("expected ErrNotJoined, got %v", err)
	}
	if err := c.Leave(ctx); !errors.Is(err, ErrNotJoined) {
		t.Errorf("expected ErrNotJoined on leave, got %v", err)
	}
}

func TestClient_DeleteFolderCascades(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)
	a := s.dial("A", ClientOptions{})
	b := s.dial("B", ClientOptions{})
	for _, c := range []*Client{a, b} {
		if err := c.Join(ctx, "42"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	app, _ := a.Create(ctx, "src/app.js", files.KindFile, "")
	helpers, _ := a.Create(ctx, "src/utils/helpers.js", files.KindFile, "")
	readme, _ := a.Create(ctx, "README.md", files.KindFile, "")
	eventually(t, "B to see three files", func() bool { return len(b.Shell().Records()) == 3 })

	want := CascadeTargets(a.Shell().Records(), "src")
	deleted, err := a.DeleteFolder(ctx, "src")
	if err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	if len(deleted) != 2 || len(want) != 2 {
		t.Fatalf("expected 2 deleted ids, got %v (local targets %v)", deleted, want)
	}
	for _, id := range []string{app.ID, helpers.ID} {
		if _, ok := a.Shell().File(id); ok {
			t.Errorf("expected %s removed locally", id)
		}
	}

	eventually(t, "B to drop src", func() bool { return len(b.Shell().Records()) == 1 })
	for _, r := range b.Shell().Records() {
		if r.Under("src") {
			t.Errorf("record %s left under src", r.Path)
		}
	}
	if _, ok := b.Shell().File(readme.ID); !ok {
		t.Error("expected README.md kept")
	}
}

func TestClient_DeleteExplicitFolder(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)
	a := s.dial("A", ClientOptions{})
	if err := a.Join(ctx, "42"); err != nil {
		t.Fatalf("join: %v", err)
	}

	dir, _ := a.Create(ctx, "lib", files.KindFolder, "")
	a.Create(ctx, "lib/motor.cpp", files.KindFile, "")

	deleted, err := a.DeleteFolder(ctx, "lib")
	if err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	if len(deleted) != 2 || deleted[0] != dir.ID {
		t.Errorf("expected folder and child deleted, got %v", deleted)
	}
	if len(a.Shell().Records()) != 0 {
		t.Errorf("expected no local records, got %+v", a.Shell().Records())
	}
}

func TestClient_Debounce(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)

	var notified = make(chan string, 64)
	a := s.dial("A", ClientOptions{Debounce: 30 * time.Millisecond})
	b := s.dial("B", ClientOptions{OnNotify: func(method string) { notified <- method }})
	for _, c := range []*Client{a, b} {
		if err := c.Join(ctx, "42"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	rec, _ := a.Create(ctx, "main.py", files.KindFile, "")
	for _, text := range []string{"p", "pr", "pri", "print"} {
		if err := a.Edit(ctx, rec.ID, text); err != nil {
			t.Fatalf("edit: %v", err)
		}
	}
	if content(a, rec.ID) != "print" {
		t.Errorf("expected optimistic local content, got %q", content(a, rec.ID))
	}

	eventually(t, "B to see print", func() bool { return content(b, rec.ID) == "print" })

	time.Sleep(100 * time.Millisecond)
	updates := 0
	for len(notified) > 0 {
		if <-notified == "file.updated" {
			updates++
		}
	}
	if updates != 1 {
		t.Errorf("expected one coalesced update, got %d", updates)
	}
}

func TestClient_ConcurrentEditsConverge(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)
	a := s.dial("A", ClientOptions{})
	b := s.dial("B", ClientOptions{})
	for _, c := range []*Client{a, b} {
		if err := c.Join(ctx, "42"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	rec, err := a.Create(ctx, "main.py", files.KindFile, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	eventually(t, "B to see main.py", func() bool {
		_, ok := b.Shell().File(rec.ID)
		return ok
	})

	stored := func() string {
		for _, r := range s.store.Snapshot("42") {
			if r.ID == rec.ID {
				return r.Content
			}
		}
		return ""
	}

	const rounds = 100
	for i := 0; i < rounds; i++ {
		var wg sync.WaitGroup
		for _, c := range []*Client{a, b} {
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				text := fmt.Sprintf("%s%d", c.Identity().Name, i)
				if err := c.Edit(ctx, rec.ID, text); err != nil {
					t.Errorf("edit: %v", err)
				}
			}(c)
		}
		wg.Wait()

		deadline := time.Now().Add(2 * time.Second)
		for {
			server, viewA, viewB := stored(), content(a, rec.ID), content(b, rec.ID)
			if viewA == server && viewB == server {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("round %d: views diverged, server=%q a=%q b=%q", i, server, viewA, viewB)
			}
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func TestClient_FlushSendsPendingEdits(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)
	a := s.dial("A", ClientOptions{Debounce: time.Hour})
	if err := a.Join(ctx, "42"); err != nil {
		t.Fatalf("join: %v", err)
	}

	rec, _ := a.Create(ctx, "main.py", files.KindFile, "")
	a.Edit(ctx, rec.ID, "print(1)")
	if got := s.store.Snapshot("42")[0].Content; got != "" {
		t.Fatalf("expected edit held back, server has %q", got)
	}

	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := s.store.Snapshot("42")[0].Content; got != "print(1)" {
		t.Errorf("expected flushed content, got %q", got)
	}
}

func TestClient_FocusAndPresence(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)
	a := s.dial("A", ClientOptions{})
	b := s.dial("B", ClientOptions{})
	for _, c := range []*Client{a, b} {
		if err := c.Join(ctx, "42"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	rec, _ := a.Create(ctx, "main.py", files.KindFile, "")
	eventually(t, "B to see main.py", func() bool { _, ok := b.Shell().File(rec.ID); return ok })

	if err := a.Open(ctx, rec.ID); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.Shell().Active() != rec.ID {
		t.Errorf("expected main.py active, got %q", a.Shell().Active())
	}

	self := a.Self()
	eventually(t, "B to see A's focus", func() bool {
		for _, p := range b.Shell().Participants() {
			if p.ConnID == self.ConnID && p.FocusedFileID == rec.ID {
				return true
			}
		}
		return false
	})

	if err := a.Leave(ctx); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	eventually(t, "B to see A leave", func() bool { return len(b.Shell().Participants()) == 1 })
	if a.Shell().TeamID() != "" || len(a.Shell().Records()) != 0 {
		t.Error("expected A's shell cleared after leave")
	}
}

func TestClient_SwitchTeamsIgnoresOldWorkspace(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)
	a := s.dial("A", ClientOptions{})
	b := s.dial("B", ClientOptions{})

	if err := a.Join(ctx, "1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := b.Join(ctx, "1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := a.Join(ctx, "2"); err != nil {
		t.Fatalf("join 2: %v", err)
	}

	if _, err := b.Create(ctx, "old.txt", files.KindFile, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	created, err := a.Create(ctx, "new.txt", files.KindFile, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	recs := a.Shell().Records()
	if len(recs) != 1 || recs[0].ID != created.ID {
		t.Errorf("expected only team 2 records, got %+v", recs)
	}
	eventually(t, "B to see A leave team 1", func() bool { return len(b.Shell().Participants()) == 1 })
}

func TestClient_Done(t *testing.T) {
	s := newTestServer(t)
	c := s.dial("A", ClientOptions{})
	c.Close()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Done to close after Close")
	}
}
