package group

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groups.json")
	return NewFileStore(path), path
}

func TestStore_RegisterAndFind(t *testing.T) {
	s, _ := newTestStore(t)

	g, err := s.Register(Group{Folder: "alpha", Name: "Alpha", Address: "console:alpha"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if g.CreatedAt.IsZero() {
		t.Fatal("CreatedAt should be stamped")
	}

	if _, err := s.Register(Group{Folder: "alpha"}); err == nil {
		t.Fatal("duplicate folder must be rejected")
	}

	got, ok := s.FindByAddress("console:alpha")
	if !ok || got.Folder != "alpha" {
		t.Fatalf("FindByAddress: %+v, %v", got, ok)
	}
}

func TestStore_EnsureForAddress(t *testing.T) {
	s, _ := newTestStore(t)

	g1, created, err := s.EnsureForAddress("console:Team Chat!", "Team Chat")
	if err != nil || !created {
		t.Fatalf("first Ensure: %+v, %v, %v", g1, created, err)
	}
	if g1.Folder != "console-team-chat" {
		t.Fatalf("derived folder = %q", g1.Folder)
	}

	g2, created, err := s.EnsureForAddress("console:Team Chat!", "whatever")
	if err != nil || created {
		t.Fatalf("second Ensure should be a lookup: %v, %v", created, err)
	}
	if g2.Folder != g1.Folder {
		t.Fatalf("folder changed between calls: %q vs %q", g2.Folder, g1.Folder)
	}
}

func TestStore_PersistenceRoundTrip(t *testing.T) {
	s1, path := newTestStore(t)
	_, _ = s1.Register(Group{Folder: "alpha", Address: "a", TriggerPrefix: "@bot"})
	_ = s1.PutSession("alpha", "claude-main", "sess-1")

	s2 := NewFileStore(path)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	g, ok := s2.Get("alpha")
	if !ok || g.TriggerPrefix != "@bot" {
		t.Fatalf("reloaded group: %+v, %v", g, ok)
	}
	sess, ok := s2.Session("alpha", "claude-main")
	if !ok || sess.ID != "sess-1" {
		t.Fatalf("reloaded session: %+v, %v", sess, ok)
	}
	if _, ok := s2.FindByAddress("a"); !ok {
		t.Fatal("address index not rebuilt on load")
	}
}

func TestStore_SessionOverwriteAndReset(t *testing.T) {
	s, _ := newTestStore(t)
	_, _ = s.Register(Group{Folder: "alpha", Address: "a"})

	_ = s.PutSession("alpha", "p", "one")
	_ = s.PutSession("alpha", "p", "two")
	sess, _ := s.Session("alpha", "p")
	if sess.ID != "two" {
		t.Fatalf("session = %q, want overwrite", sess.ID)
	}

	if err := s.ResetSession("alpha", "p"); err != nil {
		t.Fatalf("ResetSession: %v", err)
	}
	if _, ok := s.Session("alpha", "p"); ok {
		t.Fatal("session should be gone after reset")
	}

	// Resetting a missing session is a no-op.
	if err := s.ResetSession("ghost", "p"); err != nil {
		t.Fatalf("ResetSession on missing group: %v", err)
	}
}

func TestGroup_Activates(t *testing.T) {
	main := Group{Folder: "main"}
	if _, ok := main.Activates("anything"); !ok {
		t.Fatal("main group activates on everything")
	}

	g := Group{Folder: "alpha", TriggerPrefix: "@bot"}
	if prompt, ok := g.Activates("  @bot do the thing "); !ok || prompt != "do the thing" {
		t.Fatalf("Activates = (%q, %v)", prompt, ok)
	}
	if _, ok := g.Activates("just chatting"); ok {
		t.Fatal("untriggered message should not activate")
	}

	open := Group{Folder: "beta"}
	if prompt, ok := open.Activates("hello"); !ok || prompt != "hello" {
		t.Fatalf("no-prefix group: (%q, %v)", prompt, ok)
	}
}

func TestFolderFromAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"console:alpha", "console-alpha"},
		{"+49 151 000/22", "49-151-000-22"},
		{"UPPER_case.mixed", "upper_case-mixed"},
		{"///", "group"},
	}
	for _, tt := range tests {
		if got := FolderFromAddress(tt.in); got != tt.want {
			t.Fatalf("FolderFromAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
