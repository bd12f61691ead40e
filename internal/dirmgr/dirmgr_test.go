package dirmgr

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emx-mail/mailcore/internal/imapexpr"
)

// fakeAccessor is a test Accessor whose ForceClose schedules its own
// Unregister call on a separate goroutine, exactly like a real
// engine's force-close would (never synchronously, since the manager's
// write lock is held during ForceClose). If release is non-nil, that
// Unregister waits until release is closed.
type fakeAccessor struct {
	name    string
	m       *Manager
	id      string
	release chan struct{}
}

func (a *fakeAccessor) ForceClose() {
	go func() {
		if a.release != nil {
			<-a.release
		}
		_ = a.m.Unregister(a.name, a)
	}()
}

func TestOpenRefcount(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	a1 := &fakeAccessor{name: "INBOX", m: m, id: "a1"}
	a2 := &fakeAccessor{name: "INBOX", m: m, id: "a2"}

	d1, err := m.Open("INBOX", a1)
	if err != nil {
		t.Fatalf("Open 1: %v", err)
	}
	d2, err := m.Open("INBOX", a2)
	if err != nil {
		t.Fatalf("Open 2: %v", err)
	}
	if d1.Path != d2.Path {
		t.Fatalf("expected same path, got %q vs %q", d1.Path, d2.Path)
	}

	snap := m.Snapshot()
	if _, ok := snap["INBOX"]; !ok {
		t.Fatalf("expected INBOX in snapshot")
	}

	if err := m.Unregister("INBOX", a1); err != nil {
		t.Fatalf("Unregister 1: %v", err)
	}
	if _, ok := m.Snapshot()["INBOX"]; !ok {
		t.Fatalf("INBOX should still be registered after one of two unregisters")
	}

	if err := m.Unregister("INBOX", a2); err != nil {
		t.Fatalf("Unregister 2: %v", err)
	}
	if _, ok := m.Snapshot()["INBOX"]; ok {
		t.Fatalf("INBOX should be gone after last unregister")
	}

	// a subsequent open allocates a fresh entry.
	a3 := &fakeAccessor{name: "INBOX", m: m, id: "a3"}
	if _, err := m.Open("INBOX", a3); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = m.Unregister("INBOX", a3)
}

func TestOpenBlocksDuringDeletingCtn(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	a1 := &fakeAccessor{name: "Trash", m: m, id: "a1", release: make(chan struct{})}
	if _, err := m.Open("Trash", a1); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// force the directory into DELETING_CTN: simulate a LIST that now
	// reports Trash as \Noselect.
	tree := []imapexpr.ListResp{
		{Mailbox: imapexpr.NewMailbox("Trash"), Flags: imapexpr.MFlags{Noselect: true}},
	}
	if err := m.SyncFolders(tree); err != nil {
		t.Fatalf("SyncFolders: %v", err)
	}

	var wg sync.WaitGroup
	opened := make(chan *Dir, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		a2 := &fakeAccessor{name: "Trash", m: m, id: "a2"}
		d, err := m.Open("Trash", a2)
		if err != nil {
			t.Errorf("blocked Open: %v", err)
			return
		}
		opened <- d
	}()

	select {
	case <-opened:
		t.Fatalf("Open returned before the deleting-ctn transition completed")
	case <-time.After(50 * time.Millisecond):
	}

	// a1's ForceClose (triggered by scheduleCtnDeletion inside
	// SyncFolders) unregisters it once released, which should wake the
	// blocked Open.
	close(a1.release)
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatalf("blocked Open never woke up")
	}
	wg.Wait()
}

func TestSyncFoldersCreatesAndDeletes(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	tree := []imapexpr.ListResp{
		{Mailbox: imapexpr.NewMailbox("Archive")},
		{Mailbox: imapexpr.NewMailbox("INBOX")},
	}
	if err := m.SyncFolders(tree); err != nil {
		t.Fatalf("SyncFolders: %v", err)
	}
	for _, name := range []string{"Archive", "INBOX"} {
		for _, sub := range []string{"cur", "tmp", "new"} {
			if _, err := os.Stat(filepath.Join(root, name, sub)); err != nil {
				t.Fatalf("expected %s/%s: %v", name, sub, err)
			}
		}
	}

	// a stale local-only directory not in the server's LIST response
	// gets deleted on the next sync.
	stale := filepath.Join(root, "Stale")
	if err := os.MkdirAll(filepath.Join(stale, "cur"), 0o777); err != nil {
		t.Fatal(err)
	}
	if err := m.SyncFolders(tree); err != nil {
		t.Fatalf("second SyncFolders: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected Stale to be removed, stat err = %v", err)
	}
}

func TestSyncFoldersPreservesContainerWithChildren(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	tree := []imapexpr.ListResp{
		{Mailbox: imapexpr.NewMailbox("Parent/Child"), Delimiter: '/'},
	}
	if err := m.SyncFolders(tree); err != nil {
		t.Fatalf("SyncFolders: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Parent", "Child", "cur")); err != nil {
		t.Fatalf("expected nested Child/cur: %v", err)
	}

	// Parent is not itself remote, but must survive since Child is.
	treeNoParent := []imapexpr.ListResp{
		{Mailbox: imapexpr.NewMailbox("Parent/Child"), Delimiter: '/'},
	}
	if err := m.SyncFolders(treeNoParent); err != nil {
		t.Fatalf("second SyncFolders: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Parent")); err != nil {
		t.Fatalf("expected Parent to survive as a container: %v", err)
	}
}
