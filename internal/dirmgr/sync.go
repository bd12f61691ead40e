package dirmgr

import (
	"os"
	"path/filepath"

	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/imapexpr"
)

// SyncFolders reconciles the registry and the filesystem against a
// flattened LIST response (dirmgr_sync_folders). This is a one-way
// sync: mailboxes the server reports are created locally; local
// directories the server no longer reports are deleted. Local
// deletions are never replayed to the server (spec §4.9).
//
// tree need not be pre-sorted; each entry's Mailbox.String() is treated
// as the mailbox's full hierarchical name, exactly as the server sent
// it, and is also the relative filesystem path under root (a '/'
// hierarchy delimiter yields nested directories via filepath.Join; any
// other delimiter character yields a single literal path segment,
// since it never matches the OS separator).
func (m *Manager) SyncFolders(tree []imapexpr.ListResp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	remote := make(map[string]imapexpr.ListResp, len(tree))
	for _, lr := range tree {
		remote[lr.Mailbox.String()] = lr
	}

	created := 0

	// Part I: create directories the server reports that we don't
	// have open, and schedule ctn deletion for open directories the
	// server now reports \Noselect.
	for _, lr := range tree {
		name := lr.Mailbox.String()
		if mgd, ok := m.dirs[name]; ok {
			if lr.Flags.Noselect {
				m.scheduleCtnDeletion(mgd)
			}
			continue
		}

		path := filepath.Join(m.root, name)
		if err := os.MkdirAll(path, 0o777); err != nil {
			return errs.Wrapf(errs.KindFS, err, "dirmgr: sync create %q", name)
		}
		if !lr.Flags.Noselect {
			if err := makeCtn(path, 0o777); err != nil {
				return err
			}
		}
		created++
	}

	// Part II: walk the filesystem and delete directories that are
	// neither reported remotely nor currently open.
	deleted := 0
	if _, err := m.deleteExtraDirs(m.root, "", remote, &deleted); err != nil {
		return err
	}

	m.metrics.DirMgrSyncReconciled(created, deleted)
	return nil
}

// deleteExtraDirs recurses into base (whose mailbox-relative path is
// rel), skipping cur/tmp/new, and for each child directory: keeps it
// if the server still reports it (remote), if a recursive child of it
// must be kept, or if it is currently open; otherwise removes it
// entirely. A directory kept
// only because of such a child, but itself no longer remote, is
// "contained" — its own cur/tmp/new are stripped (via scheduleCtnDeletion
// if it's open, or directly otherwise) but the directory node itself
// survives so its descendants remain reachable (delete_extra_dirs).
// Must be called with m.mu held for writing; returns whether base
// itself has any surviving children.
func (m *Manager) deleteExtraDirs(base, rel string, remote map[string]imapexpr.ListResp, deleted *int) (bool, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Wrapf(errs.KindFS, err, "dirmgr: read %q", base)
	}

	haveChildren := false
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		switch entry.Name() {
		case "cur", "tmp", "new":
			continue
		}

		childBase := filepath.Join(base, entry.Name())
		childRel := entry.Name()
		if rel != "" {
			childRel = filepath.Join(rel, entry.Name())
		}

		childHasChildren, err := m.deleteExtraDirs(childBase, childRel, remote, deleted)
		if err != nil {
			return false, err
		}

		_, isRemote := remote[childRel]
		mgd, isOpen := m.dirs[childRel]

		switch {
		case isRemote:
			haveChildren = true
		case childHasChildren:
			// not remote, but we can't delete it (it has surviving
			// descendants), so just strip its own ctn.
			if isOpen {
				m.scheduleCtnDeletion(mgd)
			} else if err := deleteCtn(childBase); err != nil {
				return false, err
			}
			haveChildren = true
		case isOpen:
			// not remote, but still open: leave it in place.
			haveChildren = true
		default:
			if err := os.RemoveAll(childBase); err != nil {
				return false, errs.Wrapf(errs.KindFS, err, "dirmgr: remove %q", childBase)
			}
			*deleted++
		}
	}
	return haveChildren, nil
}
