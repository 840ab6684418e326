package search

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// errWalkStopped signals an early, successful stop (result cap reached).
var errWalkStopped = errors.New("walk stopped")

// walkFunc receives each surviving entry with its workspace-relative path.
// Returning false stops the walk.
type walkFunc func(rel string, entry fs.DirEntry) bool

// walkWorkspace walks root depth-first in lexical order, maintaining the
// layered ignore set as it descends. Symlinks are reported but never
// followed. Ignore files in ancestor directories between root and the git
// repository root are loaded first so a workspace nested inside a repo
// still honors the repo's top-level ignore rules.
func walkWorkspace(root string, includeHidden bool, fn walkFunc) error {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	ign := newIgnoreSet(includeHidden)
	loadAncestorIgnores(ign, rootAbs)

	err = walkDir(rootAbs, ".", ign, fn)
	if errors.Is(err, errWalkStopped) {
		return nil
	}
	return err
}

// loadAncestorIgnores loads ignore files from the directories above root, up
// to and including the enclosing git repository root (detected by a .git
// entry). Patterns from ancestors apply to everything under root.
func loadAncestorIgnores(ign *ignoreSet, rootAbs string) {
	var ancestors []string
	dir := filepath.Dir(rootAbs)
	for {
		ancestors = append(ancestors, dir)
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// no repo root found; ancestor layers do not apply
			return
		}
		dir = parent
	}
	// outermost first so deeper layers take precedence
	for i := len(ancestors) - 1; i >= 0; i-- {
		ign.loadDir(ancestors[i], "")
	}
}

func walkDir(dir, rel string, ign *ignoreSet, fn walkFunc) error {
	added := ign.loadDir(dir, rel)
	defer ign.pop(added)

	entries, err := os.ReadDir(dir)
	if err != nil {
		// unreadable directories are skipped, not fatal
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		entryRel := filepath.Join(rel, entry.Name())
		isDir := entry.IsDir()
		if ign.Ignored(entryRel, isDir) {
			continue
		}
		if !fn(entryRel, entry) {
			return errWalkStopped
		}
		// IsDir is false for symlinks, so a symlinked directory is
		// reported above but never descended into.
		if isDir {
			if err := walkDir(filepath.Join(dir, entry.Name()), entryRel, ign, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
