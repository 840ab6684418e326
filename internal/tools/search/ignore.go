// Package search provides the workspace file-walking tools: glob, list_dir,
// and grep. All three honor the same layered ignore rules (.gitignore and
// .ignore files from the workspace root down), skip hidden entries by
// default, never follow symlinks, and exclude a built-in set of vendor
// directories and binary extensions.
package search

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// builtinDirExclusions are directory names never walked regardless of ignore
// files.
var builtinDirExclusions = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"target":       true,
	"dist":         true,
	"build":        true,
	".idea":        true,
	".vscode":      true,
}

// builtinFileExclusions are file names excluded everywhere.
var builtinFileExclusions = map[string]bool{
	".DS_Store":   true,
	"Thumbs.db":   true,
	"desktop.ini": true,
}

// builtinBinaryExtensions are skipped by grep (and reported as binary by
// list_dir) since their contents are not meaningfully searchable.
var builtinBinaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".pdf": true, ".zip": true, ".gz": true, ".tar": true,
	".bz2": true, ".xz": true, ".7z": true, ".exe": true, ".dll": true,
	".so": true, ".dylib": true, ".a": true, ".o": true, ".class": true,
	".jar": true, ".war": true, ".wasm": true, ".woff": true, ".woff2": true,
	".ttf": true, ".eot": true, ".mp3": true, ".mp4": true, ".avi": true,
	".mov": true, ".sqlite": true, ".db": true,
}

// ignorePattern is one parsed line from a .gitignore or .ignore file.
type ignorePattern struct {
	pattern  string
	negated  bool
	dirOnly  bool
	anchored bool
	// base is the workspace-relative directory the ignore file lives in;
	// patterns only apply at or below it.
	base string
}

// ignoreSet holds the layered patterns collected while walking. Later layers
// (deeper directories) take precedence over earlier ones, and within a file
// the last matching pattern wins, mirroring git's own semantics.
type ignoreSet struct {
	patterns      []ignorePattern
	includeHidden bool
}

// ignoreFileNames are the per-directory ignore files honored, in load order.
// Both the VCS ignore file and the dedicated .ignore file apply.
var ignoreFileNames = []string{".gitignore", ".ignore"}

func newIgnoreSet(includeHidden bool) *ignoreSet {
	return &ignoreSet{includeHidden: includeHidden}
}

// loadDir parses the ignore files found in dir (workspace-relative relDir)
// and returns the count of patterns added so the caller can pop them when
// leaving the directory.
func (s *ignoreSet) loadDir(dir, relDir string) int {
	added := 0
	for _, name := range ignoreFileNames {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			p := ignorePattern{base: relDir}
			if strings.HasPrefix(line, "!") {
				p.negated = true
				line = line[1:]
			}
			if strings.HasSuffix(line, "/") {
				p.dirOnly = true
				line = strings.TrimSuffix(line, "/")
			}
			if strings.HasPrefix(line, "/") {
				p.anchored = true
				line = strings.TrimPrefix(line, "/")
			} else if strings.Contains(line, "/") {
				p.anchored = true
			}
			p.pattern = line
			s.patterns = append(s.patterns, p)
			added++
		}
		f.Close()
	}
	return added
}

// pop removes the last n patterns, used when the walk leaves a directory.
func (s *ignoreSet) pop(n int) {
	if n <= 0 || n > len(s.patterns) {
		return
	}
	s.patterns = s.patterns[:len(s.patterns)-n]
}

// Ignored reports whether the workspace-relative path rel (using forward
// slashes) should be skipped. isDir selects directory-only patterns.
func (s *ignoreSet) Ignored(rel string, isDir bool) bool {
	base := filepath.Base(rel)

	if isDir && builtinDirExclusions[base] {
		return true
	}
	if !isDir && builtinFileExclusions[base] {
		return true
	}
	if !s.includeHidden && strings.HasPrefix(base, ".") && base != "." {
		return true
	}

	rel = filepath.ToSlash(rel)
	matched := false
	for _, p := range s.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		scoped := rel
		if p.base != "" && p.base != "." {
			prefix := filepath.ToSlash(p.base) + "/"
			if !strings.HasPrefix(rel, prefix) {
				continue
			}
			scoped = strings.TrimPrefix(rel, prefix)
		}
		if matchIgnorePattern(p, scoped, base) {
			matched = !p.negated
		}
	}
	return matched
}

func matchIgnorePattern(p ignorePattern, scoped, base string) bool {
	if p.anchored {
		if ok, _ := filepath.Match(p.pattern, scoped); ok {
			return true
		}
		// a pattern like "a/b" also ignores everything under it
		return strings.HasPrefix(scoped, p.pattern+"/")
	}
	if ok, _ := filepath.Match(p.pattern, base); ok {
		return true
	}
	// unanchored patterns match any path segment
	for _, seg := range strings.Split(scoped, "/") {
		if ok, _ := filepath.Match(p.pattern, seg); ok {
			return true
		}
	}
	return false
}

// isBinaryPath reports whether the file extension is in the built-in binary
// set.
func isBinaryPath(path string) bool {
	return builtinBinaryExtensions[strings.ToLower(filepath.Ext(path))]
}
