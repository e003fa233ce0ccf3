package watch

import (
	"path/filepath"
	"strings"
)

// Filter decides which filesystem paths are worth a rebuild. It is pure so
// the watcher's decisions can be tested without touching a real filesystem.
type Filter struct {
	// SourceExts are the file extensions that count as source code, with the
	// leading dot ("" entries are ignored).
	SourceExts []string
	// Manifest is the basename of the build manifest; it always passes even
	// though its extension is typically not a source extension.
	Manifest string
	// IgnoreDirs are directory basenames whose contents never trigger a
	// rebuild (build output, VCS metadata).
	IgnoreDirs []string
}

// DefaultFilter matches the usual layout: source tree plus a manifest, with
// the build output directory excluded.
func DefaultFilter(manifest string, exts ...string) Filter {
	return Filter{
		SourceExts: exts,
		Manifest:   manifest,
		IgnoreDirs: []string{"target", "build", "zig-out", ".git"},
	}
}

// Pass reports whether a change to path should be considered. Editor
// droppings (swap files, backups, lock files), hidden files and anything
// under an ignored directory are rejected.
func (f Filter) Pass(path string) bool {
	base := filepath.Base(path)
	if base == "" || base == "." {
		return false
	}
	if strings.HasPrefix(base, ".") && base != f.Manifest {
		return false
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".swx") {
		return false
	}
	if strings.HasPrefix(base, ".#") || strings.HasPrefix(base, "#") {
		return false
	}
	for _, dir := range f.IgnoreDirs {
		if inDir(path, dir) {
			return false
		}
	}
	if base == f.Manifest {
		return true
	}
	ext := filepath.Ext(base)
	for _, want := range f.SourceExts {
		if want != "" && ext == want {
			return true
		}
	}
	return false
}

// WatchDir reports whether the watcher should descend into dir.
func (f Filter) WatchDir(dir string) bool {
	base := filepath.Base(dir)
	if strings.HasPrefix(base, ".") && base != "." {
		return false
	}
	for _, skip := range f.IgnoreDirs {
		if base == skip {
			return false
		}
	}
	return true
}

func inDir(path, dir string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == dir {
			return true
		}
	}
	return false
}
