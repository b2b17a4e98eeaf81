package watcher

import (
	"path"
	"path/filepath"
	"strings"
)

// Invalidator is the part of the incremental engine the watcher drives.
type Invalidator interface {
	Invalidate(paths ...string) int
	InvalidateListing(dirs ...string) int
}

// InvalidateHandler maps change events under root to engine invalidations.
// Paths are passed to the engine relative to root with forward slashes. A
// structural change also invalidates the listing of the parent directory,
// and of the path itself in case it was a directory.
func InvalidateHandler(root string, inv Invalidator) ChangeHandler {
	root = filepath.Clean(root)
	return func(events []ChangeEvent) error {
		var files, dirs []string
		for _, event := range events {
			rel, ok := Relative(root, event.Path)
			if !ok {
				continue
			}
			files = append(files, rel)
			if event.Type.Structural() {
				dirs = append(dirs, rel, parent(rel))
			}
		}
		if len(files) > 0 {
			inv.Invalidate(files...)
		}
		if len(dirs) > 0 {
			inv.InvalidateListing(dirs...)
		}
		return nil
	}
}

// Relative returns p relative to root in slash form, or false when p lies
// outside root.
func Relative(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return rel, true
}

func parent(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}
