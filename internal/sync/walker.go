package sync

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// alwaysExclude is tool and version-control metadata never transferred,
// regardless of the descriptor's exclude list
var alwaysExclude = []string{".brickctl", ".git", "__pycache__", "*.pyc", ".DS_Store"}

// Item is one entry of the ordered local project walk. Parents always
// precede their children.
type Item struct {
	// Rel is the slash-separated path relative to the project root
	Rel string
	// Abs is the local absolute path
	Abs string
	// Dir marks directories
	Dir bool
	// Size and ModTime form the fast comparison key
	Size    int64
	ModTime int64
	// Mode carries the permission bits to preserve on the brick
	Mode fs.FileMode
}

// Walk produces the ordered sequence of transferable items under root,
// filtered by the exclude globs
func Walk(root string, exclude []string) ([]Item, error) {
	patterns := append(append([]string{}, alwaysExclude...), exclude...)

	var items []Item
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if excluded(rel, patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !d.IsDir() && !info.Mode().IsRegular() {
			log.Debug("skipping irregular file", "path", rel)
			return nil
		}

		items = append(items, Item{
			Rel:     rel,
			Abs:     p,
			Dir:     d.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime().UnixNano(),
			Mode:    info.Mode(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk project tree: %w", err)
	}
	return items, nil
}

// excluded matches a relative path against the exclude globs. A pattern
// matches the whole relative path, its base name, or any single segment,
// so ".git" and "*.pyc" behave the way operators expect.
func excluded(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
		for _, seg := range splitSegments(rel) {
			if ok, _ := path.Match(pat, seg); ok {
				return true
			}
		}
	}
	return false
}

// splitSegments returns the individual path segments of a relative path
func splitSegments(rel string) []string {
	var segs []string
	for rel != "" && rel != "." {
		dir, base := path.Split(rel)
		segs = append(segs, base)
		rel = path.Clean(dir)
		if rel == "." || rel == "/" {
			break
		}
	}
	return segs
}
