package savefs

import (
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
)

// stage is a two-layer union: a writable in-memory overlay stacked on the
// read-only namespace. Reads search layers top to bottom and respect
// whiteouts; writes only ever touch the overlay.
type stage struct {
	layers []absfs.FileSystem // ordered from top (highest precedence) to bottom
}

// newStage stacks a fresh in-memory overlay on base.
func newStage(base absfs.FileSystem) (*stage, error) {
	overlay, err := memfs.NewFS()
	if err != nil {
		return nil, err
	}
	return &stage{layers: []absfs.FileSystem{overlay, base}}, nil
}

func (s *stage) overlay() absfs.FileSystem {
	return s.layers[0]
}

// hide marks dir opaque in the overlay so nothing below it shows through.
func (s *stage) hide(dir string) error {
	dir = cleanPath(dir)
	top := s.overlay()
	if err := top.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := top.Create(path.Join(dir, OpaqueWhiteout))
	if err != nil {
		return err
	}
	return f.Close()
}

// mkdirAll creates dir in the overlay, clearing whiteouts along the way.
func (s *stage) mkdirAll(dir string, perm os.FileMode) error {
	dir = cleanPath(dir)
	top := s.overlay()
	for _, part := range splitPath(dir) {
		top.Remove(whiteoutPath(part))
	}
	return top.MkdirAll(dir, perm)
}

// writeFile writes data into the overlay.
func (s *stage) writeFile(name string, data []byte, perm os.FileMode) error {
	name = cleanPath(name)
	if err := s.mkdirAll(path.Dir(name), 0o755); err != nil {
		return err
	}
	top := s.overlay()
	top.Remove(whiteoutPath(name))

	f, err := top.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// checkWhiteout checks if a path is hidden by a whiteout in any layer above
// startLayer
func (s *stage) checkWhiteout(p string, startLayer int) bool {
	wPath := whiteoutPath(p)
	for i := 0; i < startLayer; i++ {
		if _, err := s.layers[i].Stat(wPath); err == nil {
			return true
		}
	}
	return s.opaqueAbove(path.Dir(p), startLayer)
}

// opaqueAbove reports whether dir or any of its parents is marked opaque in
// a layer above startLayer
func (s *stage) opaqueAbove(dir string, startLayer int) bool {
	for i := 0; i < startLayer; i++ {
		for d := dir; ; d = path.Dir(d) {
			if _, err := s.layers[i].Stat(path.Join(d, OpaqueWhiteout)); err == nil {
				return true
			}
			if d == "/" {
				break
			}
		}
	}
	return false
}

// findFile searches for a path across all layers, respecting whiteouts.
// It returns the file info and the index of the layer holding it.
func (s *stage) findFile(p string) (os.FileInfo, int, error) {
	p = cleanPath(p)
	for i, layer := range s.layers {
		if s.checkWhiteout(p, i) {
			continue
		}
		info, err := layer.Stat(p)
		if err == nil {
			return info, i, nil
		}
		if !os.IsNotExist(err) {
			return nil, -1, err
		}
	}
	return nil, -1, &os.PathError{Op: "stat", Path: p, Err: os.ErrNotExist}
}

// Stat returns merged file info.
func (s *stage) Stat(name string) (os.FileInfo, error) {
	info, _, err := s.findFile(name)
	return info, err
}

// ReadFile reads from the highest layer holding name.
func (s *stage) ReadFile(name string) ([]byte, error) {
	info, idx, err := s.findFile(name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &os.PathError{Op: "read", Path: name, Err: os.ErrInvalid}
	}
	return s.layers[idx].ReadFile(cleanPath(name))
}

// ReadDir merges the directory across layers. Entries from upper layers
// take precedence and whiteouts are respected.
func (s *stage) ReadDir(name string) ([]fs.DirEntry, error) {
	name = cleanPath(name)

	info, _, err := s.findFile(name)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &os.PathError{Op: "readdir", Path: name, Err: os.ErrInvalid}
	}

	seen := make(map[string]bool)
	whiteouts := make(map[string]bool)
	var entries []fs.DirEntry

	for i, layer := range s.layers {
		// Lower layers are hidden once the directory or a parent is opaque
		// or whited out above them.
		if s.opaqueAbove(name, i) || s.checkWhiteout(name, i) {
			break
		}

		layerEntries, err := layer.ReadDir(name)
		if err != nil {
			continue
		}

		for _, entry := range layerEntries {
			n := entry.Name()
			if n == "." || n == ".." || isOpaqueWhiteout(n) {
				continue
			}
			if isWhiteout(n) {
				whiteouts[n[len(WhiteoutPrefix):]] = true
				continue
			}
			if seen[n] || whiteouts[n] {
				continue
			}
			seen[n] = true
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}

// splitPath returns the cumulative paths of p's components: "/a/b" yields
// "/a" and "/a/b".
func splitPath(p string) []string {
	p = cleanPath(p)
	if p == "/" {
		return nil
	}
	parent := splitPath(path.Dir(p))
	return append(parent, p)
}
