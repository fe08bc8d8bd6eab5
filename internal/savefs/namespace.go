package savefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/absfs/absfs"

	"github.com/remarkablegames/renpy-sdk/internal/shellerr"
)

const (
	// WhiteoutPrefix is the prefix for whiteout files (AUFS/Docker style)
	WhiteoutPrefix = ".wh."
	// OpaqueWhiteout marks a directory as opaque (hides all lower layer contents)
	OpaqueWhiteout = ".wh.__dir_opaque"
)

// ErrInvalidPath is returned for entry paths that cannot live in a namespace.
var ErrInvalidPath = errors.New("invalid namespace path")

// Entry is one file or directory of the namespace, addressed by its path
// relative to the namespace root.
type Entry struct {
	Path    string
	Data    []byte
	Mode    os.FileMode
	ModTime time.Time
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Mode.IsDir()
}

// Namespace is the save-data subtree of an engine filesystem.
type Namespace struct {
	fs             absfs.FileSystem
	root           string
	guard          *Guard
	cache          *Cache
	copyBufferSize int
}

// Option is a functional option for configuring a Namespace
type Option func(*Namespace)

// WithStatCache enables stat caching for the engine view with the specified TTL
func WithStatCache(enabled bool, ttl time.Duration) Option {
	return func(ns *Namespace) {
		negativeTTL := ttl / 2 // Negative cache expires faster
		maxEntries := 1000
		ns.cache = newCache(enabled, ttl, negativeTTL, maxEntries)
	}
}

// WithCacheConfig enables caching with custom configuration
func WithCacheConfig(enabled bool, statTTL, negativeTTL time.Duration, maxEntries int) Option {
	return func(ns *Namespace) {
		ns.cache = newCache(enabled, statTTL, negativeTTL, maxEntries)
	}
}

// WithCopyBufferSize sets the buffer size used when copying files into and
// out of the rollback backup
func WithCopyBufferSize(size int) Option {
	return func(ns *Namespace) {
		if size > 0 {
			ns.copyBufferSize = size
		}
	}
}

// New returns the namespace rooted at root inside fsys, creating the root
// directory if needed.
func New(fsys absfs.FileSystem, root string, opts ...Option) (*Namespace, error) {
	if fsys == nil {
		return nil, errors.New("savefs: filesystem is required")
	}
	root = cleanPath(root)
	if root == "/" {
		return nil, fmt.Errorf("savefs: namespace root must be below /")
	}

	ns := &Namespace{
		fs:             fsys,
		root:           root,
		guard:          NewGuard(),
		copyBufferSize: 32 * 1024, // default 32KB
		cache:          newCache(false, 0, 0, 0), // disabled by default
	}
	for _, opt := range opts {
		opt(ns)
	}

	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("savefs: create namespace root: %w", err)
	}
	return ns, nil
}

// Root returns the namespace directory inside the engine filesystem.
func (ns *Namespace) Root() string {
	return ns.root
}

// Guard returns the namespace's access guard.
func (ns *Namespace) Guard() *Guard {
	return ns.guard
}

// EngineFS returns the whole engine filesystem the namespace lives in.
func (ns *Namespace) EngineFS() absfs.FileSystem {
	return ns.fs
}

// Contains reports whether the engine path p lies inside the namespace and
// returns its namespace-relative form.
func (ns *Namespace) Contains(p string) (string, bool) {
	p = cleanPath(p)
	if p == ns.root {
		return "", true
	}
	if strings.HasPrefix(p, ns.root+"/") {
		return strings.TrimPrefix(p, ns.root+"/"), true
	}
	return "", false
}

// CacheStats returns stat cache statistics
func (ns *Namespace) CacheStats() CacheStats {
	return ns.cache.Stats()
}

// rooted returns an unguarded view of the namespace. Callers hold
// exclusive access.
func (ns *Namespace) rooted() absfs.FileSystem {
	return absfs.ExtendFiler(&rootedFiler{fs: ns.fs, root: ns.root})
}

// Entries returns every file and directory in the namespace sorted by path.
// The caller must hold exclusive access.
func (ns *Namespace) Entries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := walk(ns.rooted(), "/", func(p string, info os.FileInfo, data []byte) error {
		if err := shellerr.FromContext(ctx); err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path:    strings.TrimPrefix(p, "/"),
			Data:    data,
			Mode:    info.Mode(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// treeReader is the read surface walk needs; both absfs filesystems and
// staging layers provide it.
type treeReader interface {
	ReadDir(name string) ([]fs.DirEntry, error)
	ReadFile(name string) ([]byte, error)
}

// walkFunc receives each path under a walk root. data is nil for
// directories.
type walkFunc func(p string, info os.FileInfo, data []byte) error

// walk visits dir's subtree depth first in path order, skipping whiteouts
// and anything that is neither a regular file nor a directory.
func walk(fsys treeReader, dir string, fn walkFunc) error {
	des, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(des, func(i, j int) bool { return des[i].Name() < des[j].Name() })

	for _, de := range des {
		name := de.Name()
		if name == "." || name == ".." || isWhiteout(name) {
			continue
		}
		p := path.Join(dir, name)
		info, err := de.Info()
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			if err := fn(p, info, nil); err != nil {
				return err
			}
			if err := walk(fsys, p, fn); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			data, err := fsys.ReadFile(p)
			if err != nil {
				return err
			}
			if err := fn(p, info, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// CleanPath validates a namespace-relative path and returns its clean form.
func CleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.ContainsRune(p, 0) || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	trimmed := strings.TrimSuffix(p, "/")
	for _, part := range strings.Split(trimmed, "/") {
		switch {
		case part == "", part == ".", part == "..":
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		case strings.HasPrefix(part, WhiteoutPrefix):
			return "", fmt.Errorf("%w: reserved name in %q", ErrInvalidPath, p)
		}
	}
	return path.Clean(trimmed), nil
}

// isWhiteout checks if a filename is a whiteout marker
func isWhiteout(name string) bool {
	return strings.HasPrefix(path.Base(name), WhiteoutPrefix)
}

// isOpaqueWhiteout checks if a filename is an opaque directory marker
func isOpaqueWhiteout(name string) bool {
	return path.Base(name) == OpaqueWhiteout
}

// whiteoutPath returns the whiteout path for a given file path
func whiteoutPath(p string) string {
	return path.Join(path.Dir(p), WhiteoutPrefix+path.Base(p))
}

// cleanPath normalizes a path to an absolute slash path
func cleanPath(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}
