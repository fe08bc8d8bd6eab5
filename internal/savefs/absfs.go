package savefs

import (
	"io/fs"
	"os"
	"path"
	"sync"
	"time"

	"github.com/absfs/absfs"
)

// rootedFiler maps namespace paths onto the engine filesystem below root.
type rootedFiler struct {
	fs   absfs.FileSystem
	root string
}

// Ensure rootedFiler implements absfs.Filer interface at compile time
var _ absfs.Filer = (*rootedFiler)(nil)

func (r *rootedFiler) full(name string) string {
	return path.Join(r.root, cleanPath(name))
}

func (r *rootedFiler) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return r.fs.OpenFile(r.full(name), flag, perm)
}

func (r *rootedFiler) Mkdir(name string, perm os.FileMode) error {
	return r.fs.Mkdir(r.full(name), perm)
}

func (r *rootedFiler) MkdirAll(name string, perm os.FileMode) error {
	return r.fs.MkdirAll(r.full(name), perm)
}

func (r *rootedFiler) Remove(name string) error {
	return r.fs.Remove(r.full(name))
}

func (r *rootedFiler) RemoveAll(name string) error {
	return r.fs.RemoveAll(r.full(name))
}

func (r *rootedFiler) Rename(oldpath, newpath string) error {
	return r.fs.Rename(r.full(oldpath), r.full(newpath))
}

func (r *rootedFiler) Stat(name string) (os.FileInfo, error) {
	return r.fs.Stat(r.full(name))
}

func (r *rootedFiler) Chmod(name string, mode os.FileMode) error {
	return r.fs.Chmod(r.full(name), mode)
}

func (r *rootedFiler) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return r.fs.Chtimes(r.full(name), atime, mtime)
}

func (r *rootedFiler) Chown(name string, uid, gid int) error {
	return r.fs.Chown(r.full(name), uid, gid)
}

func (r *rootedFiler) Truncate(name string, size int64) error {
	return r.fs.Truncate(r.full(name), size)
}

func (r *rootedFiler) ReadDir(name string) ([]fs.DirEntry, error) {
	return r.fs.ReadDir(r.full(name))
}

func (r *rootedFiler) ReadFile(name string) ([]byte, error) {
	return r.fs.ReadFile(r.full(name))
}

func (r *rootedFiler) Sub(dir string) (fs.FS, error) {
	return absfs.FilerToFS(r, cleanPath(dir))
}

// FileSystem returns the engine's view of the namespace: an
// absfs.FileSystem rooted at the namespace directory. Every call takes
// shared access on the namespace guard and fails with a *os.PathError
// wrapping shellerr.ErrBusy while a save transfer is running. Files opened
// through the view keep shared access until they are closed.
//
// Example:
//
//	ns, _ := savefs.New(engineFS, "/saves")
//	saves := ns.FileSystem()
//	f, err := saves.Create("1-1-LT1.save") // engine path /saves/1-1-LT1.save
func (ns *Namespace) FileSystem() absfs.FileSystem {
	return absfs.ExtendFiler(&engineFiler{
		ns:   ns,
		base: &rootedFiler{fs: ns.fs, root: ns.root},
	})
}

// engineFiler guards and caches rootedFiler for engine use.
type engineFiler struct {
	ns   *Namespace
	base *rootedFiler
}

// Ensure engineFiler implements absfs.Filer interface at compile time
var _ absfs.Filer = (*engineFiler)(nil)

func (e *engineFiler) acquire(op, name string) (func(), error) {
	release, err := e.ns.guard.Shared()
	if err != nil {
		return nil, &os.PathError{Op: op, Path: name, Err: err}
	}
	return release, nil
}

// OpenFile implements absfs.Filer
func (e *engineFiler) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	name = cleanPath(name)
	release, err := e.acquire("open", name)
	if err != nil {
		return nil, err
	}

	f, err := e.base.OpenFile(name, flag, perm)
	if err != nil {
		release()
		return nil, err
	}

	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		e.ns.cache.invalidate(name)
	}
	return &guardedFile{File: f, release: release}, nil
}

// Mkdir implements absfs.Filer
func (e *engineFiler) Mkdir(name string, perm os.FileMode) error {
	name = cleanPath(name)
	release, err := e.acquire("mkdir", name)
	if err != nil {
		return err
	}
	defer release()

	err = e.base.Mkdir(name, perm)
	if err == nil {
		e.ns.cache.invalidate(name)
	}
	return err
}

// MkdirAll creates a directory and all parent directories
func (e *engineFiler) MkdirAll(name string, perm os.FileMode) error {
	name = cleanPath(name)
	release, err := e.acquire("mkdir", name)
	if err != nil {
		return err
	}
	defer release()

	err = e.base.MkdirAll(name, perm)
	if err == nil {
		e.ns.cache.invalidateTree(name)
	}
	return err
}

// Remove implements absfs.Filer
func (e *engineFiler) Remove(name string) error {
	name = cleanPath(name)
	release, err := e.acquire("remove", name)
	if err != nil {
		return err
	}
	defer release()

	err = e.base.Remove(name)
	if err == nil {
		e.ns.cache.invalidate(name)
	}
	return err
}

// RemoveAll removes a path and all children
func (e *engineFiler) RemoveAll(name string) error {
	name = cleanPath(name)
	release, err := e.acquire("removeall", name)
	if err != nil {
		return err
	}
	defer release()

	err = e.base.RemoveAll(name)
	e.ns.cache.invalidateTree(name)
	return err
}

// Rename implements absfs.Filer
func (e *engineFiler) Rename(oldpath, newpath string) error {
	oldpath, newpath = cleanPath(oldpath), cleanPath(newpath)
	release, err := e.acquire("rename", oldpath)
	if err != nil {
		return err
	}
	defer release()

	err = e.base.Rename(oldpath, newpath)
	if err == nil {
		e.ns.cache.invalidateTree(oldpath)
		e.ns.cache.invalidateTree(newpath)
	}
	return err
}

// Stat implements absfs.Filer
func (e *engineFiler) Stat(name string) (os.FileInfo, error) {
	name = cleanPath(name)
	release, err := e.acquire("stat", name)
	if err != nil {
		return nil, err
	}
	defer release()

	if info, ok := e.ns.cache.getStat(name); ok {
		return info, nil
	}
	if e.ns.cache.isNegative(name) {
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}

	info, err := e.base.Stat(name)
	switch {
	case err == nil:
		e.ns.cache.putStat(name, info)
	case os.IsNotExist(err):
		e.ns.cache.putNegative(name)
	}
	return info, err
}

// Chmod implements absfs.Filer
func (e *engineFiler) Chmod(name string, mode os.FileMode) error {
	name = cleanPath(name)
	release, err := e.acquire("chmod", name)
	if err != nil {
		return err
	}
	defer release()

	err = e.base.Chmod(name, mode)
	if err == nil {
		e.ns.cache.invalidate(name)
	}
	return err
}

// Chtimes implements absfs.Filer
func (e *engineFiler) Chtimes(name string, atime time.Time, mtime time.Time) error {
	name = cleanPath(name)
	release, err := e.acquire("chtimes", name)
	if err != nil {
		return err
	}
	defer release()

	err = e.base.Chtimes(name, atime, mtime)
	if err == nil {
		e.ns.cache.invalidate(name)
	}
	return err
}

// Chown implements absfs.Filer
func (e *engineFiler) Chown(name string, uid, gid int) error {
	name = cleanPath(name)
	release, err := e.acquire("chown", name)
	if err != nil {
		return err
	}
	defer release()

	err = e.base.Chown(name, uid, gid)
	if err == nil {
		e.ns.cache.invalidate(name)
	}
	return err
}

// Truncate changes the size of the named file
func (e *engineFiler) Truncate(name string, size int64) error {
	name = cleanPath(name)
	release, err := e.acquire("truncate", name)
	if err != nil {
		return err
	}
	defer release()

	err = e.base.Truncate(name, size)
	if err == nil {
		e.ns.cache.invalidate(name)
	}
	return err
}

// ReadDir implements absfs.Filer
func (e *engineFiler) ReadDir(name string) ([]fs.DirEntry, error) {
	name = cleanPath(name)
	release, err := e.acquire("readdir", name)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.base.ReadDir(name)
}

// ReadFile implements absfs.Filer
func (e *engineFiler) ReadFile(name string) ([]byte, error) {
	name = cleanPath(name)
	release, err := e.acquire("read", name)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.base.ReadFile(name)
}

// Sub implements absfs.Filer
func (e *engineFiler) Sub(dir string) (fs.FS, error) {
	return absfs.FilerToFS(e, cleanPath(dir))
}

// guardedFile holds shared namespace access until it is closed.
type guardedFile struct {
	absfs.File
	release func()
	once    sync.Once
}

func (f *guardedFile) Close() error {
	err := f.File.Close()
	f.once.Do(f.release)
	return err
}
