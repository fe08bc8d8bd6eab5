package savefs

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
)

// backup copies the whole namespace into a fresh in-memory filesystem.
func (ns *Namespace) backup() (absfs.FileSystem, error) {
	dst, err := memfs.NewFS()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, ns.copyBufferSize)
	if err := copyTree(dst, ns.rooted(), "/", buf); err != nil {
		return nil, err
	}
	return dst, nil
}

// restore replaces the namespace contents with a backup.
func (ns *Namespace) restore(backup absfs.FileSystem) error {
	base := ns.rooted()
	if err := clearDir(base, "/"); err != nil {
		return err
	}
	buf := make([]byte, ns.copyBufferSize)
	return copyTree(base, backup, "/", buf)
}

// copyTree copies dir's subtree from src to dst, preserving modes and
// modification times.
func copyTree(dst, src absfs.FileSystem, dir string, buf []byte) error {
	des, err := src.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, de := range des {
		name := de.Name()
		if name == "." || name == ".." {
			continue
		}
		p := path.Join(dir, name)
		info, err := de.Info()
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			if err := copyUpDir(dst, p, info); err != nil {
				return err
			}
			if err := copyTree(dst, src, p, buf); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := copyUpFile(dst, src, p, info, buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyUpFile copies a regular file from src to dst
func copyUpFile(dst, src absfs.FileSystem, p string, info os.FileInfo, buf []byte) error {
	srcFile, err := src.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := dst.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.CopyBuffer(dstFile, srcFile, buf); err != nil {
		dstFile.Close()
		return fmt.Errorf("failed to copy file contents: %w", err)
	}
	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("failed to close destination file: %w", err)
	}

	// Preserve file metadata
	if err := dst.Chmod(p, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	// Timestamps are best effort
	_ = dst.Chtimes(p, info.ModTime(), info.ModTime())

	return nil
}

// copyUpDir creates a directory in dst
func copyUpDir(dst absfs.FileSystem, p string, info os.FileInfo) error {
	if err := dst.MkdirAll(p, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := dst.Chmod(p, info.Mode().Perm()|os.ModeDir); err != nil {
		return fmt.Errorf("failed to set directory mode: %w", err)
	}
	_ = dst.Chtimes(p, info.ModTime(), info.ModTime())
	return nil
}

// clearDir removes everything below dir, keeping dir itself.
func clearDir(fsys absfs.FileSystem, dir string) error {
	des, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, de := range des {
		name := de.Name()
		if name == "." || name == ".." {
			continue
		}
		if err := fsys.RemoveAll(path.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}
