package savefs

import (
	"context"
	"errors"
	"os"

	"github.com/remarkablegames/renpy-sdk/internal/shellerr"
)

const defaultFilePerm = 0o644

// Replace atomically swaps the namespace contents for entries. Either every
// entry is written or the namespace is restored to its previous contents;
// failures are reported as shellerr.ErrStorageWrite. Cancellation is
// honored until the flush begins. The caller must hold exclusive access.
func (ns *Namespace) Replace(ctx context.Context, entries []Entry) error {
	st, err := ns.stageEntries(ctx, entries)
	if err != nil {
		return err
	}

	backup, err := ns.backup()
	if err != nil {
		return shellerr.Wrap(shellerr.CodeStorageWrite, "could not snapshot save storage", err)
	}
	if err := shellerr.FromContext(ctx); err != nil {
		return err
	}

	defer ns.cache.clear()
	if err := ns.flush(st); err != nil {
		if rerr := ns.restore(backup); rerr != nil {
			return shellerr.Wrap(shellerr.CodeStorageWrite,
				"could not write save storage and the rollback failed", errors.Join(err, rerr))
		}
		return shellerr.Wrap(shellerr.CodeStorageWrite,
			"could not write save storage; previous saves restored", err)
	}
	return nil
}

// stageEntries builds the replacement tree in a staging layer above the
// namespace. Nothing outside the stage is touched.
func (ns *Namespace) stageEntries(ctx context.Context, entries []Entry) (*stage, error) {
	st, err := newStage(ns.rooted())
	if err != nil {
		return nil, shellerr.Wrap(shellerr.CodeStorageWrite, "could not stage save storage", err)
	}
	if err := st.hide("/"); err != nil {
		return nil, shellerr.Wrap(shellerr.CodeStorageWrite, "could not stage save storage", err)
	}

	for _, e := range entries {
		if err := shellerr.FromContext(ctx); err != nil {
			return nil, err
		}
		p, err := CleanPath(e.Path)
		if err != nil {
			return nil, shellerr.Wrap(shellerr.CodeMalformedArchive, shellerr.ErrMalformedArchive.Message, err)
		}
		perm := e.Mode.Perm()
		if e.IsDir() {
			if perm == 0 {
				perm = 0o755
			}
			err = st.mkdirAll("/"+p, perm)
		} else {
			if perm == 0 {
				perm = defaultFilePerm
			}
			err = st.writeFile("/"+p, e.Data, perm)
		}
		if err != nil {
			return nil, shellerr.Wrapf(shellerr.CodeStorageWrite, err, "could not stage %s", p)
		}
		if !e.ModTime.IsZero() {
			_ = st.overlay().Chtimes("/"+p, e.ModTime, e.ModTime)
		}
	}
	return st, nil
}

// flush clears the namespace and writes the merged staged tree into it.
func (ns *Namespace) flush(st *stage) error {
	base := ns.rooted()
	if err := clearDir(base, "/"); err != nil {
		return err
	}
	return walk(st, "/", func(p string, info os.FileInfo, data []byte) error {
		if info.IsDir() {
			return base.MkdirAll(p, info.Mode().Perm())
		}
		f, err := base.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		// Timestamps are best effort
		_ = base.Chtimes(p, info.ModTime(), info.ModTime())
		return nil
	})
}
