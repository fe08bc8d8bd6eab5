package browser

import (
	"context"
	"os"
	"path"
	"strings"

	"github.com/remarkablegames/renpy-sdk/internal/savefs"
)

// savedFile is one item of the engine's save snapshot.
type savedFile struct {
	Path string
	Dir  bool
	Data []byte
}

// mirrorSaves makes the namespace hold exactly files, so saves the engine
// deleted leave the mirror too. The caller must hold exclusive access.
func mirrorSaves(ctx context.Context, ns *savefs.Namespace, files []savedFile) error {
	entries := make([]savefs.Entry, 0, len(files))
	for _, f := range files {
		p := strings.TrimPrefix(path.Clean("/"+f.Path), "/")
		if p == "" {
			continue
		}
		if f.Dir {
			entries = append(entries, savefs.Entry{Path: p, Mode: os.ModeDir | 0o755})
			continue
		}
		entries = append(entries, savefs.Entry{Path: p, Data: f.Data, Mode: 0o644})
	}
	return ns.Replace(ctx, entries)
}
