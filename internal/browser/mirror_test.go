//go:build !js || !wasm

package browser

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/remarkablegames/renpy-sdk/internal/savefs"
)

func TestMirrorSavesDropsDeletedSaves(t *testing.T) {
	engine := mustMemFS(t)
	ns, err := savefs.New(engine, "/saves")
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}
	saves := ns.FileSystem()
	for name, body := range map[string]string{"/old.save": "stale", "/keep.save": "v1"} {
		f, err := saves.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		f.Write([]byte(body))
		f.Close()
	}

	release, err := ns.Guard().Exclusive(context.Background())
	if err != nil {
		t.Fatalf("exclusive: %v", err)
	}
	defer release()

	err = mirrorSaves(context.Background(), ns, []savedFile{
		{Path: "/keep.save", Data: []byte("v2")},
		{Path: "sync", Dir: true},
		{Path: "sync/a.save", Data: []byte("a")},
		{Path: "/"},
	})
	if err != nil {
		t.Fatalf("mirrorSaves: %v", err)
	}

	entries, err := ns.Entries(context.Background())
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	got := make(map[string]string)
	for _, e := range entries {
		got[e.Path] = string(e.Data)
	}
	if _, ok := got["old.save"]; ok {
		t.Error("a save deleted by the engine is still mirrored")
	}
	if got["keep.save"] != "v2" || got["sync/a.save"] != "a" {
		t.Errorf("unexpected mirror %v", got)
	}

	f, err := engine.Open("/saves/keep.save")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if data, _ := io.ReadAll(f); string(data) != "v2" {
		t.Errorf("expected v2 in engine storage, got %q", data)
	}
}
