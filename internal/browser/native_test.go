//go:build !js || !wasm

package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/spf13/afero"

	"github.com/remarkablegames/renpy-sdk/internal/offline"
	"github.com/remarkablegames/renpy-sdk/internal/savefs"
	"github.com/remarkablegames/renpy-sdk/internal/transfer"
)

func newAssetFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/www/index.html":        "<html></html>",
		"/www/service-worker.js": "self.addEventListener('fetch', () => {})",
		"/www/game.zip":          "PK",
	}
	for name, body := range files {
		if err := afero.WriteFile(fs, name, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return fs
}

func mustMemFS(t *testing.T) absfs.FileSystem {
	t.Helper()
	mfs, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs: %v", err)
	}
	return mfs
}

func TestHarnessDownload(t *testing.T) {
	fs := afero.NewMemMapFs()
	h := NewHarness(fs, WithDownloadDir("/out"))

	if err := h.TriggerDownload(context.Background(), []byte("data"), "savegames.tar.lz4", "application/octet-stream"); err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := afero.ReadFile(fs, "/out/savegames.tar.lz4")
	if err != nil || string(got) != "data" {
		t.Fatalf("expected downloaded file, got %q %v", got, err)
	}

	if err := h.TriggerDownload(context.Background(), nil, "../escape", ""); err == nil {
		t.Error("expected error for filename with a separator")
	}
}

func TestHarnessUpload(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/in/saves.lz4", []byte("archive"), 0o644)
	afero.WriteFile(fs, "/in/notes.txt", []byte("text"), 0o644)
	h := NewHarness(fs)
	ctx := context.Background()

	if _, err := h.ReadUploadedFile(ctx, ".lz4"); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}

	h.Select("/in/saves.lz4")
	data, err := h.ReadUploadedFile(ctx, ".lz4")
	if err != nil || string(data) != "archive" {
		t.Fatalf("unexpected upload %q %v", data, err)
	}
	if _, err := h.ReadUploadedFile(ctx, ".lz4"); !errors.Is(err, ErrNoSelection) {
		t.Error("selection should be consumed")
	}

	h.Select("/in/notes.txt")
	if _, err := h.ReadUploadedFile(ctx, ".lz4, .zip"); err == nil {
		t.Error("expected accept filter to reject .txt")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	h.Select("/in/saves.lz4")
	if _, err := h.ReadUploadedFile(canceled, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		accept, name string
		want         bool
	}{
		{"", "anything", true},
		{".lz4", "a.LZ4", true},
		{".lz4", "a.tar", false},
		{".zip, .lz4", "a.lz4", true},
		{"application/octet-stream", "a.bin", true},
	}
	for _, tt := range tests {
		if got := accepts(tt.accept, tt.name); got != tt.want {
			t.Errorf("accepts(%q, %q) = %v, want %v", tt.accept, tt.name, got, tt.want)
		}
	}
}

func TestHarnessRegisterWorker(t *testing.T) {
	h := NewHarness(newAssetFs(t), WithAssets("/www", "v7"))
	ctx := context.Background()

	if h.ControllerActive() {
		t.Fatal("no controller before registration")
	}
	opts := offline.RegistrationOptions{UpdateViaCache: offline.UpdateViaCacheAll}
	if err := h.RegisterBackgroundWorker(ctx, "service-worker.js", opts); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !h.ControllerActive() {
		t.Fatal("controller should be active")
	}

	stats := h.Cache().Stats()
	if stats.Version != "v7" || stats.Entries != 3 {
		t.Errorf("unexpected cache stats %+v", stats)
	}
	r, err := h.Cache().Serve(ctx, "/game.zip")
	if err != nil || string(r.Body) != "PK" {
		t.Errorf("unexpected cached asset %v %v", r, err)
	}
}

func TestHarnessRegisterWorkerOverHTTP(t *testing.T) {
	remote := map[string]string{
		"/index.html":        "<html>remote</html>",
		"/service-worker.js": "// remote worker",
		"/game.zip":          "remote PK",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := remote[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	h := NewHarness(newAssetFs(t), WithAssets("/www", "v2"),
		WithAssetFetcher(&offline.HTTPFetcher{Client: srv.Client(), BaseURL: srv.URL}))
	ctx := context.Background()
	if err := h.RegisterBackgroundWorker(ctx, "service-worker.js", offline.RegistrationOptions{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r, err := h.Cache().Serve(ctx, "/game.zip")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if string(r.Body) != "remote PK" {
		t.Errorf("expected the asset from the origin, got %q", r.Body)
	}
}

func TestHarnessRegisterMissingScript(t *testing.T) {
	h := NewHarness(newAssetFs(t), WithAssets("/www", "v1"))
	err := h.RegisterBackgroundWorker(context.Background(), "sw.js", offline.RegistrationOptions{})
	if err == nil {
		t.Fatal("expected error for missing worker script")
	}
	if h.ControllerActive() {
		t.Error("controller should stay inactive")
	}
}

func TestHarnessWithLifecycle(t *testing.T) {
	h := NewHarness(newAssetFs(t), WithAssets("/www", "v1"))
	l := offline.NewLifecycle(h, "service-worker.js")

	if err := l.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !l.Enabled() || h.Cache() == nil {
		t.Error("offline caching should be enabled")
	}
}

func TestHarnessTransferRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	h := NewHarness(fs, WithDownloadDir("/downloads"))
	ns, err := savefs.New(mustMemFS(t), "/saves")
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}
	saves := ns.FileSystem()
	f, err := saves.Create("1-1-LT1.save")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Write([]byte("slot one"))
	f.Close()

	tr := transfer.New(ns, h)
	ctx := context.Background()
	if _, err := tr.Export(ctx); err != nil {
		t.Fatalf("export: %v", err)
	}

	if err := saves.Remove("1-1-LT1.save"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.Select("/downloads/savegames.tar.lz4")
	res, err := tr.Import(ctx)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Files != 1 {
		t.Errorf("expected one file imported, got %d", res.Files)
	}
	got, err := ns.EngineFS().ReadFile("/saves/1-1-LT1.save")
	if err != nil || string(got) != "slot one" {
		t.Errorf("unexpected restored save %q %v", got, err)
	}
}

func TestFSFetcher(t *testing.T) {
	f := &FSFetcher{Fs: newAssetFs(t), Root: "/www"}
	ctx := context.Background()

	r, err := f.Fetch(ctx, "/index.html?v=3")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !r.OK() || string(r.Body) != "<html></html>" {
		t.Errorf("unexpected response %+v", r)
	}
	if r.ContentType == "" || r.ContentType[:9] != "text/html" {
		t.Errorf("unexpected content type %q", r.ContentType)
	}

	r, err = f.Fetch(ctx, "/../../etc/passwd")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if r.Status != http.StatusNotFound {
		t.Errorf("expected 404 outside root, got %d", r.Status)
	}

	urls, err := f.URLs()
	if err != nil {
		t.Fatalf("urls: %v", err)
	}
	want := []string{"/game.zip", "/index.html", "/service-worker.js"}
	if len(urls) != len(want) {
		t.Fatalf("expected %v, got %v", want, urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("url %d: expected %s, got %s", i, want[i], urls[i])
		}
	}
}
