//go:build !js || !wasm

package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/remarkablegames/renpy-sdk/internal/log"
	"github.com/remarkablegames/renpy-sdk/internal/offline"
)

// ErrNoSelection is returned by ReadUploadedFile when no file was picked.
var ErrNoSelection = errors.New("no file selected")

// Harness provides the browser capabilities on an afero filesystem.
// Downloads are written into a directory, uploads come from the file last
// passed to Select, and registering the worker installs an offline.Cache
// over the asset directory.
type Harness struct {
	fs           afero.Fs
	downloadDir  string
	assetDir     string
	assetVersion string
	fetcher      offline.Fetcher
	log          *log.Logger

	mu       sync.Mutex
	selected string
	cache    *offline.Cache
}

var _ Capabilities = (*Harness)(nil)

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithDownloadDir sets where downloads are written.
func WithDownloadDir(dir string) HarnessOption {
	return func(h *Harness) {
		if dir != "" {
			h.downloadDir = dir
		}
	}
}

// WithAssets sets the directory and version the offline cache is built
// from.
func WithAssets(dir, version string) HarnessOption {
	return func(h *Harness) {
		h.assetDir = dir
		h.assetVersion = version
	}
}

// WithAssetFetcher makes the worker fetch assets through f instead of
// reading them from the asset directory, which still lists them.
func WithAssetFetcher(f offline.Fetcher) HarnessOption {
	return func(h *Harness) {
		h.fetcher = f
	}
}

// WithHarnessLogger sets the logger.
func WithHarnessLogger(lg *log.Logger) HarnessOption {
	return func(h *Harness) {
		if lg != nil {
			h.log = lg
		}
	}
}

// NewHarness returns a harness on fsys.
func NewHarness(fsys afero.Fs, opts ...HarnessOption) *Harness {
	h := &Harness{
		fs:           fsys,
		downloadDir:  "/downloads",
		assetDir:     "/",
		assetVersion: "dev",
		log:          log.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Select picks the file the next ReadUploadedFile returns. An empty name
// clears the selection, like dismissing the picker.
func (h *Harness) Select(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.selected = name
}

// ReadUploadedFile implements transfer.Uploader. The selection is consumed.
func (h *Harness) ReadUploadedFile(ctx context.Context, accept string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	name := h.selected
	h.selected = ""
	h.mu.Unlock()

	if name == "" {
		return nil, ErrNoSelection
	}
	if !accepts(accept, name) {
		return nil, fmt.Errorf("%s does not match %q", name, accept)
	}
	data, err := afero.ReadFile(h.fs, name)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	h.log.Debugf("uploaded %s (%d bytes)", name, len(data))
	return data, nil
}

// TriggerDownload implements transfer.Downloader.
func (h *Harness) TriggerDownload(ctx context.Context, data []byte, filename, mimeType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("invalid download filename %q", filename)
	}
	if err := h.fs.MkdirAll(h.downloadDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	dst := path.Join(h.downloadDir, filename)
	if err := afero.WriteFile(h.fs, dst, data, 0o644); err != nil {
		return fmt.Errorf("write download: %w", err)
	}
	h.log.Infof("downloaded %s as %s (%d bytes)", dst, mimeType, len(data))
	return nil
}

// ControllerActive implements offline.Registrar.
func (h *Harness) ControllerActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache != nil
}

// RegisterBackgroundWorker implements offline.Registrar. The worker script
// must exist in the asset directory; every asset is then cached under the
// configured version.
func (h *Harness) RegisterBackgroundWorker(ctx context.Context, script string, opts offline.RegistrationOptions) error {
	fetcher := &FSFetcher{Fs: h.fs, Root: h.assetDir}
	ok, err := afero.Exists(h.fs, fetcher.resolve(script))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("worker script %s: %w", script, os.ErrNotExist)
	}

	urls, err := fetcher.URLs()
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	var source offline.Fetcher = fetcher
	if h.fetcher != nil {
		source = h.fetcher
	}
	cache := offline.NewCache(source, h.log)
	if err := cache.Install(ctx, h.assetVersion, urls); err != nil {
		return err
	}

	h.mu.Lock()
	h.cache = cache
	h.mu.Unlock()
	h.log.Infof("worker %s active (scope %q, updateViaCache %q), %d assets cached",
		script, opts.Scope, opts.UpdateViaCache, len(urls))
	return nil
}

// Cache returns the installed offline cache, or nil before registration.
func (h *Harness) Cache() *offline.Cache {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache
}

// accepts matches name against an HTML accept list. Only extension
// entries are checked; MIME entries always match.
func accepts(accept, name string) bool {
	if strings.TrimSpace(accept) == "" {
		return true
	}
	lower := strings.ToLower(name)
	for _, a := range strings.Split(accept, ",") {
		a = strings.ToLower(strings.TrimSpace(a))
		if !strings.HasPrefix(a, ".") || strings.HasSuffix(lower, a) {
			return true
		}
	}
	return false
}
