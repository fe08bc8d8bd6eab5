package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/remarkablegames/renpy-sdk/internal/log"
	"github.com/remarkablegames/renpy-sdk/internal/shellerr"
)

// Response is a cached asset.
type Response struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// OK reports whether the response is cacheable.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Fetcher retrieves assets from the network.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// manifest is one version of the cache. Entries are only ever added to the
// manifest that was current when their fetch started.
type manifest struct {
	version string

	mu      sync.RWMutex
	entries map[string]*Response
}

func newManifest(version string) *manifest {
	return &manifest{version: version, entries: make(map[string]*Response)}
}

func (m *manifest) get(url string) (*Response, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.entries[url]
	return r, ok
}

func (m *manifest) put(url string, r *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[url] = r
}

func (m *manifest) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Cache is a versioned URL to response store with network fallback.
type Cache struct {
	fetch Fetcher
	log   *log.Logger

	current atomic.Pointer[manifest]
	group   singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats contains cache statistics
type CacheStats struct {
	Version string
	Entries int
	Hits    uint64
	Misses  uint64
}

// NewCache returns an empty, unversioned cache that fetches through f.
func NewCache(f Fetcher, lg *log.Logger) *Cache {
	if lg == nil {
		lg = log.Discard()
	}
	c := &Cache{fetch: f, log: lg}
	c.current.Store(newManifest(""))
	return c
}

// Version returns the version currently served.
func (c *Cache) Version() string {
	return c.current.Load().version
}

// Install fetches every url into a fresh manifest for version and swaps it
// in. If any fetch fails the previous manifest stays in place. Installing
// the version already served is a no-op.
func (c *Cache) Install(ctx context.Context, version string, urls []string) error {
	if c.Version() == version && version != "" {
		return nil
	}

	m := newManifest(version)
	for _, url := range urls {
		if err := shellerr.FromContext(ctx); err != nil {
			return err
		}
		r, err := c.fetch.Fetch(ctx, url)
		if err != nil {
			return fmt.Errorf("install %s: fetch %s: %w", version, url, err)
		}
		if !r.OK() {
			return fmt.Errorf("install %s: fetch %s: status %d", version, url, r.Status)
		}
		m.put(url, r)
	}

	old := c.current.Swap(m)
	c.log.Infof("cache %s installed with %d entries (was %q)", version, len(urls), old.version)
	return nil
}

// Serve returns url from the current manifest, or fetches it and caches a
// successful response. Concurrent misses for one url share a fetch.
func (c *Cache) Serve(ctx context.Context, url string) (*Response, error) {
	m := c.current.Load()
	if r, ok := m.get(url); ok {
		c.hits.Add(1)
		return r, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(m.version+"\x00"+url, func() (interface{}, error) {
		r, err := c.fetch.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		if r.OK() {
			m.put(url, r)
		}
		return r, nil
	})
	if err != nil {
		c.log.Debugf("fetch %s: %v", url, err)
		return nil, err
	}
	return v.(*Response), nil
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	m := c.current.Load()
	return CacheStats{
		Version: m.version,
		Entries: m.len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// HTTPFetcher fetches assets over HTTP.
type HTTPFetcher struct {
	Client *http.Client
	// BaseURL, when set, is prefixed to every requested url. Responses keep
	// the url they were requested under.
	BaseURL string
	// MaxBody bounds a response body; zero means unbounded.
	MaxBody int64
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	target := url
	if f.BaseURL != "" {
		target = strings.TrimSuffix(f.BaseURL, "/") + "/" + strings.TrimPrefix(url, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp, f.MaxBody)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return &Response{
		URL:         url,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func readBody(resp *http.Response, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(resp.Body)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return body, nil
}
