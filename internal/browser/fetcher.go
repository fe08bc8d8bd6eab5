package browser

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/remarkablegames/renpy-sdk/internal/offline"
)

// FSFetcher serves asset URLs from a directory, the way a static host
// would.
type FSFetcher struct {
	Fs   afero.Fs
	Root string
}

var _ offline.Fetcher = (*FSFetcher)(nil)

// Fetch implements offline.Fetcher. Missing files produce a 404 response,
// not an error.
func (f *FSFetcher) Fetch(ctx context.Context, url string) (*offline.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := f.resolve(url)
	data, err := afero.ReadFile(f.Fs, name)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &offline.Response{URL: url, Status: http.StatusNotFound}, nil
	case err != nil:
		return nil, err
	}
	return &offline.Response{
		URL:         url,
		Status:      http.StatusOK,
		ContentType: contentType(name),
		Body:        data,
	}, nil
}

// URLs lists every file below Root as a page-relative URL, sorted.
func (f *FSFetcher) URLs() ([]string, error) {
	root := f.root()
	var urls []string
	err := afero.Walk(f.Fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(path.Clean(p), root)
		urls = append(urls, "/"+strings.TrimPrefix(rel, "/"))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(urls)
	return urls, nil
}

func (f *FSFetcher) root() string {
	if f.Root == "" {
		return "/"
	}
	return path.Clean(f.Root)
}

// resolve maps a URL onto the asset directory. Query strings are ignored
// and the path cannot climb above Root.
func (f *FSFetcher) resolve(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return path.Join(f.root(), path.Clean("/"+url))
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
