//go:build js && wasm
// +build js,wasm

package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"

	"github.com/remarkablegames/renpy-sdk/internal/browser"
	"github.com/remarkablegames/renpy-sdk/internal/config"
	"github.com/remarkablegames/renpy-sdk/internal/log"
	"github.com/remarkablegames/renpy-sdk/internal/shell"
)

type platform struct {
	caps     browser.Capabilities
	surface  shell.Surface
	engine   shell.Engine
	engineFS absfs.FileSystem
}

func newSurface(lg *log.Logger) shell.Surface {
	return browser.NewDOM(browser.DefaultDOMIDs(), lg.With("dom"))
}

func newPlatform(cfg config.Config, lg *log.Logger) (*platform, error) {
	if runtime.GOOS != "js" || runtime.GOARCH != "wasm" {
		return nil, fmt.Errorf("unexpected target %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	// The engine's save directory is mirrored here; the Engine syncs it.
	fsys, err := memfs.NewFS()
	if err != nil {
		return nil, err
	}
	return &platform{
		caps:     browser.NewPage(lg.With("page")),
		surface:  newSurface(lg),
		engine:   browser.NewEngine(lg.With("engine")),
		engineFS: fsys,
	}, nil
}

// context lives as long as the page.
func (p *platform) context() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

func (p *platform) attach(ctx context.Context, s *shell.Shell) {
	browser.Bind(s)
}

func park() {
	select {}
}
