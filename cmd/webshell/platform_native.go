//go:build !js || !wasm

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/spf13/afero"

	"github.com/remarkablegames/renpy-sdk/internal/browser"
	"github.com/remarkablegames/renpy-sdk/internal/config"
	"github.com/remarkablegames/renpy-sdk/internal/log"
	"github.com/remarkablegames/renpy-sdk/internal/offline"
	"github.com/remarkablegames/renpy-sdk/internal/shell"
)

type platform struct {
	caps     browser.Capabilities
	surface  shell.Surface
	engine   shell.Engine
	engineFS absfs.FileSystem

	harness *browser.Harness
	in      io.Reader
	log     *log.Logger
	quit    context.CancelFunc
}

func newSurface(lg *log.Logger) shell.Surface {
	return browser.NewLogSurface(lg.With("page"))
}

func newPlatform(cfg config.Config, lg *log.Logger) (*platform, error) {
	assets, err := filepath.Abs(cfg.AssetDir)
	if err != nil {
		return nil, fmt.Errorf("asset dir: %w", err)
	}
	downloads, err := filepath.Abs(cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("download dir: %w", err)
	}
	hopts := []browser.HarnessOption{
		browser.WithAssets(filepath.ToSlash(assets), cfg.AssetVersion),
		browser.WithDownloadDir(filepath.ToSlash(downloads)),
		browser.WithHarnessLogger(lg.With("harness")),
	}
	if cfg.AssetURL != "" {
		hopts = append(hopts, browser.WithAssetFetcher(&offline.HTTPFetcher{BaseURL: cfg.AssetURL}))
	}
	h := browser.NewHarness(afero.NewOsFs(), hopts...)
	fsys, err := memfs.NewFS()
	if err != nil {
		return nil, err
	}
	return &platform{
		caps:     h,
		surface:  newSurface(lg),
		engine:   browser.NewHeadless(lg.With("engine")),
		engineFS: fsys,
		harness:  h,
		in:       os.Stdin,
		log:      lg,
	}, nil
}

// context ends on interrupt or when the command stream ends.
func (p *platform) context() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	p.quit = cancel
	return ctx, cancel
}

func (p *platform) attach(ctx context.Context, s *shell.Shell) {
	go func() {
		defer p.quit()
		if err := runCommands(p.in, s, p.harness); err != nil {
			p.log.Errorf("commands: %v", err)
		}
		p.log.Infof("input closed, shutting down")
	}()
}

func park() {
	os.Exit(1)
}

// runCommands feeds shell events read line by line from r until r ends or
// a quit command arrives.
func runCommands(r io.Reader, s *shell.Shell, h *browser.Harness) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		switch cmd {
		case "":
		case "progress":
			pct, msg, _ := strings.Cut(arg, " ")
			n, err := strconv.Atoi(pct)
			if err != nil {
				return fmt.Errorf("progress: %w", err)
			}
			s.OnProgress(n, msg)
		case "phase":
			fields := strings.SplitN(arg, " ", 3)
			for len(fields) < 3 {
				fields = append(fields, "")
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return fmt.Errorf("phase: %w", err)
			}
			s.OnProgressPhase(fields[0], n, fields[2])
		case "ready":
			s.OnReady()
		case "ask":
			s.OnInputRequested(arg)
		case "type":
			s.Input(arg)
		case "enter":
			s.SubmitInput()
		case "menu":
			s.ToggleMenu()
		case "log":
			s.OnLogAvailable(arg)
		case "export":
			s.Invoke(shell.ExportSaves)
		case "import":
			h.Select(arg)
			s.Invoke(shell.ImportSaves)
		case "download-log":
			s.Invoke(shell.DownloadLog)
		case "cancel":
			s.Invoke(shell.CancelTransfer)
		case "quit":
			return nil
		default:
			return fmt.Errorf("unknown command %q", cmd)
		}
	}
	return sc.Err()
}
