//go:build !js || !wasm

package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/remarkablegames/renpy-sdk/internal/browser"
	"github.com/remarkablegames/renpy-sdk/internal/log"
	"github.com/remarkablegames/renpy-sdk/internal/shell"
	"github.com/remarkablegames/renpy-sdk/internal/transfer"
)

type stubTransfers struct{}

func (stubTransfers) Export(context.Context) (transfer.Result, error) {
	return transfer.Result{Op: transfer.OpExport}, nil
}

func (stubTransfers) Import(context.Context) (transfer.Result, error) {
	return transfer.Result{Op: transfer.OpImport}, nil
}

func (stubTransfers) Download(context.Context, string, string) (transfer.Result, error) {
	return transfer.Result{Op: transfer.OpDownload}, nil
}

func TestRunCommands(t *testing.T) {
	engine := browser.NewHeadless(nil)
	views := make(chan shell.View, 64)
	s := shell.New(browser.NewLogSurface(nil), engine, stubTransfers{},
		shell.WithObserver(func(tr shell.Transition) { views <- tr.To }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	script := strings.Join([]string{
		"progress 10 Downloading",
		"phase unpack 5 Unpacking",
		"ready",
		"ask Name?",
		"type Eileen",
		"enter",
		"menu",
		"quit",
		"progress 99 ignored",
	}, "\n")
	h := browser.NewHarness(afero.NewMemMapFs())
	if err := runCommands(strings.NewReader(script), s, h); err != nil {
		t.Fatalf("runCommands: %v", err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case v := <-views:
			if v.MenuOpen {
				if v.State != shell.Running || v.Phase != "unpack" {
					t.Errorf("unexpected final view %+v", v)
				}
				if got := engine.Inputs(); len(got) != 1 || got[0] != "Eileen" {
					t.Errorf("unexpected inputs %v", got)
				}
				return
			}
			if v.Percent == 99 {
				t.Fatal("commands after quit should not run")
			}
		case <-timeout:
			t.Fatal("menu never opened")
		}
	}
}

func TestRunCommandsErrors(t *testing.T) {
	s := shell.New(browser.NewLogSurface(log.Discard()), browser.NewHeadless(nil), stubTransfers{})
	h := browser.NewHarness(afero.NewMemMapFs())
	for _, script := range []string{"bogus", "progress many", "phase x y"} {
		if err := runCommands(strings.NewReader(script), s, h); err == nil {
			t.Errorf("expected error for %q", script)
		}
	}
}
