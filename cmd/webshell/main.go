// Command webshell is the bootstrap shell of a web-exported visual novel.
//
// Built for js/wasm it drives the page; any other build runs the same shell
// headless against local directories, reading commands from stdin.
package main

import (
	"context"
	"errors"
	"os"

	"go.opentelemetry.io/otel"

	"github.com/remarkablegames/renpy-sdk/internal/config"
	"github.com/remarkablegames/renpy-sdk/internal/log"
	"github.com/remarkablegames/renpy-sdk/internal/offline"
	"github.com/remarkablegames/renpy-sdk/internal/savefs"
	"github.com/remarkablegames/renpy-sdk/internal/shell"
	"github.com/remarkablegames/renpy-sdk/internal/transfer"
)

func main() {
	lg := log.New(os.Stderr, log.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		lg.Errorf("config: %v", err)
		fail(newSurface(lg), "Configuration error: "+err.Error())
		return
	}
	lg.SetLevel(log.LevelFromString(cfg.LogLevel))

	p, err := newPlatform(cfg, lg)
	if err != nil {
		lg.Errorf("platform: %v", err)
		fail(newSurface(lg), "Startup error: "+err.Error())
		return
	}

	ns, err := savefs.New(p.engineFS, cfg.SaveRoot, namespaceOptions(cfg)...)
	if err != nil {
		lg.Errorf("save storage: %v", err)
		fail(p.surface, "Save storage unavailable: "+err.Error())
		return
	}

	transfers := transfer.New(ns, p.caps,
		transfer.WithSyncer(p.engine),
		transfer.WithLogger(lg.With("transfer")),
		transfer.WithArchive(cfg.ArchiveName, cfg.ArchiveMIME, cfg.ArchiveAccept),
		transfer.WithTracer(otel.Tracer("github.com/remarkablegames/renpy-sdk/cmd/webshell")),
	)

	opts := []shell.Option{
		shell.WithLogger(lg.With("shell")),
		shell.WithQueueSize(cfg.EventQueue),
		shell.WithLogMIME(cfg.LogMIME),
	}
	if cfg.OfflineCache {
		opts = append(opts, shell.WithOffline(offline.NewLifecycle(p.caps, cfg.WorkerScript,
			offline.WithScope(cfg.WorkerScope),
			offline.WithLifecycleLogger(lg.With("offline")),
		)))
	}
	s := shell.New(p.surface, p.engine, transfers, opts...)

	ctx, stop := p.context()
	defer stop()
	p.attach(ctx, s)

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		lg.Errorf("shell: %v", err)
	}
}

// namespaceOptions maps the storage settings onto the namespace. The
// negative cache expires at half the stat TTL.
func namespaceOptions(cfg config.Config) []savefs.Option {
	opts := []savefs.Option{savefs.WithCopyBufferSize(cfg.CopyBuffer)}
	if cfg.StatCacheTTL > 0 {
		opts = append(opts, savefs.WithCacheConfig(true, cfg.StatCacheTTL, cfg.StatCacheTTL/2, cfg.StatCacheMax))
	}
	return opts
}

// fail leaves msg on the status overlay and parks the program.
func fail(surface shell.Surface, msg string) {
	surface.Hide(shell.Presplash)
	surface.Show(shell.Status)
	surface.SetStatus(msg, 0)
	park()
}
