// Package offline manages the page's background caching worker and the
// versioned asset cache it serves from.
package offline

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/remarkablegames/renpy-sdk/internal/log"
	"github.com/remarkablegames/renpy-sdk/internal/shellerr"
)

// UpdateViaCacheAll lets the browser's HTTP cache serve the worker script
// and its imports.
const UpdateViaCacheAll = "all"

// RegistrationOptions are passed to the browser with the worker script.
type RegistrationOptions struct {
	Scope          string
	UpdateViaCache string
}

// Registrar is the browser's worker registration capability.
type Registrar interface {
	// ControllerActive reports whether a worker already controls the page.
	ControllerActive() bool
	RegisterBackgroundWorker(ctx context.Context, script string, opts RegistrationOptions) error
}

// Lifecycle registers the caching worker at most once per page lifetime.
type Lifecycle struct {
	reg    Registrar
	script string
	opts   RegistrationOptions
	log    *log.Logger

	group singleflight.Group

	mu         sync.Mutex
	registered bool
	failed     error
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithScope limits the worker to a URL scope.
func WithScope(scope string) LifecycleOption {
	return func(l *Lifecycle) {
		l.opts.Scope = scope
	}
}

// WithLifecycleLogger sets the logger.
func WithLifecycleLogger(lg *log.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		if lg != nil {
			l.log = lg
		}
	}
}

// NewLifecycle returns a lifecycle that registers script through reg.
func NewLifecycle(reg Registrar, script string, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		reg:    reg,
		script: script,
		opts:   RegistrationOptions{UpdateViaCache: UpdateViaCacheAll},
		log:    log.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register installs the worker unless one already controls the page or an
// earlier call succeeded. Concurrent callers share a single registration. A
// failure is returned as shellerr.ErrWorkerRegistrationFailed and disables
// offline caching for the rest of the page lifetime; the page keeps working
// online.
func (l *Lifecycle) Register(ctx context.Context) error {
	l.mu.Lock()
	registered, failed := l.registered, l.failed
	l.mu.Unlock()
	switch {
	case registered:
		return nil
	case failed != nil:
		return failed
	}

	_, err, _ := l.group.Do("register", func() (interface{}, error) {
		if l.reg.ControllerActive() {
			l.log.Debugf("worker already controls the page")
			l.mark(nil)
			return nil, nil
		}
		if err := l.reg.RegisterBackgroundWorker(ctx, l.script, l.opts); err != nil {
			werr := shellerr.Wrap(shellerr.CodeWorkerRegistrationFailed, shellerr.ErrWorkerRegistrationFailed.Message, err)
			l.log.Errorf("register %s: %v", l.script, err)
			l.mark(werr)
			return nil, werr
		}
		l.log.Infof("registered %s", l.script)
		l.mark(nil)
		return nil, nil
	})
	return err
}

func (l *Lifecycle) mark(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.failed = err
		return
	}
	l.registered = true
}

// Registered reports whether a worker controls or will control the page.
func (l *Lifecycle) Registered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registered
}

// Enabled reports whether offline caching is still possible.
func (l *Lifecycle) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed == nil
}
