package browser

import (
	"context"
	"sync"

	"github.com/remarkablegames/renpy-sdk/internal/log"
	"github.com/remarkablegames/renpy-sdk/internal/savefs"
	"github.com/remarkablegames/renpy-sdk/internal/shell"
)

// LogSurface renders the shell as log lines. It is the surface of headless
// runs.
type LogSurface struct {
	log *log.Logger

	mu      sync.Mutex
	visible map[shell.Overlay]bool
	enabled map[shell.Action]bool
}

var _ shell.Surface = (*LogSurface)(nil)

// NewLogSurface returns a surface writing to lg.
func NewLogSurface(lg *log.Logger) *LogSurface {
	if lg == nil {
		lg = log.Discard()
	}
	return &LogSurface{
		log:     lg,
		visible: make(map[shell.Overlay]bool),
		enabled: make(map[shell.Action]bool),
	}
}

func (s *LogSurface) Show(o shell.Overlay) {
	s.mu.Lock()
	s.visible[o] = true
	s.mu.Unlock()
	s.log.Debugf("show %s", o)
}

func (s *LogSurface) Hide(o shell.Overlay) {
	s.mu.Lock()
	s.visible[o] = false
	s.mu.Unlock()
	s.log.Debugf("hide %s", o)
}

func (s *LogSurface) SetStatus(text string, percent int) {
	s.log.Infof("[%3d%%] %s", percent, text)
}

func (s *LogSurface) SetPrompt(prompt, value string) {
	if prompt != "" {
		s.log.Infof("%s %s", prompt, value)
	}
}

func (s *LogSurface) Notify(text string) {
	s.log.Infof("%s", text)
}

func (s *LogSurface) EnableAction(a shell.Action, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled[a] = enabled
}

// Visible reports whether o is shown.
func (s *LogSurface) Visible(o shell.Overlay) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible[o]
}

// Enabled reports whether the menu entry for a is enabled.
func (s *LogSurface) Enabled(a shell.Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[a]
}

// Headless stands in for the engine outside the browser. Its saves already
// live in the namespace, so syncing is a no-op.
type Headless struct {
	log *log.Logger

	mu     sync.Mutex
	inputs []string
}

var _ shell.Engine = (*Headless)(nil)

// NewHeadless returns a headless engine.
func NewHeadless(lg *log.Logger) *Headless {
	if lg == nil {
		lg = log.Discard()
	}
	return &Headless{log: lg}
}

func (e *Headless) SubmitInput(value string) {
	e.mu.Lock()
	e.inputs = append(e.inputs, value)
	e.mu.Unlock()
	e.log.Debugf("input %q", value)
}

// Inputs returns the values submitted so far.
func (e *Headless) Inputs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.inputs...)
}

func (e *Headless) RequestSave(ctx context.Context, ns *savefs.Namespace) error {
	e.log.Debugf("save sync requested for %s", ns.Root())
	return ctx.Err()
}

func (e *Headless) RequestLoad(ctx context.Context, ns *savefs.Namespace) error {
	e.log.Debugf("save reload requested for %s", ns.Root())
	return ctx.Err()
}
