// Package shell runs the page-level bootstrap shell around the engine.
//
// All state lives in a Machine that only the event loop in Shell.Run
// touches. Engine callbacks, user actions and finished background work are
// posted to one FIFO queue and applied in order; each resulting Transition
// is rendered onto the Surface, which hides the old primary overlay and
// shows the new one in the same step. Save transfers and downloads run on
// their own goroutines and report back through the queue, so the loop keeps
// rendering progress while they are pending.
package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/remarkablegames/renpy-sdk/internal/log"
	"github.com/remarkablegames/renpy-sdk/internal/shellerr"
	"github.com/remarkablegames/renpy-sdk/internal/transfer"
)

// Action is a context menu entry.
type Action string

const (
	ExportSaves    Action = "export-saves"
	ImportSaves    Action = "import-saves"
	DownloadLog    Action = "download-log"
	CancelTransfer Action = "cancel-transfer"
)

// Surface renders the shell on the page.
type Surface interface {
	Show(o Overlay)
	Hide(o Overlay)
	SetStatus(text string, percent int)
	SetPrompt(prompt, value string)
	Notify(text string)
	EnableAction(a Action, enabled bool)
}

// Engine is what the shell calls on the engine.
type Engine interface {
	SubmitInput(value string)
	transfer.Syncer
}

// Transfers runs the save transfer protocol.
type Transfers interface {
	Export(ctx context.Context) (transfer.Result, error)
	Import(ctx context.Context) (transfer.Result, error)
	Download(ctx context.Context, path, mimeType string) (transfer.Result, error)
}

// Registrar registers the offline caching worker.
type Registrar interface {
	Register(ctx context.Context) error
}

// Shell owns the event loop.
type Shell struct {
	machine   *Machine
	events    chan Event
	surface   Surface
	engine    Engine
	transfers Transfers
	offline   Registrar
	log       *log.Logger
	logMIME   string
	observers []func(Transition)

	// Loop-owned
	ctx            context.Context
	cancelTransfer context.CancelFunc

	wg   sync.WaitGroup
	done chan struct{}
}

// Option is a functional option for configuring a Shell
type Option func(*Shell)

// WithQueueSize sets the event queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Shell) {
		if n > 0 {
			s.events = make(chan Event, n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Shell) {
		if l != nil {
			s.log = l
		}
	}
}

// WithOffline registers the offline worker when the loop starts.
func WithOffline(r Registrar) Option {
	return func(s *Shell) {
		s.offline = r
	}
}

// WithLogMIME sets the MIME type of diagnostic log downloads.
func WithLogMIME(mimeType string) Option {
	return func(s *Shell) {
		if mimeType != "" {
			s.logMIME = mimeType
		}
	}
}

// WithObserver calls fn with every transition after it is rendered.
func WithObserver(fn func(Transition)) Option {
	return func(s *Shell) {
		s.observers = append(s.observers, fn)
	}
}

// New returns a shell in the Booting state. Run starts it.
func New(surface Surface, engine Engine, transfers Transfers, opts ...Option) *Shell {
	s := &Shell{
		events:    make(chan Event, 64),
		surface:   surface,
		engine:    engine,
		transfers: transfers,
		log:       log.Discard(),
		logMIME:   "text/plain",
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.machine = NewMachine(s.log)
	return s
}

// Run processes events until ctx is done. In-flight transfers are canceled
// and waited for before Run returns.
func (s *Shell) Run(ctx context.Context) error {
	s.ctx = ctx
	s.reset()

	if s.offline != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			// Offline caching is disabled quietly; the page keeps working online.
			if err := s.offline.Register(ctx); err != nil {
				s.log.Warnf("offline caching disabled: %v", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			if s.cancelTransfer != nil {
				s.cancelTransfer()
			}
			close(s.done)
			s.wg.Wait()
			return ctx.Err()
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

// reset renders the initial Booting view.
func (s *Shell) reset() {
	for _, o := range []Overlay{Status, Input, ContextMenu} {
		s.surface.Hide(o)
	}
	s.surface.Show(Presplash)
	s.surface.EnableAction(ExportSaves, true)
	s.surface.EnableAction(ImportSaves, true)
	s.surface.EnableAction(DownloadLog, false)
	s.surface.EnableAction(CancelTransfer, false)
}

// post queues ev. It blocks while the queue is full and drops ev once the
// loop has stopped.
func (s *Shell) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// OnProgress reports loading progress in the current phase.
func (s *Shell) OnProgress(percent int, message string) {
	s.post(Event{Kind: EventProgress, Percent: percent, Message: message})
}

// OnProgressPhase reports loading progress for a named phase. A change of
// phase resets the monotonic clamp.
func (s *Shell) OnProgressPhase(phase string, percent int, message string) {
	s.post(Event{Kind: EventProgress, Phase: phase, Percent: percent, Message: message})
}

// OnReady reports that the engine is running.
func (s *Shell) OnReady() {
	s.post(Event{Kind: EventReady})
}

// OnInputRequested shows the input panel. The returned channel receives
// the submitted value, or is closed without one if a newer request
// replaces this one.
func (s *Shell) OnInputRequested(prompt string) <-chan string {
	reply := make(chan string, 1)
	s.post(Event{Kind: EventInputRequested, Text: prompt, Reply: reply})
	return reply
}

// OnLogAvailable enables downloading the diagnostic log at path.
func (s *Shell) OnLogAvailable(path string) {
	s.post(Event{Kind: EventLogAvailable, Text: path})
}

// ToggleMenu opens or closes the context menu.
func (s *Shell) ToggleMenu() {
	s.post(Event{Kind: EventMenuToggled})
}

// CloseMenu closes the context menu.
func (s *Shell) CloseMenu() {
	s.post(Event{Kind: EventMenuClosed})
}

// Input updates the value of the input panel.
func (s *Shell) Input(value string) {
	s.post(Event{Kind: EventInputChanged, Text: value})
}

// SubmitInput commits the input panel's value.
func (s *Shell) SubmitInput() {
	s.post(Event{Kind: EventInputSubmitted})
}

// Invoke runs a context menu action.
func (s *Shell) Invoke(a Action) {
	s.post(Event{Kind: EventAction, Action: a})
}

func (s *Shell) handle(ev Event) {
	switch ev.Kind {
	case EventAction:
		s.invoke(ev.Action)
		return
	case EventTransferFinished:
		if s.cancelTransfer != nil {
			s.cancelTransfer()
			s.cancelTransfer = nil
		}
	}

	t := s.machine.Dispatch(ev)
	if t.Submitted {
		s.engine.SubmitInput(t.Value)
	}
	s.apply(t)
}

func (s *Shell) invoke(a Action) {
	s.apply(s.machine.Dispatch(Event{Kind: EventMenuClosed}))

	switch a {
	case ExportSaves, ImportSaves:
		if s.cancelTransfer != nil {
			s.notify(actionTitle(a) + " failed: " + shellerr.Message(shellerr.ErrBusy))
			return
		}
		ctx, cancel := context.WithCancel(s.ctx)
		s.cancelTransfer = cancel
		s.apply(s.machine.Dispatch(Event{Kind: EventTransferStarted}))

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			var (
				res transfer.Result
				err error
			)
			if a == ExportSaves {
				res, err = s.transfers.Export(ctx)
			} else {
				res, err = s.transfers.Import(ctx)
			}
			s.post(Event{Kind: EventTransferFinished, Text: noticeFor(a, res, err)})
		}()

	case DownloadLog:
		p := s.machine.View().LogPath
		if p == "" {
			s.notify(actionTitle(a) + " failed: " + shellerr.Message(shellerr.ErrFileNotFound))
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			res, err := s.transfers.Download(s.ctx, p, s.logMIME)
			s.post(Event{Kind: EventNotice, Text: noticeFor(a, res, err)})
		}()

	case CancelTransfer:
		if s.cancelTransfer == nil {
			s.log.Debugf("no transfer to cancel")
			return
		}
		s.cancelTransfer()

	default:
		s.log.Warnf("unknown action %q", a)
	}
}

func (s *Shell) notify(text string) {
	s.apply(s.machine.Dispatch(Event{Kind: EventNotice, Text: text}))
}

// apply renders a transition onto the surface.
func (s *Shell) apply(t Transition) {
	from, to := t.From, t.To

	if fp, tp := from.Primary(), to.Primary(); fp != tp {
		if fp != OverlayNone {
			s.surface.Hide(fp)
		}
		if tp != OverlayNone {
			s.surface.Show(tp)
		}
	}
	if from.MenuOpen != to.MenuOpen {
		if to.MenuOpen {
			s.surface.Show(ContextMenu)
		} else {
			s.surface.Hide(ContextMenu)
		}
	}
	if from.StatusText != to.StatusText || from.Percent != to.Percent {
		s.surface.SetStatus(to.StatusText, to.Percent)
	}
	if from.Prompt != to.Prompt || from.InputValue != to.InputValue {
		s.surface.SetPrompt(to.Prompt, to.InputValue)
	}
	if from.NoticeSeq != to.NoticeSeq {
		s.log.Infof("notice: %s", to.Notice)
		s.surface.Notify(to.Notice)
	}
	if (from.LogPath == "") != (to.LogPath == "") {
		s.surface.EnableAction(DownloadLog, to.LogPath != "")
	}
	if from.Transferring != to.Transferring {
		s.surface.EnableAction(ExportSaves, !to.Transferring)
		s.surface.EnableAction(ImportSaves, !to.Transferring)
		s.surface.EnableAction(CancelTransfer, to.Transferring)
	}

	for _, fn := range s.observers {
		fn(t)
	}
}

func actionTitle(a Action) string {
	switch a {
	case ExportSaves:
		return "Export"
	case ImportSaves:
		return "Import"
	case DownloadLog:
		return "Log download"
	}
	return string(a)
}

// noticeFor renders the outcome of an action as status text.
func noticeFor(a Action, res transfer.Result, err error) string {
	switch {
	case err == nil:
		return res.String()
	case errors.Is(err, shellerr.ErrEmptyNamespace):
		return fmt.Sprintf("%s (%s)", res.String(), shellerr.Message(err))
	case shellerr.CodeOf(err) == shellerr.CodeCanceled:
		return actionTitle(a) + " canceled"
	}
	return actionTitle(a) + " failed: " + shellerr.Message(err)
}
