package shell

import (
	"fmt"

	"github.com/remarkablegames/renpy-sdk/internal/log"
)

// State is the shell's primary state.
type State int

const (
	Booting State = iota
	Loading
	Running
	AwaitingInput
)

func (s State) String() string {
	switch s {
	case Booting:
		return "Booting"
	case Loading:
		return "Loading"
	case Running:
		return "Running"
	case AwaitingInput:
		return "AwaitingInput"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Overlay is a page surface the shell shows or hides.
type Overlay int

const (
	// OverlayNone means no primary overlay covers the rendering surface.
	OverlayNone Overlay = iota
	Presplash
	Status
	Input
	ContextMenu
)

func (o Overlay) String() string {
	switch o {
	case OverlayNone:
		return "None"
	case Presplash:
		return "Presplash"
	case Status:
		return "Status"
	case Input:
		return "Input"
	case ContextMenu:
		return "ContextMenu"
	}
	return fmt.Sprintf("Overlay(%d)", int(o))
}

// EventKind identifies an event.
type EventKind int

const (
	EventProgress EventKind = iota
	EventReady
	EventInputRequested
	EventInputChanged
	EventInputSubmitted
	EventMenuToggled
	EventMenuClosed
	EventLogAvailable
	EventNotice
	EventTransferStarted
	EventTransferFinished
	EventAction
)

var eventNames = map[EventKind]string{
	EventProgress:         "Progress",
	EventReady:            "Ready",
	EventInputRequested:   "InputRequested",
	EventInputChanged:     "InputChanged",
	EventInputSubmitted:   "InputSubmitted",
	EventMenuToggled:      "MenuToggled",
	EventMenuClosed:       "MenuClosed",
	EventLogAvailable:     "LogAvailable",
	EventNotice:           "Notice",
	EventTransferStarted:  "TransferStarted",
	EventTransferFinished: "TransferFinished",
	EventAction:           "Action",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one message on the shell's queue. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind

	// Progress
	Phase   string
	Percent int
	Message string

	// InputRequested: Text is the prompt. InputChanged: Text is the value.
	// LogAvailable: Text is the log path. Notice and TransferFinished: Text
	// is the notice.
	Text string
	// Reply receives the submitted value of an InputRequested event. It
	// needs room for one value; it is closed without a value when a newer
	// request replaces this one.
	Reply chan<- string

	Action Action
}

// View is an immutable snapshot of the machine.
type View struct {
	State        State
	MenuOpen     bool
	StatusText   string
	Percent      int
	Phase        string
	Prompt       string
	InputValue   string
	Notice       string
	NoticeSeq    int
	LogPath      string
	Transferring bool
}

// Primary returns the primary overlay visible in v.
func (v View) Primary() Overlay {
	switch v.State {
	case Booting:
		return Presplash
	case Loading:
		return Status
	case AwaitingInput:
		return Input
	}
	return OverlayNone
}

// Transition describes the effect of one event.
type Transition struct {
	Event    Event
	From, To View

	// Submitted is set when the event delivered an input value.
	Submitted bool
	Value     string
}

// Changed reports whether the event altered the view.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Machine is the shell's state machine. It is not safe for concurrent use;
// the shell only touches it from its event loop.
type Machine struct {
	view View

	// resume is the state to return to once input is submitted.
	resume State
	reply  chan<- string

	// phaseStarted is false until the first progress of a loading phase.
	phaseStarted bool

	log *log.Logger
}

// NewMachine returns a machine in the Booting state.
func NewMachine(lg *log.Logger) *Machine {
	if lg == nil {
		lg = log.Discard()
	}
	return &Machine{view: View{State: Booting}, log: lg}
}

// View returns the current snapshot.
func (m *Machine) View() View {
	return m.view
}

// Dispatch applies ev and returns the transition. Events that do not apply
// in the current state leave the view unchanged.
func (m *Machine) Dispatch(ev Event) Transition {
	t := Transition{Event: ev, From: m.view}
	v := m.view

	switch ev.Kind {
	case EventProgress:
		m.progress(&v, ev)

	case EventReady:
		switch v.State {
		case AwaitingInput:
			m.resume = Running
		default:
			v.State = Running
		}

	case EventInputRequested:
		if v.State == AwaitingInput {
			m.cancelReply()
		} else {
			m.resume = v.State
			if m.resume == Booting {
				m.resume = Running
			}
		}
		m.reply = ev.Reply
		v.State = AwaitingInput
		v.Prompt = ev.Text
		v.InputValue = ""

	case EventInputChanged:
		if v.State != AwaitingInput {
			m.ignore(ev)
			break
		}
		v.InputValue = ev.Text

	case EventInputSubmitted:
		if v.State != AwaitingInput {
			m.ignore(ev)
			break
		}
		t.Submitted, t.Value = true, v.InputValue
		if m.reply != nil {
			select {
			case m.reply <- v.InputValue:
			default:
				m.log.Errorf("input reply dropped: requester is not receiving")
			}
			close(m.reply)
			m.reply = nil
		}
		v.State = m.resume
		v.Prompt, v.InputValue = "", ""

	case EventMenuToggled:
		v.MenuOpen = !v.MenuOpen

	case EventMenuClosed:
		v.MenuOpen = false

	case EventLogAvailable:
		v.LogPath = ev.Text

	case EventNotice:
		v.Notice = ev.Text
		v.NoticeSeq++

	case EventTransferStarted:
		v.Transferring = true

	case EventTransferFinished:
		v.Transferring = false
		if ev.Text != "" {
			v.Notice = ev.Text
			v.NoticeSeq++
		}

	default:
		m.ignore(ev)
	}

	m.view = v
	t.To = v
	if t.From.State != t.To.State {
		m.log.Debugf("%s -> %s on %s", t.From.State, t.To.State, ev.Kind)
	}
	return t
}

// progress applies a loading update, clamping the percentage to [0,100]
// and to the highest value seen in the current phase.
func (m *Machine) progress(v *View, ev Event) {
	pct := ev.Percent
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}

	base := v.State
	if base == AwaitingInput {
		base = m.resume
	}
	restart := base == Running
	newPhase := !m.phaseStarted || restart || (ev.Phase != "" && ev.Phase != v.Phase)
	if newPhase {
		m.phaseStarted = true
		if ev.Phase != "" || restart {
			v.Phase = ev.Phase
		}
	} else if pct < v.Percent {
		pct = v.Percent
	}

	v.Percent = pct
	if ev.Message != "" {
		v.StatusText = ev.Message
	}

	switch v.State {
	case Booting, Running:
		v.State = Loading
	case AwaitingInput:
		// Loading resumes once the input is submitted.
		m.resume = Loading
	}
}

func (m *Machine) cancelReply() {
	if m.reply != nil {
		close(m.reply)
		m.reply = nil
	}
}

func (m *Machine) ignore(ev Event) {
	m.log.Debugf("ignoring %s in %s", ev.Kind, m.view.State)
}
