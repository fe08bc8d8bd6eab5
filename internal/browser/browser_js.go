//go:build js && wasm
// +build js,wasm

package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall/js"

	"github.com/remarkablegames/renpy-sdk/internal/log"
	"github.com/remarkablegames/renpy-sdk/internal/offline"
	"github.com/remarkablegames/renpy-sdk/internal/savefs"
	"github.com/remarkablegames/renpy-sdk/internal/shell"
)

// ErrNoSelection is returned by ReadUploadedFile when the picker is
// dismissed.
var ErrNoSelection = errors.New("no file selected")

// Page provides the browser capabilities through page-level helpers:
// pickFile(accept, callback), downloadFile(filename, bytes, mime) and
// navigator.serviceWorker.
type Page struct {
	log *log.Logger
}

var _ Capabilities = (*Page)(nil)

// NewPage returns the capabilities of the current page.
func NewPage(lg *log.Logger) *Page {
	if lg == nil {
		lg = log.Discard()
	}
	return &Page{log: lg}
}

// ReadUploadedFile implements transfer.Uploader.
func (p *Page) ReadUploadedFile(ctx context.Context, accept string) ([]byte, error) {
	type fileResult struct {
		data []byte
		err  error
	}
	resultChan := make(chan fileResult, 1)

	var callback js.Func
	callback = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		defer callback.Release()
		if len(args) < 3 {
			resultChan <- fileResult{err: fmt.Errorf("invalid callback arguments")}
			return nil
		}
		if !args[0].Bool() {
			resultChan <- fileResult{err: ErrNoSelection}
			return nil
		}
		jsData := args[2]
		data := make([]byte, jsData.Get("length").Int())
		js.CopyBytesToGo(data, jsData)
		p.log.Debugf("picked %s (%d bytes)", args[1].String(), len(data))
		resultChan <- fileResult{data: data}
		return nil
	})

	js.Global().Call("pickFile", accept, callback)

	select {
	case r := <-resultChan:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TriggerDownload implements transfer.Downloader.
func (p *Page) TriggerDownload(ctx context.Context, data []byte, filename, mimeType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	jsArray := js.Global().Get("Uint8Array").New(len(data))
	js.CopyBytesToJS(jsArray, data)
	js.Global().Call("downloadFile", filename, jsArray, mimeType)
	return nil
}

func serviceWorker() js.Value {
	nav := js.Global().Get("navigator")
	if !nav.Truthy() {
		return js.Undefined()
	}
	return nav.Get("serviceWorker")
}

// ControllerActive implements offline.Registrar.
func (p *Page) ControllerActive() bool {
	sw := serviceWorker()
	return sw.Truthy() && sw.Get("controller").Truthy()
}

// RegisterBackgroundWorker implements offline.Registrar.
func (p *Page) RegisterBackgroundWorker(ctx context.Context, script string, opts offline.RegistrationOptions) error {
	sw := serviceWorker()
	if !sw.Truthy() {
		return errors.New("service workers are not available")
	}
	o := map[string]interface{}{"updateViaCache": opts.UpdateViaCache}
	if opts.Scope != "" {
		o["scope"] = opts.Scope
	}
	_, err := await(ctx, sw.Call("register", script, js.ValueOf(o)))
	return err
}

// await waits for a promise. The callbacks release themselves once the
// promise settles, even if ctx ended the wait first.
func await(ctx context.Context, promise js.Value) (js.Value, error) {
	type result struct {
		v   js.Value
		err error
	}
	ch := make(chan result, 1)

	var then, catch js.Func
	var once sync.Once
	release := func() {
		once.Do(func() {
			then.Release()
			catch.Release()
		})
	}
	then = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		defer release()
		v := js.Undefined()
		if len(args) > 0 {
			v = args[0]
		}
		ch <- result{v: v}
		return nil
	})
	catch = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		defer release()
		msg := "promise rejected"
		if len(args) > 0 && args[0].Truthy() {
			msg = args[0].Call("toString").String()
		}
		ch <- result{err: errors.New(msg)}
		return nil
	})
	promise.Call("then", then).Call("catch", catch)

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return js.Undefined(), ctx.Err()
	}
}

// Engine drives the engine through the page's renpyWeb object:
// submitInput(value), snapshotSaves() and restoreSaves(files). The save
// calls mirror the engine's save directory into the namespace and back;
// both run while the transfer holds exclusive access.
type Engine struct {
	obj js.Value
	log *log.Logger
}

var _ shell.Engine = (*Engine)(nil)

// NewEngine binds to window.renpyWeb.
func NewEngine(lg *log.Logger) *Engine {
	if lg == nil {
		lg = log.Discard()
	}
	return &Engine{obj: js.Global().Get("renpyWeb"), log: lg}
}

func (e *Engine) SubmitInput(value string) {
	e.obj.Call("submitInput", value)
}

// RequestSave replaces the namespace with the engine's current saves.
func (e *Engine) RequestSave(ctx context.Context, ns *savefs.Namespace) error {
	v, err := await(ctx, e.obj.Call("snapshotSaves"))
	if err != nil {
		return err
	}
	files := make([]savedFile, v.Length())
	for i := range files {
		item := v.Index(i)
		files[i] = savedFile{Path: item.Get("path").String(), Dir: item.Get("dir").Truthy()}
		if files[i].Dir {
			continue
		}
		jsData := item.Get("data")
		files[i].Data = make([]byte, jsData.Get("length").Int())
		js.CopyBytesToGo(files[i].Data, jsData)
	}
	if err := mirrorSaves(ctx, ns, files); err != nil {
		return err
	}
	e.log.Debugf("mirrored %d save entries from the engine", len(files))
	return nil
}

// RequestLoad hands the namespace contents to the engine.
func (e *Engine) RequestLoad(ctx context.Context, ns *savefs.Namespace) error {
	entries, err := ns.Entries(ctx)
	if err != nil {
		return err
	}
	files := js.Global().Get("Array").New(len(entries))
	for i, ent := range entries {
		item := map[string]interface{}{"path": ent.Path, "dir": ent.IsDir()}
		if !ent.IsDir() {
			jsData := js.Global().Get("Uint8Array").New(len(ent.Data))
			js.CopyBytesToJS(jsData, ent.Data)
			item["data"] = jsData
		}
		files.SetIndex(i, js.ValueOf(item))
	}
	_, err = await(ctx, e.obj.Call("restoreSaves", files))
	return err
}

// DOMIDs names the page elements a DOM surface drives.
type DOMIDs struct {
	Overlays   map[shell.Overlay]string
	StatusText string
	Progress   string
	Prompt     string
	InputValue string
	Notice     string
	// ActionPrefix plus the action name is the id of each menu entry.
	ActionPrefix string
}

// DefaultDOMIDs are the element ids of the stock page template.
func DefaultDOMIDs() DOMIDs {
	return DOMIDs{
		Overlays: map[shell.Overlay]string{
			shell.Presplash:   "presplash",
			shell.Status:      "statusbox",
			shell.Input:       "inputbox",
			shell.ContextMenu: "contextmenu",
		},
		StatusText:   "statustext",
		Progress:     "progressbar",
		Prompt:       "inputprompt",
		InputValue:   "inputtext",
		Notice:       "notice",
		ActionPrefix: "menu-",
	}
}

// DOM renders the shell onto page elements.
type DOM struct {
	ids DOMIDs
	log *log.Logger
}

var _ shell.Surface = (*DOM)(nil)

// NewDOM returns a surface over the elements named by ids.
func NewDOM(ids DOMIDs, lg *log.Logger) *DOM {
	if lg == nil {
		lg = log.Discard()
	}
	return &DOM{ids: ids, log: lg}
}

func (d *DOM) element(id string) js.Value {
	el := js.Global().Get("document").Call("getElementById", id)
	if !el.Truthy() {
		d.log.Debugf("element #%s not found", id)
	}
	return el
}

func (d *DOM) setDisplay(o shell.Overlay, display string) {
	if el := d.element(d.ids.Overlays[o]); el.Truthy() {
		el.Get("style").Set("display", display)
	}
}

func (d *DOM) Show(o shell.Overlay) { d.setDisplay(o, "") }

func (d *DOM) Hide(o shell.Overlay) { d.setDisplay(o, "none") }

func (d *DOM) SetStatus(text string, percent int) {
	if el := d.element(d.ids.StatusText); el.Truthy() {
		el.Set("textContent", text)
	}
	if el := d.element(d.ids.Progress); el.Truthy() {
		el.Set("value", percent)
	}
}

func (d *DOM) SetPrompt(prompt, value string) {
	if el := d.element(d.ids.Prompt); el.Truthy() {
		el.Set("textContent", prompt)
	}
	if el := d.element(d.ids.InputValue); el.Truthy() && el.Get("value").String() != value {
		el.Set("value", value)
	}
}

func (d *DOM) Notify(text string) {
	if el := d.element(d.ids.Notice); el.Truthy() {
		el.Set("textContent", text)
		el.Get("classList").Call("add", "visible")
	}
}

func (d *DOM) EnableAction(a shell.Action, enabled bool) {
	if el := d.element(d.ids.ActionPrefix + string(a)); el.Truthy() {
		el.Set("disabled", !enabled)
	}
}

// Bind exposes s to the page as window.renpyShell. Calls are forwarded in
// order on a separate goroutine so page callbacks never block.
func Bind(s *shell.Shell) {
	q := newCallQueue()
	fn := func(call func(args []js.Value)) js.Func {
		return js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			q.push(func() { call(args) })
			return nil
		})
	}

	obj := js.Global().Get("Object").New()
	obj.Set("progress", fn(func(args []js.Value) {
		s.OnProgress(argInt(args, 0), argString(args, 1))
	}))
	obj.Set("progressPhase", fn(func(args []js.Value) {
		s.OnProgressPhase(argString(args, 0), argInt(args, 1), argString(args, 2))
	}))
	obj.Set("ready", fn(func([]js.Value) { s.OnReady() }))
	obj.Set("logAvailable", fn(func(args []js.Value) { s.OnLogAvailable(argString(args, 0)) }))
	obj.Set("toggleMenu", fn(func([]js.Value) { s.ToggleMenu() }))
	obj.Set("closeMenu", fn(func([]js.Value) { s.CloseMenu() }))
	obj.Set("input", fn(func(args []js.Value) { s.Input(argString(args, 0)) }))
	obj.Set("submitInput", fn(func([]js.Value) { s.SubmitInput() }))
	obj.Set("invoke", fn(func(args []js.Value) { s.Invoke(shell.Action(argString(args, 0))) }))

	// requestInput returns a promise of the submitted value. It rejects when
	// a newer request replaces it.
	obj.Set("requestInput", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		prompt := argString(args, 0)
		var executor js.Func
		executor = js.FuncOf(func(this js.Value, pargs []js.Value) interface{} {
			defer executor.Release()
			resolve, reject := pargs[0], pargs[1]
			q.push(func() {
				reply := s.OnInputRequested(prompt)
				go func() {
					if v, ok := <-reply; ok {
						resolve.Invoke(v)
					} else {
						reject.Invoke("input request replaced")
					}
				}()
			})
			return nil
		})
		return js.Global().Get("Promise").New(executor)
	}))

	js.Global().Set("renpyShell", obj)
}

// callQueue runs funcs one at a time in push order. push never blocks.
type callQueue struct {
	mu    sync.Mutex
	calls []func()
	wake  chan struct{}
}

func newCallQueue() *callQueue {
	q := &callQueue{wake: make(chan struct{}, 1)}
	go q.run()
	return q
}

func (q *callQueue) push(f func()) {
	q.mu.Lock()
	q.calls = append(q.calls, f)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *callQueue) run() {
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.calls) == 0 {
				q.mu.Unlock()
				break
			}
			f := q.calls[0]
			q.calls = q.calls[1:]
			q.mu.Unlock()
			f()
		}
	}
}

func argString(args []js.Value, i int) string {
	if i < len(args) && args[i].Type() == js.TypeString {
		return args[i].String()
	}
	return ""
}

func argInt(args []js.Value, i int) int {
	if i < len(args) && args[i].Type() == js.TypeNumber {
		return args[i].Int()
	}
	return 0
}
