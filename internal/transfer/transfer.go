// Package transfer moves save data between the engine's storage namespace
// and files on the user's machine.
//
// Export and Import hold exclusive access to the namespace for their whole
// duration, so they never interleave with each other or with engine saves.
// Import decodes and verifies the complete archive before storage is
// touched, and commits through savefs.Namespace.Replace, which either writes
// every entry or restores the previous contents.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/remarkablegames/renpy-sdk/internal/log"
	"github.com/remarkablegames/renpy-sdk/internal/savearchive"
	"github.com/remarkablegames/renpy-sdk/internal/savefs"
	"github.com/remarkablegames/renpy-sdk/internal/shellerr"
)

const tracerName = "github.com/remarkablegames/renpy-sdk/internal/transfer"

// Uploader reads a file the user picks.
type Uploader interface {
	ReadUploadedFile(ctx context.Context, accept string) ([]byte, error)
}

// Downloader hands bytes to the user as a file.
type Downloader interface {
	TriggerDownload(ctx context.Context, data []byte, filename, mimeType string) error
}

// Capabilities is the browser storage boundary used by transfers.
type Capabilities interface {
	Uploader
	Downloader
}

// Syncer lets the engine flush pending saves before an export and reload
// them after an import. Both hooks run while the transfer holds exclusive
// access to ns.
type Syncer interface {
	RequestSave(ctx context.Context, ns *savefs.Namespace) error
	RequestLoad(ctx context.Context, ns *savefs.Namespace) error
}

// Op names a transfer operation.
type Op string

const (
	OpExport   Op = "export"
	OpImport   Op = "import"
	OpDownload Op = "download"
)

// Result summarizes a finished transfer.
type Result struct {
	Op       Op
	Files    int
	Bytes    int64
	Filename string
}

// String renders the result as status text.
func (r Result) String() string {
	size := humanize.Bytes(uint64(r.Bytes))
	switch r.Op {
	case OpExport:
		return fmt.Sprintf("Exported %s (%s) to %s", plural(r.Files, "save file"), size, r.Filename)
	case OpImport:
		return fmt.Sprintf("Imported %s (%s)", plural(r.Files, "save file"), size)
	case OpDownload:
		return fmt.Sprintf("Downloaded %s (%s)", r.Filename, size)
	}
	return string(r.Op)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}

// Transferer runs save transfers for one namespace.
type Transferer struct {
	ns     *savefs.Namespace
	caps   Capabilities
	syncer Syncer
	log    *log.Logger
	tracer trace.Tracer

	archiveName string
	archiveMIME string
	accept      string
}

// Option is a functional option for configuring a Transferer
type Option func(*Transferer)

// WithSyncer sets the engine hooks run around transfers.
func WithSyncer(s Syncer) Option {
	return func(t *Transferer) {
		t.syncer = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(t *Transferer) {
		if l != nil {
			t.log = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(tr trace.Tracer) Option {
	return func(t *Transferer) {
		if tr != nil {
			t.tracer = tr
		}
	}
}

// WithArchive sets the export filename, its MIME type and the upload
// picker filter.
func WithArchive(name, mimeType, accept string) Option {
	return func(t *Transferer) {
		if name != "" {
			t.archiveName = name
		}
		if mimeType != "" {
			t.archiveMIME = mimeType
		}
		t.accept = accept
	}
}

// New returns a Transferer for ns using caps for the browser side.
func New(ns *savefs.Namespace, caps Capabilities, opts ...Option) *Transferer {
	t := &Transferer{
		ns:          ns,
		caps:        caps,
		log:         log.Discard(),
		tracer:      otel.Tracer(tracerName),
		archiveName: savearchive.DefaultName,
		archiveMIME: "application/octet-stream",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Export archives the namespace and offers it as a download. An empty
// namespace still produces and downloads a valid archive; the result is
// returned together with shellerr.ErrEmptyNamespace.
func (t *Transferer) Export(ctx context.Context) (res Result, err error) {
	ctx, span := t.tracer.Start(ctx, "transfer.Export")
	defer func() { finish(span, res, err) }()
	res = Result{Op: OpExport, Filename: t.archiveName}

	release, err := t.ns.Guard().Exclusive(ctx)
	if err != nil {
		return res, err
	}
	defer release()

	if t.syncer != nil {
		if serr := t.syncer.RequestSave(ctx, t.ns); serr != nil {
			t.log.Warnf("engine save before export: %v", serr)
		}
	}

	entries, err := t.ns.Entries(ctx)
	if err != nil {
		if shellerr.CodeOf(err) == shellerr.CodeCanceled {
			return res, err
		}
		return res, fmt.Errorf("read save storage: %w", err)
	}
	data, err := savearchive.Marshal(entries)
	if err != nil {
		return res, fmt.Errorf("build save archive: %w", err)
	}
	if err := shellerr.FromContext(ctx); err != nil {
		return res, err
	}

	res.Files = countFiles(entries)
	res.Bytes = int64(len(data))
	if err := t.caps.TriggerDownload(ctx, data, t.archiveName, t.archiveMIME); err != nil {
		return res, err
	}

	if res.Files == 0 {
		t.log.Infof("export: %s; downloaded an empty archive", shellerr.ErrEmptyNamespace.Message)
		return res, shellerr.ErrEmptyNamespace
	}
	t.log.Infof("export: %s", res)
	return res, nil
}

// Import asks the user for an archive and imports it.
func (t *Transferer) Import(ctx context.Context) (Result, error) {
	data, err := t.caps.ReadUploadedFile(ctx, t.accept)
	if err != nil {
		if cerr := shellerr.FromContext(ctx); cerr != nil {
			return Result{Op: OpImport}, cerr
		}
		return Result{Op: OpImport}, err
	}
	return t.ImportBytes(ctx, data)
}

// ImportBytes replaces the namespace contents with the archive in data. A
// malformed archive is rejected before storage is touched; a failed write
// restores the previous contents.
func (t *Transferer) ImportBytes(ctx context.Context, data []byte) (res Result, err error) {
	ctx, span := t.tracer.Start(ctx, "transfer.Import")
	defer func() { finish(span, res, err) }()
	res = Result{Op: OpImport, Bytes: int64(len(data))}

	entries, err := savearchive.Unmarshal(data)
	if err != nil {
		t.log.Errorf("import: %v", err)
		return res, err
	}
	res.Files = countFiles(entries)

	release, err := t.ns.Guard().Exclusive(ctx)
	if err != nil {
		return res, err
	}
	defer release()
	if err := t.ns.Replace(ctx, entries); err != nil {
		t.log.Errorf("import: %v", err)
		return res, err
	}

	// The engine reads the committed namespace before anyone else may
	// write to it.
	if t.syncer != nil {
		if serr := t.syncer.RequestLoad(ctx, t.ns); serr != nil {
			t.log.Warnf("engine reload after import: %v", serr)
		}
	}
	t.log.Infof("import: %s", res)
	return res, nil
}

// Download offers a single file of the engine filesystem, such as the
// diagnostic log, as a download. Paths inside the namespace take shared
// access so they never observe a transfer half way.
func (t *Transferer) Download(ctx context.Context, p, mimeType string) (res Result, err error) {
	ctx, span := t.tracer.Start(ctx, "transfer.Download", trace.WithAttributes(attribute.String("transfer.path", p)))
	defer func() { finish(span, res, err) }()
	res = Result{Op: OpDownload, Filename: path.Base(p)}

	if _, inside := t.ns.Contains(p); inside {
		release, err := t.ns.Guard().Shared()
		if err != nil {
			return res, err
		}
		defer release()
	}

	data, err := t.ns.EngineFS().ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, shellerr.Wrapf(shellerr.CodeFileNotFound, err, "%s not found", p)
		}
		return res, fmt.Errorf("read %s: %w", p, err)
	}
	res.Files = 1
	res.Bytes = int64(len(data))

	if err := t.caps.TriggerDownload(ctx, data, res.Filename, mimeType); err != nil {
		return res, err
	}
	t.log.Infof("download: %s", res)
	return res, nil
}

func countFiles(entries []savefs.Entry) int {
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

// finish records the outcome on span and ends it.
func finish(span trace.Span, res Result, err error) {
	span.SetAttributes(
		attribute.String("transfer.op", string(res.Op)),
		attribute.Int("transfer.files", res.Files),
		attribute.Int64("transfer.bytes", res.Bytes),
	)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("transfer.error_code", string(shellerr.CodeOf(err))))
		span.SetStatus(codes.Error, shellerr.Message(err))
	}
	span.End()
}
