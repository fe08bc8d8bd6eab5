// Package savearchive encodes save namespaces as single downloadable files.
//
// An archive is a POSIX tar stream wrapped in an LZ4 frame. Entry names are
// namespace-relative slash paths; directories end in "/". There is no version
// header: Decode accepts any archive whose frame is complete, whose checksum
// verifies and whose entries are regular files or directories with valid
// relative paths.
package savearchive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pierrec/lz4"

	"github.com/remarkablegames/renpy-sdk/internal/savefs"
	"github.com/remarkablegames/renpy-sdk/internal/shellerr"
)

// DefaultName is the file name offered for exported archives.
const DefaultName = "savegames.tar.lz4"

// MaxEntrySize bounds a single decoded file.
const MaxEntrySize = 256 << 20

// epoch stands in for entries without a modification time.
var epoch = time.Unix(0, 0)

// Encode writes entries to w as an archive.
func Encode(w io.Writer, entries []savefs.Entry) error {
	zw := lz4.NewWriter(w)
	tw := tar.NewWriter(zw)

	for _, e := range entries {
		if err := writeEntry(tw, e); err != nil {
			zw.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return fmt.Errorf("close tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close lz4 frame: %w", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, e savefs.Entry) error {
	name, err := savefs.CleanPath(e.Path)
	if err != nil {
		return err
	}
	mtime := e.ModTime
	if mtime.IsZero() {
		mtime = epoch
	}

	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(e.Mode.Perm()),
		ModTime: mtime,
		Format:  tar.FormatPAX,
	}
	if e.IsDir() {
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
		if hdr.Mode == 0 {
			hdr.Mode = 0o755
		}
	} else {
		hdr.Typeflag = tar.TypeReg
		hdr.Size = int64(len(e.Data))
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header for %s: %w", name, err)
	}
	if !e.IsDir() {
		if _, err := tw.Write(e.Data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// Marshal returns entries encoded as an archive.
func Marshal(entries []savefs.Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a whole archive from r. Every structural problem is reported
// as shellerr.ErrMalformedArchive; the entries are only returned once the
// complete stream has been read and verified.
func Decode(r io.Reader) ([]savefs.Entry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, malformed(err)
	}
	if err := checkFrame(raw); err != nil {
		return nil, malformed(err)
	}

	zr := lz4.NewReader(bytes.NewReader(raw))
	cr := &countingReader{r: zr}
	tr := tar.NewReader(cr)

	var (
		entries []savefs.Entry
		layout  = newTree()
		mark    int64
	)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(err)
		}

		e, err := readEntry(tr, hdr)
		if err != nil {
			return nil, err
		}
		if err := layout.add(e); err != nil {
			return nil, malformed(err)
		}
		entries = append(entries, e)
		mark = cr.n + padding(int64(len(e.Data)))
	}

	// tar also stops at a bare EOF; only the two zero blocks prove the
	// stream was complete.
	if cr.n-mark != 2*blockSize {
		return nil, malformed(errors.New("tar stream has no end-of-archive marker"))
	}

	// The frame can run past the tar trailer; read the rest so the content
	// checksum is verified.
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return nil, malformed(err)
	}
	return entries, nil
}

const blockSize = 512

// padding returns the zero fill tar adds after n bytes of file data.
func padding(n int64) int64 {
	return -n & (blockSize - 1)
}

func readEntry(tr *tar.Reader, hdr *tar.Header) (savefs.Entry, error) {
	name, err := savefs.CleanPath(hdr.Name)
	if err != nil {
		return savefs.Entry{}, malformed(err)
	}
	e := savefs.Entry{
		Path:    name,
		Mode:    os.FileMode(hdr.Mode).Perm(),
		ModTime: hdr.ModTime,
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		e.Mode |= os.ModeDir
		return e, nil
	case tar.TypeReg:
		if strings.HasSuffix(hdr.Name, "/") {
			return e, malformed(fmt.Errorf("regular file %q has a directory name", hdr.Name))
		}
		if hdr.Size < 0 || hdr.Size > MaxEntrySize {
			return e, malformed(fmt.Errorf("entry %q has size %d", name, hdr.Size))
		}
		// The buffer grows with the bytes actually present, not the size
		// the header claims.
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, io.LimitReader(tr, hdr.Size+1)); err != nil {
			return e, malformed(fmt.Errorf("read %s: %w", name, err))
		}
		if int64(buf.Len()) != hdr.Size {
			return e, malformed(fmt.Errorf("entry %q holds %d of %d bytes", name, buf.Len(), hdr.Size))
		}
		e.Data = buf.Bytes()
		return e, nil
	default:
		return e, malformed(fmt.Errorf("entry %q has unsupported type %q", name, hdr.Typeflag))
	}
}

// tree records which paths an archive uses as files and which as
// directories, named or implied by a nested entry.
type tree struct {
	seen  map[string]bool
	files map[string]bool
	dirs  map[string]bool
}

func newTree() *tree {
	return &tree{
		seen:  make(map[string]bool),
		files: make(map[string]bool),
		dirs:  make(map[string]bool),
	}
}

func (t *tree) add(e savefs.Entry) error {
	if t.seen[e.Path] {
		return fmt.Errorf("duplicate entry %q", e.Path)
	}
	for dir := path.Dir(e.Path); dir != "."; dir = path.Dir(dir) {
		if t.files[dir] {
			return fmt.Errorf("entry %q is nested under file %q", e.Path, dir)
		}
		t.dirs[dir] = true
	}
	if e.IsDir() {
		if t.files[e.Path] {
			return fmt.Errorf("directory %q is also a file", e.Path)
		}
		t.dirs[e.Path] = true
	} else {
		if t.dirs[e.Path] {
			return fmt.Errorf("file %q is also a directory", e.Path)
		}
		t.files[e.Path] = true
	}
	t.seen[e.Path] = true
	return nil
}

// Unmarshal decodes an archive held in memory.
func Unmarshal(data []byte) ([]savefs.Entry, error) {
	return Decode(bytes.NewReader(data))
}

func malformed(err error) error {
	return shellerr.Wrap(shellerr.CodeMalformedArchive, shellerr.ErrMalformedArchive.Message, err)
}

// countingReader records how many bytes were read.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
