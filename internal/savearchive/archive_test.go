package savearchive

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/pierrec/lz4"

	"github.com/remarkablegames/renpy-sdk/internal/savefs"
	"github.com/remarkablegames/renpy-sdk/internal/shellerr"
)

func sampleEntries() []savefs.Entry {
	binary := make([]byte, 70_000)
	for i := range binary {
		binary[i] = byte(i * 7)
	}
	return []savefs.Entry{
		{Path: "1-1-LT1.save", Data: binary, Mode: 0o644, ModTime: time.Unix(1_700_000_000, 0)},
		{Path: "persistent", Data: []byte("persistent"), Mode: 0o600},
		{Path: "sync", Mode: os.ModeDir | 0o755},
		{Path: "sync/empty.save", Data: []byte{}, Mode: 0o644},
	}
}

func TestRoundTrip(t *testing.T) {
	want := sampleEntries()

	data, err := Marshal(want)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Path != want[i].Path {
			t.Errorf("entry %d: expected %s, got %s", i, want[i].Path, got[i].Path)
		}
		if got[i].IsDir() != want[i].IsDir() {
			t.Errorf("entry %s: directory flag mismatch", want[i].Path)
		}
		if !bytes.Equal(got[i].Data, want[i].Data) {
			t.Errorf("entry %s: content mismatch", want[i].Path)
		}
		if got[i].Mode.Perm() != want[i].Mode.Perm() {
			t.Errorf("entry %s: expected mode %v, got %v", want[i].Path, want[i].Mode.Perm(), got[i].Mode.Perm())
		}
	}
	if !got[0].ModTime.Equal(want[0].ModTime) {
		t.Errorf("expected mtime %v, got %v", want[0].ModTime, got[0].ModTime)
	}
}

func TestEmptyArchiveIsValid(t *testing.T) {
	data, err := Marshal(nil)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("an empty archive still has a frame")
	}
	entries, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid, err := Marshal(sampleEntries())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("this is not an archive at all")},
		{"truncated header", valid[:3]},
		{"truncated body", valid[:len(valid)/2]},
		{"trailing bytes", append(append([]byte(nil), valid...), 0)},
		{"plain tar", plainTar(t)},
		{"no tar trailer", unterminatedTar(t)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			if !errors.Is(err, shellerr.ErrMalformedArchive) {
				t.Errorf("expected ErrMalformedArchive, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsEveryTruncation(t *testing.T) {
	for _, entries := range [][]savefs.Entry{nil, sampleEntries()[1:], sampleEntries()} {
		valid, err := Marshal(entries)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		for n := 0; n < len(valid); n++ {
			if _, err := Unmarshal(valid[:n]); !errors.Is(err, shellerr.ErrMalformedArchive) {
				t.Fatalf("%d entries cut to %d of %d bytes: expected ErrMalformedArchive, got %v",
					len(entries), n, len(valid), err)
			}
		}
	}
}

func TestDecodeRejectsShortBody(t *testing.T) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	hdr := &tar.Header{Name: "big.save", Typeflag: tar.TypeReg, Size: MaxEntrySize, Mode: 0o644, ModTime: epoch}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	tw.Write([]byte("tiny"))
	// Bypass the tar writer so the stream ends well short of the claimed size.
	zw.Write(make([]byte, 1024))
	if err := zw.Close(); err != nil {
		t.Fatalf("lz4 close failed: %v", err)
	}

	if _, err := Unmarshal(buf.Bytes()); !errors.Is(err, shellerr.ErrMalformedArchive) {
		t.Errorf("expected ErrMalformedArchive, got %v", err)
	}
}

func TestDecodeRejectsCorruptedFrame(t *testing.T) {
	valid, err := Marshal(sampleEntries())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	corrupt := append([]byte(nil), valid...)
	corrupt[len(corrupt)/2] ^= 0xff

	if _, err := Unmarshal(corrupt); !errors.Is(err, shellerr.ErrMalformedArchive) {
		t.Errorf("expected ErrMalformedArchive, got %v", err)
	}
}

func TestDecodeRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name string
		hdrs []*tar.Header
	}{
		{"absolute path", []*tar.Header{{Name: "/etc/passwd", Typeflag: tar.TypeReg}}},
		{"parent escape", []*tar.Header{{Name: "../escape", Typeflag: tar.TypeReg}}},
		{"reserved name", []*tar.Header{{Name: ".wh.secret", Typeflag: tar.TypeReg}}},
		{"symlink", []*tar.Header{{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "target"}}},
		{"duplicate", []*tar.Header{
			{Name: "a.save", Typeflag: tar.TypeReg},
			{Name: "a.save", Typeflag: tar.TypeReg},
		}},
		{"file then nested file", []*tar.Header{
			{Name: "a", Typeflag: tar.TypeReg},
			{Name: "a/b", Typeflag: tar.TypeReg},
		}},
		{"nested file then file", []*tar.Header{
			{Name: "a/b", Typeflag: tar.TypeReg},
			{Name: "a", Typeflag: tar.TypeReg},
		}},
		{"deep file then ancestor file", []*tar.Header{
			{Name: "a/b/c", Typeflag: tar.TypeReg},
			{Name: "a/b", Typeflag: tar.TypeReg},
		}},
		{"directory then file", []*tar.Header{
			{Name: "sync/", Typeflag: tar.TypeDir},
			{Name: "sync", Typeflag: tar.TypeReg},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := framedTar(t, tt.hdrs)
			if _, err := Unmarshal(data); !errors.Is(err, shellerr.ErrMalformedArchive) {
				t.Errorf("expected ErrMalformedArchive, got %v", err)
			}
		})
	}
}

func TestDecodeAcceptsImpliedDirectories(t *testing.T) {
	data := framedTar(t, []*tar.Header{
		{Name: "sync/a.save", Typeflag: tar.TypeReg},
		{Name: "sync/", Typeflag: tar.TypeDir},
		{Name: "sync/b.save", Typeflag: tar.TypeReg},
	})
	entries, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3 entries, got %d", len(entries))
	}
}

func TestEncodeRejectsInvalidPath(t *testing.T) {
	_, err := Marshal([]savefs.Entry{{Path: "../x", Data: []byte("x")}})
	if !errors.Is(err, savefs.ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}
}

// framedTar builds an archive from raw headers with empty bodies.
func framedTar(t *testing.T, hdrs []*tar.Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for _, h := range hdrs {
		h.Mode = 0o644
		h.ModTime = epoch
		if err := tw.WriteHeader(h); err != nil {
			t.Fatalf("WriteHeader failed: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close failed: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("lz4 close failed: %v", err)
	}
	return buf.Bytes()
}

// plainTar builds a valid tar stream without the LZ4 frame.
func plainTar(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "a.save", Typeflag: tar.TypeReg, Size: 1, Mode: 0o644, ModTime: epoch}); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	tw.Write([]byte("a"))
	tw.Close()
	return buf.Bytes()
}

// unterminatedTar builds a framed tar stream whose end-of-archive marker
// was never written.
func unterminatedTar(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	if err := tw.WriteHeader(&tar.Header{Name: "a.save", Typeflag: tar.TypeReg, Size: 1, Mode: 0o644, ModTime: epoch}); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	tw.Write([]byte("a"))
	tw.Flush()
	if err := zw.Close(); err != nil {
		t.Fatalf("lz4 close failed: %v", err)
	}
	return buf.Bytes()
}
