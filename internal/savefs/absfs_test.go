package savefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/absfs/absfs"

	"github.com/remarkablegames/renpy-sdk/internal/shellerr"
)

func TestFileSystemIsRooted(t *testing.T) {
	ns, engine := mustNewNamespace(t)
	saves := ns.FileSystem()

	var _ absfs.FileSystem = saves

	if err := writeFile(saves, "/sync/1-1-LT1.save", []byte("slot"), 0644); err != nil {
		t.Fatalf("write through view failed: %v", err)
	}

	data, err := readFile(engine, "/saves/sync/1-1-LT1.save")
	if err != nil {
		t.Fatalf("engine read failed: %v", err)
	}
	if string(data) != "slot" {
		t.Errorf("expected 'slot', got %q", data)
	}

	// The view cannot reach outside the namespace
	writeFile(engine, "/secret", []byte("s"), 0644)
	if _, err := saves.Stat("/../secret"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist outside namespace, got %v", err)
	}
}

func TestFileSystemBusyDuringTransfer(t *testing.T) {
	ns, engine := mustNewNamespace(t)
	writeFile(engine, "/saves/a.save", []byte("a"), 0644)
	saves := ns.FileSystem()

	release, err := ns.Guard().Exclusive(context.Background())
	if err != nil {
		t.Fatalf("Exclusive failed: %v", err)
	}

	_, err = saves.Stat("/a.save")
	if !errors.Is(err, shellerr.ErrBusy) {
		t.Fatalf("expected ErrBusy during transfer, got %v", err)
	}
	var perr *os.PathError
	if !errors.As(err, &perr) {
		t.Errorf("expected *os.PathError, got %T", err)
	}
	if _, err := saves.ReadFile("/a.save"); !errors.Is(err, shellerr.ErrBusy) {
		t.Errorf("expected ErrBusy from ReadFile, got %v", err)
	}
	if err := saves.Remove("/a.save"); !errors.Is(err, shellerr.ErrBusy) {
		t.Errorf("expected ErrBusy from Remove, got %v", err)
	}

	release()

	if _, err := saves.Stat("/a.save"); err != nil {
		t.Errorf("Stat after transfer failed: %v", err)
	}
}

func TestOpenFileHoldsSharedAccess(t *testing.T) {
	ns, engine := mustNewNamespace(t)
	writeFile(engine, "/saves/a.save", []byte("a"), 0644)

	f, err := ns.FileSystem().Open("/a.save")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ns.Guard().Exclusive(ctx); !errors.Is(err, shellerr.ErrCanceled) {
		t.Fatalf("transfer should wait for the open file, got %v", err)
	}

	f.Close()
	f.Close()

	release, err := ns.Guard().Exclusive(context.Background())
	if err != nil {
		t.Fatalf("Exclusive after close failed: %v", err)
	}
	release()
}

func TestStatCacheHitsAndInvalidation(t *testing.T) {
	ns, _ := mustNewNamespace(t, WithStatCache(true, time.Minute))
	saves := ns.FileSystem()

	writeFile(saves, "/a.save", []byte("1"), 0644)

	if _, err := saves.Stat("/a.save"); err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if _, err := saves.Stat("/a.save"); err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	stats := ns.CacheStats()
	if !stats.Enabled {
		t.Fatal("cache should be enabled")
	}
	if stats.Hits == 0 {
		t.Error("second Stat should hit the cache")
	}

	if err := writeFile(saves, "/a.save", []byte("longer"), 0644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	info, err := saves.Stat("/a.save")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != int64(len("longer")) {
		t.Errorf("expected fresh size %d, got %d", len("longer"), info.Size())
	}

	if err := saves.Remove("/a.save"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := saves.Stat("/a.save"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist after Remove, got %v", err)
	}
}

func TestCacheDisabledByDefault(t *testing.T) {
	ns, _ := mustNewNamespace(t)
	if ns.CacheStats().Enabled {
		t.Error("cache should be disabled by default")
	}
}

func TestCacheEviction(t *testing.T) {
	c := newCache(true, time.Minute, time.Minute, 2)
	c.putStat("/a", nil)
	c.putStat("/b", nil)
	c.putStat("/c", nil)

	if got := c.Stats().StatCacheSize; got != 2 {
		t.Errorf("expected 2 entries after eviction, got %d", got)
	}

	c.putNegative("/x")
	c.invalidateTree("/")
	stats := c.Stats()
	if stats.StatCacheSize != 0 || stats.NegativeCacheSize != 0 {
		t.Errorf("invalidateTree(/) should empty the cache, got %+v", stats)
	}
}

func TestWithCacheConfig(t *testing.T) {
	ns, _ := mustNewNamespace(t, WithCacheConfig(true, time.Minute, 10*time.Second, 3))
	saves := ns.FileSystem()

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("/%d.save", i)
		writeFile(saves, name, []byte("x"), 0644)
		if _, err := saves.Stat(name); err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
	}

	stats := ns.CacheStats()
	if stats.MaxEntries != 3 || stats.StatTTL != time.Minute || stats.NegativeTTL != 10*time.Second {
		t.Errorf("unexpected cache configuration %+v", stats)
	}
	if stats.StatCacheSize > 3 {
		t.Errorf("expected at most 3 cached stats, got %d", stats.StatCacheSize)
	}
}
