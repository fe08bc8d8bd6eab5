/*
Package savefs is the bridge between the shell and the engine's persistent
storage: the StorageNamespace, the subtree of the engine's virtual
filesystem reserved for save data.

# Ownership

The engine owns the namespace at runtime and reaches it through
Namespace.FileSystem, an absfs.FileSystem rooted at the namespace
directory. Every call through that view takes shared access on the
namespace Guard. Save transfers take exclusive access instead:

	release, err := ns.Guard().Exclusive(ctx)
	if err != nil {
	    return err // shellerr.ErrBusy or a canceled context
	}
	defer release()

	entries, err := ns.Entries(ctx)

While a transfer holds or waits for exclusive access, engine calls fail
with shellerr.ErrBusy; a transfer waits for engine calls already in flight
to finish. A second transfer is rejected rather than queued.

# Atomic replace

Replace swaps the whole namespace for a new set of entries. The new tree is
first built in a staging layer: a writable in-memory overlay stacked on the
read-only namespace, with an opaque whiteout at the root hiding everything
below it (the AUFS/Docker ".wh." convention). The current namespace is then
copied up into an in-memory backup, and the staged tree is flushed into the
engine filesystem. If any write fails the backup is copied back, so the
namespace is never left partially updated.

	ns, _ := savefs.New(engineFS, "/saves")
	err := ns.Replace(ctx, []savefs.Entry{
	    {Path: "1-1-LT1.save", Data: data, Mode: 0o644},
	    {Path: "sub/persistent", Data: persistent, Mode: 0o644},
	})

# Paths

Entry paths are slash-separated, relative to the namespace root, and must
pass CleanPath: no absolute paths, no "." or ".." elements, no whiteout
names.

# Stat caching

WithStatCache enables a TTL cache for Stat calls made through the engine
view. Writes through the view invalidate the affected paths and Replace
clears the cache.
*/
package savefs
