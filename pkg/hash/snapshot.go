package hash

import (
	"fmt"
	"os"

	cp "github.com/otiai10/copy"
)

// ErrSnapshotRefused is returned by SnapshotIndex when any page of the
// index is still pinned, since copying a file mid-write can capture a
// torn page.
var ErrSnapshotRefused = fmt.Errorf("hash: refusing to snapshot an open index's backing file")

// Snapshot copies an index's backing file to destPath, for ad-hoc
// backup/rollback use. This is not a write-ahead log: it captures a
// whole-file point-in-time copy and has no replay or redo mechanism.
// Callers are expected to Close the index (or otherwise guarantee no
// pages are pinned and every dirty page has been flushed) before calling
// this, so the copy sees a consistent file.
func Snapshot(srcPath, destPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("hash: snapshot source %q: %w", srcPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("hash: snapshot source %q is a directory, not an index file", srcPath)
	}
	return cp.Copy(srcPath, destPath)
}

// SnapshotIndex flushes idx's buffer pool and snapshots its backing file
// to destPath without closing it, refusing if any page is still pinned.
func SnapshotIndex(idx *Index, destPath string) error {
	pgr := idx.GetPager()
	if pgr.HasPinnedPages() {
		return ErrSnapshotRefused
	}
	pgr.FlushAllPages()
	return Snapshot(pgr.GetFileName(), destPath)
}
