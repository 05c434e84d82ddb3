package hash

import (
	"errors"
	"fmt"
	"sync"

	"hashidx/pkg/kv"
	"hashidx/pkg/pager"
)

// ExtendibleHashTable is the orchestrator: it owns the directory page id
// and coordinates GetValue/Insert/Remove against the buffer pool, driving
// the directory/bucket split-and-merge protocol.
type ExtendibleHashTable struct {
	pgr             *pager.Pager
	directoryPageID pager.PageID
	comparator      kv.Comparator
	hashFn          kv.HashFunction
	latch           sync.RWMutex // table_latch: guards every structural and pair-level operation
}

// WLock grabs a write lock on the table.
func (t *ExtendibleHashTable) WLock() {
	t.latch.Lock()
}

// WUnlock releases a write lock on the table.
func (t *ExtendibleHashTable) WUnlock() {
	t.latch.Unlock()
}

// RLock grabs a read lock on the table.
func (t *ExtendibleHashTable) RLock() {
	t.latch.RLock()
}

// RUnlock releases a read lock on the table.
func (t *ExtendibleHashTable) RUnlock() {
	t.latch.RUnlock()
}

// NewExtendibleHashTable constructs a brand-new table: one directory page
// at global depth 0, pointing at a single empty bucket page.
func NewExtendibleHashTable(p *pager.Pager, comparator kv.Comparator, hashFn kv.HashFunction) (*ExtendibleHashTable, error) {
	dirPage, err := p.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBufferPoolExhausted, err)
	}
	bktPage, err := p.NewPage()
	if err != nil {
		_, _ = p.UnpinPage(dirPage.GetPageNum(), false)
		return nil, fmt.Errorf("%w: %v", ErrBufferPoolExhausted, err)
	}
	newDirectoryPage(dirPage, bktPage.GetPageNum())
	newBucketPage(bktPage)

	directoryPageID := dirPage.GetPageNum()
	if _, err := p.UnpinPage(directoryPageID, true); err != nil {
		return nil, err
	}
	if _, err := p.UnpinPage(bktPage.GetPageNum(), true); err != nil {
		return nil, err
	}
	return &ExtendibleHashTable{
		pgr:             p,
		directoryPageID: directoryPageID,
		comparator:      comparator,
		hashFn:          hashFn,
	}, nil
}

// OpenExtendibleHashTable wraps an existing table whose directory already
// lives at directoryPageID.
func OpenExtendibleHashTable(p *pager.Pager, directoryPageID pager.PageID, comparator kv.Comparator, hashFn kv.HashFunction) *ExtendibleHashTable {
	return &ExtendibleHashTable{
		pgr:             p,
		directoryPageID: directoryPageID,
		comparator:      comparator,
		hashFn:          hashFn,
	}
}

// GetDirectoryPageID returns the page id of this table's directory page.
func (t *ExtendibleHashTable) GetDirectoryPageID() pager.PageID {
	return t.directoryPageID
}

// GetPager returns the buffer pool manager backing this table.
func (t *ExtendibleHashTable) GetPager() *pager.Pager {
	return t.pgr
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// HELPERS ///////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// hash downcasts the externally supplied hash function's 64-bit result
// to 32 bits; directory indexing only ever needs GlobalDepthMask's low
// bits.
func (t *ExtendibleHashTable) hash(key int64) uint32 {
	return uint32(t.hashFn(key))
}

func (t *ExtendibleHashTable) keyToDirIndex(key int64, dir *DirectoryPage) int64 {
	return int64(t.hash(key) & dir.GlobalDepthMask())
}

func (t *ExtendibleHashTable) fetchDirectoryPage() (*DirectoryPage, error) {
	page, err := t.pgr.FetchPage(t.directoryPageID)
	if err != nil {
		return nil, err
	}
	return loadDirectoryPage(page), nil
}

func (t *ExtendibleHashTable) fetchBucketPage(id pager.PageID) (*BucketPage, error) {
	page, err := t.pgr.FetchPage(id)
	if err != nil {
		return nil, err
	}
	return loadBucketPage(page), nil
}

// unpin wraps the buffer pool's UnpinPage, folding a "not found" result
// into an error so every caller gets a uniform error-or-nil to check.
func (t *ExtendibleHashTable) unpin(id pager.PageID, dirty bool) error {
	ok, err := t.pgr.UnpinPage(id, dirty)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("hash: failed to unpin page %d", id)
	}
	return nil
}

type pagePin struct {
	id    pager.PageID
	dirty bool
}

// unpinAll unpins every page in pins regardless of whether an earlier one
// in the list fails, joining their errors, so a buffer-pool hiccup on one
// page can never leave a later page leaked in the pinned state.
func (t *ExtendibleHashTable) unpinAll(pins ...pagePin) error {
	var errs []error
	for _, p := range pins {
		if err := t.unpin(p.id, p.dirty); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// SEARCH /////////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// GetValue returns every value stored under key. txn is accepted but
// never inspected; it exists so callers already threading a TxnID
// through their call sites don't need a special case here. This
// acquires the table's write latch, not a read latch, so GetValue is
// serialized with every other table operation, other GetValue calls
// included.
func (t *ExtendibleHashTable) GetValue(txn TxnID, key int64) ([]int64, error) {
	t.WLock()
	defer t.WUnlock()

	dir, err := t.fetchDirectoryPage()
	if err != nil {
		return nil, err
	}
	bktID := dir.GetBucketPageID(t.keyToDirIndex(key, dir))
	bkt, err := t.fetchBucketPage(bktID)
	if err != nil {
		_ = t.unpin(t.directoryPageID, false)
		return nil, err
	}

	var result []int64
	found := bkt.GetValue(key, t.comparator, &result)

	if err := t.unpinAll(pagePin{t.directoryPageID, false}, pagePin{bktID, false}); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrKeyNotFound
	}
	return result, nil
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// INSERTION //////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Insert adds (key, value) to the table, splitting buckets (and growing
// the directory) as many times as necessary to make room.
func (t *ExtendibleHashTable) Insert(txn TxnID, key, value int64) error {
	t.WLock()
	defer t.WUnlock()
	return t.insertLocked(key, value)
}

// insertLocked assumes the table write latch is already held. It loops,
// splitting and retrying, rather than releasing and reacquiring the
// latch between a split and its retry: that window would let another
// goroutine observe a half-completed split. Looping internally keeps
// the latch held across the whole operation.
func (t *ExtendibleHashTable) insertLocked(key, value int64) error {
	for {
		dir, err := t.fetchDirectoryPage()
		if err != nil {
			return err
		}
		bktIdx := t.keyToDirIndex(key, dir)
		bktID := dir.GetBucketPageID(bktIdx)
		bkt, err := t.fetchBucketPage(bktID)
		if err != nil {
			_ = t.unpin(t.directoryPageID, false)
			return err
		}

		if !bkt.IsFull() {
			inserted := bkt.Insert(key, value, t.comparator)
			if err := t.unpinAll(pagePin{t.directoryPageID, false}, pagePin{bktID, inserted}); err != nil {
				return err
			}
			if !inserted {
				return ErrDuplicateEntry
			}
			return nil
		}

		// Bucket is full: release our pins and split it, then retry from the top.
		if err := t.unpinAll(pagePin{t.directoryPageID, false}, pagePin{bktID, false}); err != nil {
			return err
		}
		if err := t.splitBucket(key); err != nil {
			return err
		}
	}
}

// splitBucket is the central algorithm: it doubles the directory if the
// overflowing bucket's local depth has caught up to the global depth,
// allocates a split-image bucket, rehashes the overflowing bucket's pairs
// between the two, and redirects every directory slot that used to point
// at the old bucket. Precondition: the bucket at keyToDirIndex(key) is full.
func (t *ExtendibleHashTable) splitBucket(key int64) error {
	dir, err := t.fetchDirectoryPage()
	if err != nil {
		return err
	}
	bktIdx := t.keyToDirIndex(key, dir)
	bktID := dir.GetBucketPageID(bktIdx)
	bkt, err := t.fetchBucketPage(bktID)
	if err != nil {
		_ = t.unpin(t.directoryPageID, false)
		return err
	}

	if !bkt.IsFull() {
		// Precondition violated: nothing to do. Can't happen while the
		// write latch is held across the whole Insert, but bail cleanly
		// rather than corrupt state if it ever is.
		_ = t.unpin(t.directoryPageID, false)
		_ = t.unpin(bktID, false)
		return nil
	}

	oldLocalDepth := dir.GetLocalDepth(bktIdx)
	if oldLocalDepth >= MaxDepth {
		_ = t.unpin(t.directoryPageID, false)
		_ = t.unpin(bktID, false)
		return ErrBucketCapacityExhausted
	}
	newLocalDepth := oldLocalDepth + 1

	// Allocate the image page before touching the directory: if this
	// fails, bail out with the directory untouched instead of leaving
	// global depth grown with no bucket yet at the new depth.
	imgPage, err := t.pgr.NewPage()
	if err != nil {
		_ = t.unpin(t.directoryPageID, false)
		_ = t.unpin(bktID, false)
		return fmt.Errorf("%w: %v", ErrBufferPoolExhausted, err)
	}
	imgID := imgPage.GetPageNum()
	imgBkt := newBucketPage(imgPage)

	if newLocalDepth > dir.GetGlobalDepth() {
		dir.IncrGlobalDepth()
	}

	// bktIdx's own bit at position oldLocalDepth tells us which side of the
	// split keeps the old bucket page; everything else goes to the image.
	bktBit := (bktIdx >> oldLocalDepth) & 1

	pairs := bkt.GetKVPairs()
	bkt.Reset()
	for _, pair := range pairs {
		targetBit := (int64(t.hash(pair.Key)) >> oldLocalDepth) & 1
		if targetBit == bktBit {
			bkt.Insert(pair.Key, pair.Value, t.comparator)
		} else {
			imgBkt.Insert(pair.Key, pair.Value, t.comparator)
		}
	}

	// Redirect every slot congruent to bktIdx modulo 2^oldLocalDepth: the
	// whole group that used to share the bucket being split.
	groupMod := bktIdx & ((int64(1) << oldLocalDepth) - 1)
	size := dir.Size()
	for j := groupMod; j < size; j += int64(1) << oldLocalDepth {
		dir.SetLocalDepth(j, newLocalDepth)
		if (j>>oldLocalDepth)&1 == bktBit {
			dir.SetBucketPageID(j, bktID)
		} else {
			dir.SetBucketPageID(j, imgID)
		}
	}

	return t.unpinAll(
		pagePin{t.directoryPageID, true},
		pagePin{bktID, true},
		pagePin{imgID, true},
	)
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// REMOVAL /////////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Remove deletes the (key, value) pair from the table, merging the
// now-empty bucket with its buddy if removal empties it.
func (t *ExtendibleHashTable) Remove(txn TxnID, key, value int64) error {
	t.WLock()
	defer t.WUnlock()

	dir, err := t.fetchDirectoryPage()
	if err != nil {
		return err
	}
	bktIdx := t.keyToDirIndex(key, dir)
	bktID := dir.GetBucketPageID(bktIdx)
	bkt, err := t.fetchBucketPage(bktID)
	if err != nil {
		_ = t.unpin(t.directoryPageID, false)
		return err
	}

	removed := bkt.Remove(key, value, t.comparator)
	if err := t.unpinAll(pagePin{t.directoryPageID, false}, pagePin{bktID, removed}); err != nil {
		return err
	}
	if !removed {
		return ErrKeyNotFound
	}

	if bkt.IsEmpty() {
		return t.merge(key)
	}
	return nil
}

// merge is the shrinkage algorithm. It fuses the now-empty bucket at
// keyToDirIndex(key) with its split-image buddy, provided the buddy is
// still at the same local depth, then shrinks the directory while it can.
// This is non-cascading: if the buddy also ends up empty, a future
// removal from it triggers its own merge rather than this call chasing
// it down.
func (t *ExtendibleHashTable) merge(key int64) error {
	dir, err := t.fetchDirectoryPage()
	if err != nil {
		return err
	}
	bktIdx := t.keyToDirIndex(key, dir)
	bktID := dir.GetBucketPageID(bktIdx)
	bkt, err := t.fetchBucketPage(bktID)
	if err != nil {
		_ = t.unpin(t.directoryPageID, false)
		return err
	}

	localDepth := dir.GetLocalDepth(bktIdx)
	var imgIdx int64
	var imgLocalDepth uint32
	if localDepth > 0 {
		imgIdx = dir.GetSplitImageIndex(bktIdx)
		imgLocalDepth = dir.GetLocalDepth(imgIdx)
	}

	// Three premises must hold, or a concurrent insert changed the state
	// between the removal and this merge decision: the bucket must still
	// be empty, it must not be the single global bucket, and its buddy
	// must not itself have been split to a different depth.
	if !bkt.IsEmpty() || localDepth == 0 || localDepth != imgLocalDepth {
		_ = t.unpin(t.directoryPageID, false)
		_ = t.unpin(bktID, false)
		return nil
	}

	imgID := dir.GetBucketPageID(imgIdx)

	if err := t.unpin(bktID, false); err != nil {
		_ = t.unpin(t.directoryPageID, false)
		return err
	}
	if ok, err := t.pgr.DeletePage(bktID); err != nil || !ok {
		_ = t.unpin(t.directoryPageID, false)
		if err != nil {
			return err
		}
		return fmt.Errorf("hash: failed to delete empty bucket page %d", bktID)
	}

	dir.SetBucketPageID(bktIdx, imgID)
	dir.DecrLocalDepth(bktIdx)
	dir.DecrLocalDepth(imgIdx)
	newLocalDepth := dir.GetLocalDepth(bktIdx)

	// Both the old bucket's slot group and the old image's slot group now
	// point at imgID at newLocalDepth: redirect every slot congruent to
	// bktIdx modulo 2^newLocalDepth, not just the ones that pointed at the
	// page that was just deleted.
	groupMod := bktIdx & ((int64(1) << newLocalDepth) - 1)
	size := dir.Size()
	for j := groupMod; j < size; j += int64(1) << newLocalDepth {
		dir.SetBucketPageID(j, imgID)
		dir.SetLocalDepth(j, newLocalDepth)
	}

	for dir.CanShrink() {
		dir.DecrGlobalDepth()
	}

	return t.unpin(t.directoryPageID, true)
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// INTROSPECTION //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// GetGlobalDepth returns the directory's current global depth.
func (t *ExtendibleHashTable) GetGlobalDepth() (uint32, error) {
	t.RLock()
	defer t.RUnlock()
	dir, err := t.fetchDirectoryPage()
	if err != nil {
		return 0, err
	}
	depth := dir.GetGlobalDepth()
	if err := t.unpin(t.directoryPageID, false); err != nil {
		return 0, err
	}
	return depth, nil
}

// CheckIntegrity runs the same invariant checks as VerifyIntegrity but
// returns an error instead of panicking, for callers (tests, cmd/hashcli's
// verify command) that want to observe a violation instead of crashing.
func (t *ExtendibleHashTable) CheckIntegrity() error {
	t.RLock()
	defer t.RUnlock()
	dir, err := t.fetchDirectoryPage()
	if err != nil {
		return err
	}
	verr := dir.VerifyIntegrity()
	if err := t.unpin(t.directoryPageID, false); err != nil {
		if verr != nil {
			return verr
		}
		return err
	}
	return verr
}

// VerifyIntegrity panics if the directory/bucket structure is found to
// violate its invariants. An integrity violation is a programmer error,
// not a runtime condition a caller can meaningfully recover from.
func (t *ExtendibleHashTable) VerifyIntegrity() {
	if err := t.CheckIntegrity(); err != nil {
		panic(err)
	}
}

// Stats summarizes a table's current shape, for cmd/hashcli's stats command.
type Stats struct {
	GlobalDepth     uint32
	DirectorySize   int64
	BucketCount     int
	TotalOccupancy  int64
	TotalCapacity   int64
}

// Stats walks the directory once, counting each distinct bucket page
// exactly once even though several slots may point at it.
func (t *ExtendibleHashTable) Stats() (Stats, error) {
	t.RLock()
	defer t.RUnlock()

	dir, err := t.fetchDirectoryPage()
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	stats.GlobalDepth = dir.GetGlobalDepth()
	stats.DirectorySize = dir.Size()

	seen := make(map[pager.PageID]bool)
	for i := int64(0); i < dir.Size(); i++ {
		id := dir.GetBucketPageID(i)
		if seen[id] {
			continue
		}
		seen[id] = true
		bkt, err := t.fetchBucketPage(id)
		if err != nil {
			_ = t.unpin(t.directoryPageID, false)
			return Stats{}, err
		}
		stats.BucketCount++
		stats.TotalOccupancy += bkt.Occupancy()
		stats.TotalCapacity += bkt.Capacity()
		if err := t.unpin(id, false); err != nil {
			_ = t.unpin(t.directoryPageID, false)
			return Stats{}, err
		}
	}
	if err := t.unpin(t.directoryPageID, false); err != nil {
		return Stats{}, err
	}
	return stats, nil
}
