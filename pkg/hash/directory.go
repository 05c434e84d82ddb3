package hash

import (
	"encoding/binary"
	"fmt"

	"hashidx/pkg/pager"
)

// DirectoryPage holds the global depth and, per directory slot, the id of
// the bucket page it points at and that bucket's local depth.
type DirectoryPage struct {
	page *pager.Page
}

// newDirectoryPage initializes a freshly allocated page as an empty
// directory: global depth 0, a single slot pointing at rootBucketID.
func newDirectoryPage(page *pager.Page, rootBucketID pager.PageID) *DirectoryPage {
	dir := &DirectoryPage{page: page}
	dir.SetPageID(page.GetPageNum())
	dir.setGlobalDepthRaw(0)
	dir.SetBucketPageID(0, rootBucketID)
	dir.SetLocalDepth(0, 0)
	return dir
}

// loadDirectoryPage wraps an already-populated directory page.
func loadDirectoryPage(page *pager.Page) *DirectoryPage {
	return &DirectoryPage{page: page}
}

// GetPage returns the directory's underlying page.
func (d *DirectoryPage) GetPage() *pager.Page {
	return d.page
}

// GetPageID returns the id this directory page records for itself.
func (d *DirectoryPage) GetPageID() pager.PageID {
	data := d.page.GetData()
	return pager.PageID(int64(binary.LittleEndian.Uint64(data[dirPageIDOffset : dirPageIDOffset+dirPageIDSize])))
}

// SetPageID records this directory page's own id.
func (d *DirectoryPage) SetPageID(id pager.PageID) {
	buf := make([]byte, dirPageIDSize)
	binary.LittleEndian.PutUint64(buf, uint64(int64(id)))
	d.page.Update(buf, dirPageIDOffset, dirPageIDSize)
}

// GetGlobalDepth returns the directory's current global depth.
func (d *DirectoryPage) GetGlobalDepth() uint32 {
	data := d.page.GetData()
	return binary.LittleEndian.Uint32(data[dirGlobalDepthOffset : dirGlobalDepthOffset+dirGlobalDepthSize])
}

func (d *DirectoryPage) setGlobalDepthRaw(depth uint32) {
	buf := make([]byte, dirGlobalDepthSize)
	binary.LittleEndian.PutUint32(buf, depth)
	d.page.Update(buf, dirGlobalDepthOffset, dirGlobalDepthSize)
}

// IncrGlobalDepth doubles the directory by incrementing the global depth.
// Every slot i's entry is mirrored into slot i|(1<<oldDepth): I3 holds
// immediately after, since the new high-order half of the directory is
// byte-identical to the old half until splitBucket's redirect step
// rewrites the bucket that actually triggered the growth.
func (d *DirectoryPage) IncrGlobalDepth() {
	oldDepth := d.GetGlobalDepth()
	if oldDepth >= MaxDepth {
		panic("hash: directory already at MaxDepth")
	}
	oldSize := int64(1) << oldDepth
	for i := int64(0); i < oldSize; i++ {
		d.SetBucketPageID(i+oldSize, d.GetBucketPageID(i))
		d.SetLocalDepth(i+oldSize, d.GetLocalDepth(i))
	}
	d.setGlobalDepthRaw(oldDepth + 1)
}

// DecrGlobalDepth halves the directory by decrementing the global depth.
// The high-order half being dropped must already mirror the low-order
// half; CanShrink is the caller's responsibility to check first.
func (d *DirectoryPage) DecrGlobalDepth() {
	depth := d.GetGlobalDepth()
	if depth == 0 {
		panic("hash: directory already at depth 0")
	}
	d.setGlobalDepthRaw(depth - 1)
}

// Size returns the number of directory slots currently in use: 2^global depth.
func (d *DirectoryPage) Size() int64 {
	return int64(1) << d.GetGlobalDepth()
}

// GlobalDepthMask returns the mask used to derive a directory index from a hash.
func (d *DirectoryPage) GlobalDepthMask() uint32 {
	return uint32(d.Size() - 1)
}

// LocalDepthMask returns the mask of slot i's local depth.
func (d *DirectoryPage) LocalDepthMask(i int64) uint32 {
	return uint32(int64(1)<<d.GetLocalDepth(i)) - 1
}

// GetBucketPageID returns the bucket page id stored at slot i.
func (d *DirectoryPage) GetBucketPageID(i int64) pager.PageID {
	off := dirBucketIDsOffset + i*dirBucketIDSize
	data := d.page.GetData()
	return pager.PageID(int64(binary.LittleEndian.Uint64(data[off : off+dirBucketIDSize])))
}

// SetBucketPageID sets the bucket page id stored at slot i.
func (d *DirectoryPage) SetBucketPageID(i int64, id pager.PageID) {
	off := dirBucketIDsOffset + i*dirBucketIDSize
	buf := make([]byte, dirBucketIDSize)
	binary.LittleEndian.PutUint64(buf, uint64(int64(id)))
	d.page.Update(buf, off, dirBucketIDSize)
}

// GetLocalDepth returns the local depth stored at slot i.
func (d *DirectoryPage) GetLocalDepth(i int64) uint32 {
	off := dirLocalDepthsOffset + i
	return uint32(d.page.GetData()[off])
}

// SetLocalDepth sets the local depth stored at slot i.
func (d *DirectoryPage) SetLocalDepth(i int64, depth uint32) {
	off := dirLocalDepthsOffset + i
	d.page.Update([]byte{byte(depth)}, off, 1)
}

// IncrLocalDepth increments the local depth stored at slot i.
func (d *DirectoryPage) IncrLocalDepth(i int64) {
	d.SetLocalDepth(i, d.GetLocalDepth(i)+1)
}

// DecrLocalDepth decrements the local depth stored at slot i.
func (d *DirectoryPage) DecrLocalDepth(i int64) {
	depth := d.GetLocalDepth(i)
	if depth == 0 {
		panic("hash: local depth already 0")
	}
	d.SetLocalDepth(i, depth-1)
}

// GetSplitImageIndex returns slot i's buddy at its current local depth:
// the slot obtained by toggling bit (local depth - 1) of i.
func (d *DirectoryPage) GetSplitImageIndex(i int64) int64 {
	localDepth := d.GetLocalDepth(i)
	if localDepth == 0 {
		panic("hash: slot at local depth 0 has no split image")
	}
	return i ^ (int64(1) << (localDepth - 1))
}

// CanShrink reports whether every slot's local depth is strictly less
// than the global depth, i.e. no bucket is at maximum depth and halving
// the directory would still agree with I3 for every remaining slot.
func (d *DirectoryPage) CanShrink() bool {
	depth := d.GetGlobalDepth()
	if depth == 0 {
		return false
	}
	for i := int64(0); i < d.Size(); i++ {
		if d.GetLocalDepth(i) >= depth {
			return false
		}
	}
	return true
}

// VerifyIntegrity checks invariants I1-I4 across every directory slot,
// returning the first violation found.
func (d *DirectoryPage) VerifyIntegrity() error {
	depth := d.GetGlobalDepth()
	size := d.Size()
	maxLocalDepth := uint32(0)
	for i := int64(0); i < size; i++ {
		localDepth := d.GetLocalDepth(i)
		if localDepth > depth {
			return fmt.Errorf("%w: slot %d has local depth %d > global depth %d", ErrIntegrityViolation, i, localDepth, depth)
		}
		if localDepth > maxLocalDepth {
			maxLocalDepth = localDepth
		}
		mod := i & ((int64(1) << localDepth) - 1)
		// Every other slot sharing the low localDepth bits must agree on
		// bucket id and local depth (I3).
		for j := mod; j < size; j += int64(1) << localDepth {
			if d.GetBucketPageID(j) != d.GetBucketPageID(i) {
				return fmt.Errorf("%w: slots %d and %d share low %d bits but point at different buckets", ErrIntegrityViolation, i, j, localDepth)
			}
			if d.GetLocalDepth(j) != localDepth {
				return fmt.Errorf("%w: slots %d and %d share low %d bits but disagree on local depth", ErrIntegrityViolation, i, j, localDepth)
			}
		}
	}
	if depth > 0 && maxLocalDepth != depth {
		return fmt.Errorf("%w: global depth %d but max local depth is %d", ErrIntegrityViolation, depth, maxLocalDepth)
	}
	return nil
}
