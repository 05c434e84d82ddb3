package pager

import (
	"sync"
	"sync/atomic"
)

// PageID uniquely identifies a page within a pager's backing file. A live
// page's id is also its offset, in units of Pagesize, into that file; a
// deleted page's id is held in the pager's free list until NewPage reuses it.
type PageID int64

// NoPage is the PageID for when there is no page being held.
const NoPage PageID = -1

// Page caches a page from disk and stores additional metadata.
type Page struct {
	pager    *Pager       // Pointer to the pager that this page belongs to
	pagenum  PageID        // Unique identifier for the page
	pinCount atomic.Int64 // The number of active references to this page
	dirty    bool         // Flag on whether the page's data has changed and needs to be written to disk
	rwlock   sync.RWMutex // Reader-writer lock on the page struct itself
	data     []byte       // Serialized data (the actual Pagesize bytes of the page)
}

// GetPager returns the pager this page belongs to.
func (page *Page) GetPager() *Pager {
	return page.pager
}

// GetPageNum returns the page's id.
func (page *Page) GetPageNum() PageID {
	return page.pagenum
}

// IsDirty reports whether the page's data has changed and needs to be written to disk.
func (page *Page) IsDirty() bool {
	return page.dirty
}

// SetDirty changes the dirty status of a page.
func (page *Page) SetDirty(dirty bool) {
	page.dirty = dirty
}

// GetData returns the byte data held by the page.
func (page *Page) GetData() []byte {
	return page.data
}

// Pin increments the pin count, indicating that another caller is using this page.
func (page *Page) Pin() {
	page.pinCount.Add(1)
}

// Unpin decrements the pin count, indicating that a caller is done using this page.
func (page *Page) Unpin() int64 {
	return page.pinCount.Add(-1)
}

// PinCount returns the page's current pin count.
func (page *Page) PinCount() int64 {
	return page.pinCount.Load()
}

// Update overwrites `size` bytes of the page's data at the given offset and
// marks the page dirty.
func (page *Page) Update(data []byte, offset int64, size int64) {
	page.dirty = true
	copy(page.data[offset:offset+size], data)
}

// [CONCURRENCY] Grab a writers lock on the page.
func (page *Page) WLock() {
	page.rwlock.Lock()
}

// [CONCURRENCY] Release a writers lock.
func (page *Page) WUnlock() {
	page.rwlock.Unlock()
}

// [CONCURRENCY] Grab a readers lock on the page.
func (page *Page) RLock() {
	page.rwlock.RLock()
}

// [CONCURRENCY] Release a readers lock.
func (page *Page) RUnlock() {
	page.rwlock.RUnlock()
}
