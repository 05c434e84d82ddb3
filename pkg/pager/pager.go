// Package pager implements the buffer pool manager that the hash index's
// core algorithm is written against: NewPage, FetchPage, UnpinPage, and
// DeletePage.
package pager

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"hashidx/pkg/config"
	"hashidx/pkg/list"

	"github.com/ncw/directio"
)

// Pagesize is the size of an individual page in bytes. It is kept a
// multiple of directio.BlockSize so that aligned, unbuffered reads/writes
// stay valid even though the hash index's directory page (512 bucket ids
// plus 512 local depths) needs more room than a single disk sector.
const Pagesize int64 = 2 * directio.BlockSize

// ErrRanOutOfPages is returned when there are no free/unpinned pages to be used.
var ErrRanOutOfPages = errors.New("no available pages")

// Pager is a data structure that manages pages of data stored in a file,
// acting as this index's buffer pool manager.
type Pager struct {
	file     *os.File // File descriptor for the file that backs this pager on disk.
	numPages int64    // Number of page slots ever allocated in the backing file (monotonic).

	freedPageIDs []PageID              // Deleted page ids available for reuse by NewPage, most-recent first.
	freedSet     map[PageID]struct{}   // Membership set mirroring freedPageIDs, so FetchPage can reject a deleted id.
	freeList     *list.List            // A list of pre-allocated (but unused) pages.
	unpinnedList *list.List            // The list of pages in memory that have yet to be evicted, but are not currently in use.
	pinnedList   *list.List            // The list of in-memory pages currently being used.
	pageTable    map[PageID]*list.Link // Maps page ids to the link holding them in one of the three lists above.
	ptMtx        sync.Mutex            // Mutex protecting the page table and lists for concurrent use.
}

// New constructs a new Pager, backing it with a database file at the specified filePath.
func New(filePath string) (pager *Pager, err error) {
	pager = &Pager{}
	pager.pageTable = make(map[PageID]*list.Link)
	pager.freedSet = make(map[PageID]struct{})
	pager.freeList = list.NewList()
	pager.unpinnedList = list.NewList()
	pager.pinnedList = list.NewList()
	frames := directio.AlignedBlock(int(Pagesize * config.MaxPagesInBuffer))
	for i := 0; i < config.MaxPagesInBuffer; i++ {
		frame := frames[i*int(Pagesize) : (i+1)*int(Pagesize)]
		page := Page{
			pager:   pager,
			pagenum: NoPage,
			dirty:   false,
			data:    frame,
		}
		pager.freeList.PushTail(&page)
	}

	err = pager.Open(filePath)
	if err != nil {
		pager = nil
	}
	return
}

// GetFileName returns the file name/path used to open the pager's backing file.
func (pager *Pager) GetFileName() (filename string) {
	return pager.file.Name()
}

// GetNumPages returns the number of page slots ever allocated in the backing file.
func (pager *Pager) GetNumPages() (numPages int64) {
	return pager.numPages
}

// Open (re-)initializes our pager with a database file at the specified filePath.
//
// If the database file didn't exist previously, it is created.
// If the database file does exist but it can't be opened or
// it's contents are not properly aligned to Pagesize, returns an error.
// The Pager should not be used if an error is returned.
func (pager *Pager) Open(filePath string) (err error) {
	// Create the necessary prerequisite directories.
	if idx := strings.LastIndex(filePath, "/"); idx != -1 {
		err = os.MkdirAll(filePath[:idx], 0775)
		if err != nil {
			return err
		}
	}
	// Open or create the db file.
	pager.file, err = directio.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return err
	}
	// Get info about the size of the pager.
	var info os.FileInfo
	var length int64
	if info, err = pager.file.Stat(); err == nil {
		length = info.Size()
		if length%Pagesize != 0 {
			return errors.New("index file has been corrupted")
		}
	}
	pager.numPages = length / Pagesize
	return nil
}

// HasPinnedPages reports whether any page is currently pinned, the same
// check Close makes before flushing.
func (pager *Pager) HasPinnedPages() bool {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	return pager.pinnedList.PeekHead() != nil
}

// Close signals our pager to flush all dirty pages to disk
// and close its backing file.
func (pager *Pager) Close() error {
	// Prevent new data from being paged in.
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	// Check that no pages are in the pinned list.
	if pager.pinnedList.PeekHead() != nil {
		return errors.New("pages are still pinned on close")
	}
	pager.FlushAllPages()
	return pager.file.Close()
}

// fillPageFromDisk populates a page's data field from the data currently on disk.
func (pager *Pager) fillPageFromDisk(page *Page) error {
	if _, err := pager.file.Seek(int64(page.pagenum)*Pagesize, 0); err != nil {
		return err
	}
	if _, err := pager.file.Read(page.data); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// nextFreePageID returns the id to hand to the next NewPage call, preferring
// a deleted page's reclaimed id over extending the backing file. The second
// return value reports whether the backing file needs to grow to fit it.
// The ptMtx should be locked on entry.
func (pager *Pager) nextFreePageID() (PageID, bool) {
	if n := len(pager.freedPageIDs); n > 0 {
		id := pager.freedPageIDs[n-1]
		pager.freedPageIDs = pager.freedPageIDs[:n-1]
		delete(pager.freedSet, id)
		return id, false
	}
	return PageID(pager.numPages), true
}

// newFrame returns a currently unused Page frame from the free or unpinned
// list, or an ErrRanOutOfPages if there are no unused frames available.
// The ptMtx should be locked on entry.
func (pager *Pager) newFrame(pagenum PageID) (newPage *Page, err error) {
	if freeLink := pager.freeList.PeekHead(); freeLink != nil {
		freeLink.PopSelf()
		newPage = freeLink.GetValue().(*Page)
	} else if unpinLink := pager.unpinnedList.PeekHead(); unpinLink != nil {
		// Evict a page from the unpinned list, flushing it first if dirty.
		unpinLink.PopSelf()
		newPage = unpinLink.GetValue().(*Page)
		pager.FlushPage(newPage)
		delete(pager.pageTable, newPage.pagenum)
	} else {
		return nil, ErrRanOutOfPages
	}
	newPage.pagenum = pagenum
	newPage.dirty = false
	newPage.pinCount.Store(1)
	return newPage, nil
}

// NewPage pins and returns a fresh page with a newly allocated id.
func (pager *Pager) NewPage() (page *Page, err error) {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	pagenum, extend := pager.nextFreePageID()
	page, err = pager.newFrame(pagenum)
	if err != nil {
		return nil, err
	}
	// Mark dirty so a brand new page is eventually flushed to disk.
	page.dirty = true
	newLink := pager.pinnedList.PushTail(page)
	pager.pageTable[pagenum] = newLink
	if extend {
		pager.numPages++
	}
	return page, nil
}

// FetchPage pins and returns the existing page with the given id, reading
// it in from disk if it isn't already resident in the buffer pool.
func (pager *Pager) FetchPage(pagenum PageID) (page *Page, err error) {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	if pagenum < 0 || int64(pagenum) > pager.numPages-1 {
		return nil, errors.New("invalid pagenum")
	}
	if _, deleted := pager.freedSet[pagenum]; deleted {
		return nil, errors.New("invalid pagenum: page has been deleted")
	}

	if link, ok := pager.pageTable[pagenum]; ok {
		page = link.GetValue().(*Page)
		if link.GetList() == pager.unpinnedList {
			link.PopSelf()
			newLink := pager.pinnedList.PushTail(page)
			pager.pageTable[pagenum] = newLink
		}
		page.Pin()
		return page, nil
	}

	page, err = pager.newFrame(pagenum)
	if err != nil {
		return nil, err
	}
	page.dirty = false
	if err = pager.fillPageFromDisk(page); err != nil {
		pager.freeList.PushTail(page)
		return nil, err
	}

	newLink := pager.pinnedList.PushTail(page)
	pager.pageTable[pagenum] = newLink
	return page, nil
}

// UnpinPage decrements the pin count on the page with the given id and
// records its dirtiness if dirty is true. Returns an error if the id is not
// currently resident in the buffer pool, which catches pin/unpin mismatches
// rather than silently no-op-ing on them.
func (pager *Pager) UnpinPage(pagenum PageID, dirty bool) (bool, error) {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	link, ok := pager.pageTable[pagenum]
	if !ok {
		return false, errors.New("unpin: page is not resident in the buffer pool")
	}
	page := link.GetValue().(*Page)
	if dirty {
		page.SetDirty(true)
	}
	ret := page.Unpin()
	if ret < 0 {
		return false, errors.New("pinCount for page is < 0")
	}
	if ret == 0 && link.GetList() == pager.pinnedList {
		link.PopSelf()
		newLink := pager.unpinnedList.PushTail(page)
		pager.pageTable[pagenum] = newLink
	}
	return true, nil
}

// DeletePage frees the page with the given id, returning it to the free
// list for reuse by a later NewPage call. The page must have a pin count
// of zero; violating that precondition is the caller's bug, not a runtime
// condition the buffer pool can recover from on its own.
func (pager *Pager) DeletePage(pagenum PageID) (bool, error) {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	link, ok := pager.pageTable[pagenum]
	if !ok {
		return false, errors.New("delete: page is not resident in the buffer pool")
	}
	page := link.GetValue().(*Page)
	if page.PinCount() != 0 {
		return false, errors.New("delete: page is still pinned")
	}
	link.PopSelf()
	delete(pager.pageTable, pagenum)
	page.dirty = false
	page.pagenum = NoPage
	pager.freeList.PushTail(page)
	pager.freedPageIDs = append(pager.freedPageIDs, pagenum)
	pager.freedSet[pagenum] = struct{}{}
	return true, nil
}

// FlushPage flushes a particular page's data to disk if it is dirty.
// Concurrency note: the page should at least be read-locked upon entry.
func (pager *Pager) FlushPage(page *Page) {
	if page.IsDirty() {
		pager.file.WriteAt(page.data, int64(page.pagenum)*Pagesize)
		page.SetDirty(false)
	}
}

// FlushAllPages flushes all dirty pages to disk.
// Concurrency note: the pager's mutex and all it's pages should be read-locked upon entry.
func (pager *Pager) FlushAllPages() {
	writer := func(link *list.Link) {
		pager.FlushPage(link.GetValue().(*Page))
	}
	pager.pinnedList.Map(writer)
	pager.unpinnedList.Map(writer)
}
