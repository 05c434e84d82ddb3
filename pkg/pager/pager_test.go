package pager_test

import (
	"bytes"
	"os"
	"testing"

	"hashidx/pkg/config"
	"hashidx/pkg/pager"
)

// tempDBFile creates a random file in the OS's temp directory for a
// pager to use, removing it once the test completes.
func tempDBFile(t *testing.T) string {
	tmpfile, err := os.CreateTemp("", "*.db")
	if err != nil {
		t.Fatal(err)
	}
	_ = tmpfile.Close()
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })
	return tmpfile.Name()
}

// setupPager creates a new pager backed by a fresh temp file.
func setupPager(t *testing.T) *pager.Pager {
	t.Parallel()
	p, err := pager.New(tempDBFile(t))
	if err != nil {
		t.Fatal("Failed to create a new pager:", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// newPage wraps NewPage with error checking, optionally deferring its unpin.
func newPage(t *testing.T, p *pager.Pager, deferUnpin bool) *pager.Page {
	page, err := p.NewPage()
	if err != nil {
		t.Fatal("Error getting new page:", err)
	}
	if deferUnpin {
		t.Cleanup(func() { _, _ = p.UnpinPage(page.GetPageNum(), false) })
	}
	return page
}

// fetchPage wraps FetchPage with error checking, optionally deferring its unpin.
func fetchPage(t *testing.T, p *pager.Pager, pagenum pager.PageID, deferUnpin bool) *pager.Page {
	page, err := p.FetchPage(pagenum)
	if err != nil {
		t.Fatalf("Error fetching existing page %d: %s", pagenum, err)
	}
	if deferUnpin {
		t.Cleanup(func() {
			if _, err := p.UnpinPage(pagenum, false); err != nil {
				t.Errorf("Error unpinning page %d: %s", pagenum, err)
			}
		})
	}
	return page
}

func closeAndReopen(t *testing.T, p *pager.Pager) {
	if err := p.Close(); err != nil {
		t.Fatal("Failed to close pager:", err)
	}
	if err := p.Open(p.GetFileName()); err != nil {
		t.Fatal("Failed to reopen pager:", err)
	}
}

func TestPager(t *testing.T) {
	t.Run("NewPager", testNewPager)
	t.Run("NewPage", testNewPage)
	t.Run("FetchPagePagenumber", testFetchPagePagenumber)
	t.Run("NegativePagenumber", testNegativePagenumber)
	t.Run("MaxNewPages", testMaxNewPages)
	t.Run("FlushOnePage", testFlushOnePage)
	t.Run("TooManyUnpins", testTooManyUnpins)
	t.Run("PinCountsOnClose", testPinCountsOnClose)
	t.Run("FetchExistingChangedPage", testFetchExistingChangedPage)
	t.Run("DeletePageReusesID", testDeletePageReusesID)
	t.Run("FetchDeletedPageFails", testFetchDeletedPageFails)
	t.Run("NewPagesStress", testNewPagesStress)
}

func testNewPager(t *testing.T) {
	_ = setupPager(t)
}

func testNewPage(t *testing.T) {
	p := setupPager(t)
	page := newPage(t, p, true)
	if page.GetPager() != p {
		t.Error("New page has bad pager field")
	}
	if page.GetPageNum() != 0 {
		t.Error("Expected new page to have pagenum 0, but found pagenum", page.GetPageNum())
	}
	if !page.IsDirty() {
		t.Error("Expected new page to be dirty, but it wasn't")
	}
}

func testFetchPagePagenumber(t *testing.T) {
	p := setupPager(t)
	p1 := newPage(t, p, true)
	p2 := newPage(t, p, true)
	p3 := fetchPage(t, p, 1, true)
	if p1.GetPageNum() != 0 {
		t.Errorf("Expected pagenum %d for new page, but found %d", 0, p1.GetPageNum())
	}
	if p2.GetPageNum() != 1 {
		t.Errorf("Expected pagenum %d for new page, but found %d", 1, p2.GetPageNum())
	}
	if p3.GetPageNum() != 1 {
		t.Errorf("Expected pagenum %d for existing page, but found %d", 1, p3.GetPageNum())
	}
}

func testNegativePagenumber(t *testing.T) {
	p := setupPager(t)
	if _, err := p.FetchPage(-1); err == nil {
		t.Fatal("Expected FetchPage to return an error upon negative pagenum request")
	}
}

// testMaxNewPages fills the buffer pool to config.MaxPagesInBuffer and
// checks that one more NewPage call fails.
func testMaxNewPages(t *testing.T) {
	p := setupPager(t)
	for i := 0; i < config.MaxPagesInBuffer; i++ {
		_ = newPage(t, p, true)
	}
	page, err := p.NewPage()
	if err == nil {
		_, _ = p.UnpinPage(page.GetPageNum(), false)
		t.Fatal("Should have returned an error for running out of pages")
	}
}

func testFlushOnePage(t *testing.T) {
	p := setupPager(t)
	page := newPage(t, p, false)
	data := []byte("hello")
	page.Update(data, 0, int64(len(data)))
	if _, err := p.UnpinPage(page.GetPageNum(), true); err != nil {
		t.Fatal(err)
	}

	p.FlushPage(page)
	closeAndReopen(t, p)

	page = fetchPage(t, p, 0, true)
	if !bytes.Equal(page.GetData()[:len(data)], data) {
		t.Fatal("Data not flushed properly")
	}
}

func testTooManyUnpins(t *testing.T) {
	p := setupPager(t)
	page := newPage(t, p, false)
	if _, err := p.UnpinPage(page.GetPageNum(), false); err != nil {
		t.Fatal("Initial unpin shouldn't fail, but failed with:", err)
	}
	if _, err := p.UnpinPage(page.GetPageNum(), false); err == nil {
		t.Fatal("UnpinPage should fail because pincount < 0, but it didn't")
	}
}

func testPinCountsOnClose(t *testing.T) {
	p := setupPager(t)
	_ = newPage(t, p, false)
	if err := p.Close(); err == nil {
		t.Fatal("Did not receive expected error about pages still being pinned on close")
	}
}

func testFetchExistingChangedPage(t *testing.T) {
	p := setupPager(t)
	p1 := newPage(t, p, true)
	data := []byte("test data")
	p1.Update(data, 0, int64(len(data)))
	p2 := fetchPage(t, p, 0, true)
	if p1 != p2 {
		t.Error("Pages returned are not the same")
	}
	if !bytes.Equal(p2.GetData()[:len(data)], data) {
		t.Error("Data not retained in buffer cache")
	}
}

// testDeletePageReusesID checks that a deleted page's id is handed back
// out by a later NewPage call.
func testDeletePageReusesID(t *testing.T) {
	p := setupPager(t)
	page := newPage(t, p, false)
	deletedID := page.GetPageNum()
	if _, err := p.UnpinPage(deletedID, false); err != nil {
		t.Fatal(err)
	}
	if ok, err := p.DeletePage(deletedID); err != nil || !ok {
		t.Fatal("Failed to delete page:", err)
	}

	reused := newPage(t, p, true)
	if reused.GetPageNum() != deletedID {
		t.Errorf("Expected NewPage to reuse deleted id %d, got %d", deletedID, reused.GetPageNum())
	}
}

func testFetchDeletedPageFails(t *testing.T) {
	p := setupPager(t)
	page := newPage(t, p, false)
	id := page.GetPageNum()
	if _, err := p.UnpinPage(id, false); err != nil {
		t.Fatal(err)
	}
	if ok, err := p.DeletePage(id); err != nil || !ok {
		t.Fatal("Failed to delete page:", err)
	}
	if _, err := p.FetchPage(id); err == nil {
		t.Fatal("Expected FetchPage to fail for a deleted, not-yet-reused id")
	}
}

func testNewPagesStress(t *testing.T) {
	p := setupPager(t)
	for i := 0; i < 10000; i++ {
		page := newPage(t, p, false)
		if page.GetPageNum() != pager.PageID(i) {
			t.Fatalf("Expected new page to have pagenum %d, but was %d", i, page.GetPageNum())
		}
		if _, err := p.UnpinPage(page.GetPageNum(), false); err != nil {
			t.Fatal(err)
		}
	}
}
