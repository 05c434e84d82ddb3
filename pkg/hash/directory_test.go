package hash

import (
	"testing"

	"hashidx/pkg/pager"
)

func freshDirectory(t *testing.T, p *pager.Pager, rootBucketID pager.PageID) *DirectoryPage {
	page, err := p.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	return newDirectoryPage(page, rootBucketID)
}

func TestDirectoryInitialState(t *testing.T) {
	p := testPager(t)
	dir := freshDirectory(t, p, 7)

	if dir.GetGlobalDepth() != 0 {
		t.Errorf("expected initial global depth 0, got %d", dir.GetGlobalDepth())
	}
	if dir.Size() != 1 {
		t.Errorf("expected initial size 1, got %d", dir.Size())
	}
	if dir.GetBucketPageID(0) != 7 {
		t.Errorf("expected slot 0 to point at bucket 7, got %d", dir.GetBucketPageID(0))
	}
	if dir.GetLocalDepth(0) != 0 {
		t.Errorf("expected slot 0 local depth 0, got %d", dir.GetLocalDepth(0))
	}
}

func TestDirectoryIncrGlobalDepthMirrorsSlots(t *testing.T) {
	p := testPager(t)
	dir := freshDirectory(t, p, 7)
	dir.SetLocalDepth(0, 0)

	dir.IncrGlobalDepth()
	if dir.GetGlobalDepth() != 1 {
		t.Fatalf("expected global depth 1, got %d", dir.GetGlobalDepth())
	}
	if dir.Size() != 2 {
		t.Fatalf("expected size 2, got %d", dir.Size())
	}
	if dir.GetBucketPageID(1) != dir.GetBucketPageID(0) {
		t.Error("expected mirrored slot to share the same bucket id")
	}
	if dir.GetLocalDepth(1) != dir.GetLocalDepth(0) {
		t.Error("expected mirrored slot to share the same local depth")
	}
}

func TestDirectoryDecrGlobalDepthPanicsAtZero(t *testing.T) {
	p := testPager(t)
	dir := freshDirectory(t, p, 7)

	defer func() {
		if recover() == nil {
			t.Fatal("expected DecrGlobalDepth to panic at global depth 0")
		}
	}()
	dir.DecrGlobalDepth()
}

func TestDirectoryGetSplitImageIndex(t *testing.T) {
	p := testPager(t)
	dir := freshDirectory(t, p, 7)
	dir.IncrGlobalDepth()
	dir.SetLocalDepth(0, 1)
	dir.SetLocalDepth(1, 1)

	if got := dir.GetSplitImageIndex(0); got != 1 {
		t.Errorf("expected split image of slot 0 at depth 1 to be 1, got %d", got)
	}
	if got := dir.GetSplitImageIndex(1); got != 0 {
		t.Errorf("expected split image of slot 1 at depth 1 to be 0, got %d", got)
	}
}

func TestDirectoryCanShrink(t *testing.T) {
	p := testPager(t)
	dir := freshDirectory(t, p, 7)
	dir.IncrGlobalDepth()
	dir.SetLocalDepth(0, 0)
	dir.SetLocalDepth(1, 0)

	if !dir.CanShrink() {
		t.Error("expected directory to be shrinkable when every local depth is below global depth")
	}

	dir.SetLocalDepth(1, 1)
	if dir.CanShrink() {
		t.Error("expected directory not to be shrinkable once a slot reaches global depth")
	}
}

func TestDirectoryVerifyIntegrityCatchesLocalDepthExceedsGlobal(t *testing.T) {
	p := testPager(t)
	dir := freshDirectory(t, p, 7)
	dir.SetLocalDepth(0, 3) // global depth is still 0: a direct invariant violation.

	if err := dir.VerifyIntegrity(); err == nil {
		t.Fatal("expected VerifyIntegrity to catch local depth exceeding global depth")
	}
}

func TestDirectoryVerifyIntegrityAcceptsFreshDirectory(t *testing.T) {
	p := testPager(t)
	dir := freshDirectory(t, p, 7)

	if err := dir.VerifyIntegrity(); err != nil {
		t.Errorf("expected a freshly created directory to pass integrity checks, got %v", err)
	}
}
