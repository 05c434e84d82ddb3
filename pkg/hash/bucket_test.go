package hash

import (
	"os"
	"testing"

	"hashidx/pkg/kv"
	"hashidx/pkg/pager"
)

// testPager returns a pager backed by a fresh temp file, closing it
// (ignoring errors on pinned pages) at test end.
func testPager(t *testing.T) *pager.Pager {
	tmpfile, err := os.CreateTemp("", "*.db")
	if err != nil {
		t.Fatal(err)
	}
	name := tmpfile.Name()
	_ = tmpfile.Close()
	t.Cleanup(func() { _ = os.Remove(name) })

	p, err := pager.New(name)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func freshBucket(t *testing.T, p *pager.Pager) *BucketPage {
	page, err := p.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	return newBucketPage(page)
}

func TestBucketInsertAndGetValue(t *testing.T) {
	p := testPager(t)
	b := freshBucket(t, p)

	if !b.Insert(1, 100, kv.IntComparator) {
		t.Fatal("expected first insert to succeed")
	}
	if !b.Insert(2, 200, kv.IntComparator) {
		t.Fatal("expected second insert to succeed")
	}

	var out []int64
	if !b.GetValue(1, kv.IntComparator, &out) {
		t.Fatal("expected to find key 1")
	}
	if len(out) != 1 || out[0] != 100 {
		t.Errorf("expected [100], got %v", out)
	}
}

func TestBucketInsertDuplicateRejected(t *testing.T) {
	p := testPager(t)
	b := freshBucket(t, p)

	if !b.Insert(1, 100, kv.IntComparator) {
		t.Fatal("expected first insert to succeed")
	}
	if b.Insert(1, 100, kv.IntComparator) {
		t.Error("expected duplicate (key, value) insert to be rejected")
	}
	// Same key, different value is allowed -- hash indexes aren't unique maps.
	if !b.Insert(1, 200, kv.IntComparator) {
		t.Error("expected insert of (1, 200) to succeed alongside (1, 100)")
	}
}

func TestBucketFullness(t *testing.T) {
	p := testPager(t)
	b := freshBucket(t, p)

	for i := int64(0); i < BucketArraySize; i++ {
		if !b.Insert(i, i, kv.IntComparator) {
			t.Fatalf("expected insert %d to succeed before bucket is full", i)
		}
	}
	if !b.IsFull() {
		t.Fatal("expected bucket to report full after filling every slot")
	}
	if b.Insert(BucketArraySize, BucketArraySize, kv.IntComparator) {
		t.Error("expected insert into a full bucket to fail")
	}
}

func TestBucketRemoveLeavesTombstoneForReuse(t *testing.T) {
	p := testPager(t)
	b := freshBucket(t, p)

	b.Insert(5, 50, kv.IntComparator)
	if !b.Remove(5, 50, kv.IntComparator) {
		t.Fatal("expected remove to find (5, 50)")
	}
	if !b.IsEmpty() {
		t.Error("expected bucket to report empty after removing its only entry")
	}

	var out []int64
	if b.GetValue(5, kv.IntComparator, &out) {
		t.Error("expected removed key not to be found")
	}

	// The tombstoned slot should be reusable by a later insert.
	if !b.Insert(6, 60, kv.IntComparator) {
		t.Error("expected insert to reuse the tombstoned slot")
	}
}

func TestBucketGetKVPairsSkipsTombstones(t *testing.T) {
	p := testPager(t)
	b := freshBucket(t, p)

	b.Insert(1, 10, kv.IntComparator)
	b.Insert(2, 20, kv.IntComparator)
	b.Remove(1, 10, kv.IntComparator)

	pairs := b.GetKVPairs()
	if len(pairs) != 1 || pairs[0].Key != 2 {
		t.Errorf("expected only (2, 20) to survive, got %v", pairs)
	}
}

func TestBucketBitmapsSurviveReload(t *testing.T) {
	p := testPager(t)
	page, err := p.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	b := newBucketPage(page)
	b.Insert(3, 30, kv.IntComparator)
	b.Insert(4, 40, kv.IntComparator)
	b.Remove(3, 30, kv.IntComparator)

	reloaded := loadBucketPage(page)
	if reloaded.Occupancy() != 1 {
		t.Fatalf("expected occupancy 1 after reload, got %d", reloaded.Occupancy())
	}
	var out []int64
	if !reloaded.GetValue(4, kv.IntComparator, &out) || out[0] != 40 {
		t.Errorf("expected to find (4, 40) after reload, got %v", out)
	}
}
