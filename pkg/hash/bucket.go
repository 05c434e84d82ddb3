package hash

import (
	"encoding/binary"
	"fmt"
	"io"

	"hashidx/pkg/kv"
	"hashidx/pkg/pager"

	"github.com/bits-and-blooms/bitset"
)

// BucketPage is a page holding up to BucketArraySize (key, value) slots,
// plus an occupied bitmap (has this slot ever been written) and a readable
// bitmap (does this slot currently hold a live pair). A slot with
// occupied=true, readable=false is a tombstone: Insert may reuse it,
// GetValue/GetKVPairs skip it.
type BucketPage struct {
	page     *pager.Page
	occupied *bitset.BitSet
	readable *bitset.BitSet
}

// newBucketPage initializes a freshly allocated page as an empty bucket.
func newBucketPage(page *pager.Page) *BucketPage {
	bucket := &BucketPage{
		page:     page,
		occupied: bitset.New(uint(bitmapWords * 64)),
		readable: bitset.New(uint(bitmapWords * 64)),
	}
	bucket.persistOccupied()
	bucket.persistReadable()
	return bucket
}

// loadBucketPage wraps an already-populated page, reading its bitmaps
// back out of the page's byte buffer.
func loadBucketPage(page *pager.Page) *BucketPage {
	data := page.GetData()
	return &BucketPage{
		page:     page,
		occupied: loadBitmap(data[bktOccupiedOffset : bktOccupiedOffset+bktOccupiedSize]),
		readable: loadBitmap(data[bktReadableOffset : bktReadableOffset+bktReadableSize]),
	}
}

// GetPage returns the bucket's underlying page.
func (b *BucketPage) GetPage() *pager.Page {
	return b.page
}

// Capacity returns the maximum number of (key, value) slots this bucket can hold.
func (b *BucketPage) Capacity() int64 {
	return BucketArraySize
}

// Occupancy returns the number of slots currently holding a live pair.
func (b *BucketPage) Occupancy() int64 {
	return int64(b.readable.Count())
}

// GetValue appends the value of every live (key, matchedKey) pair to result
// and reports whether at least one match was found.
func (b *BucketPage) GetValue(key int64, cmp kv.Comparator, result *[]int64) bool {
	found := false
	for i := int64(0); i < BucketArraySize; i++ {
		if !b.readable.Test(uint(i)) {
			continue
		}
		if cmp(key, b.keyAt(i)) == 0 {
			*result = append(*result, b.valueAt(i))
			found = true
		}
	}
	return found
}

// Insert places (key, value) into the first available slot, reusing a
// tombstoned slot if one exists. Returns false if the exact (key, value)
// pair already exists, or if the bucket is full and has no reusable slot.
func (b *BucketPage) Insert(key, value int64, cmp kv.Comparator) bool {
	freeSlot := int64(-1)
	for i := int64(0); i < BucketArraySize; i++ {
		if !b.readable.Test(uint(i)) {
			if freeSlot == -1 {
				freeSlot = i
			}
			continue
		}
		entry := b.entryAt(i)
		if cmp(key, entry.Key) == 0 && entry.Value == value {
			return false
		}
	}
	if freeSlot == -1 {
		return false
	}
	b.setEntryAt(freeSlot, kv.New(key, value))
	b.occupied.Set(uint(freeSlot))
	b.readable.Set(uint(freeSlot))
	b.persistOccupied()
	b.persistReadable()
	return true
}

// Remove clears the readable bit of the first slot holding (key, value),
// leaving the slot's occupied bit (and its stale data) untouched as a
// tombstone. Returns true iff a matching slot was found.
func (b *BucketPage) Remove(key, value int64, cmp kv.Comparator) bool {
	for i := int64(0); i < BucketArraySize; i++ {
		if !b.readable.Test(uint(i)) {
			continue
		}
		entry := b.entryAt(i)
		if cmp(key, entry.Key) == 0 && entry.Value == value {
			b.readable.Clear(uint(i))
			b.persistReadable()
			return true
		}
	}
	return false
}

// IsFull reports whether every slot in the bucket currently holds a live pair.
func (b *BucketPage) IsFull() bool {
	return b.readable.Count() == uint(BucketArraySize)
}

// IsEmpty reports whether no slot in the bucket currently holds a live pair.
func (b *BucketPage) IsEmpty() bool {
	return b.readable.None()
}

// GetKVPairs returns every live (key, value) pair in the bucket, in slot order.
func (b *BucketPage) GetKVPairs() []kv.Entry {
	pairs := make([]kv.Entry, 0, b.Occupancy())
	for i := int64(0); i < BucketArraySize; i++ {
		if b.readable.Test(uint(i)) {
			pairs = append(pairs, b.entryAt(i))
		}
	}
	return pairs
}

// Reset clears every occupied and readable bit, discarding all pairs.
// Used by splitBucket before rehashing the old bucket's contents.
func (b *BucketPage) Reset() {
	b.occupied.ClearAll()
	b.readable.ClearAll()
	b.persistOccupied()
	b.persistReadable()
}

// Print writes a string representation of the bucket to w.
func (b *BucketPage) Print(w io.Writer) {
	io.WriteString(w, fmt.Sprintf("occupancy: %d/%d\nentries: ", b.Occupancy(), BucketArraySize))
	for _, entry := range b.GetKVPairs() {
		entry.Print(w)
		io.WriteString(w, ", ")
	}
	io.WriteString(w, "\n")
}

/////////////////////////////////////////////////////////////////////////////
///////////////////// BucketPage Helper Functions ///////////////////////////
/////////////////////////////////////////////////////////////////////////////

func (b *BucketPage) keyAt(i int64) int64 {
	return b.entryAt(i).Key
}

func (b *BucketPage) valueAt(i int64) int64 {
	return b.entryAt(i).Value
}

func (b *BucketPage) entryAt(i int64) kv.Entry {
	off := entryOffset(i)
	return kv.Unmarshal(b.page.GetData()[off : off+BucketEntrySize])
}

func (b *BucketPage) setEntryAt(i int64, entry kv.Entry) {
	b.page.Update(entry.Marshal(), entryOffset(i), BucketEntrySize)
}

func (b *BucketPage) persistOccupied() {
	b.page.Update(dumpBitmap(b.occupied), bktOccupiedOffset, bktOccupiedSize)
}

func (b *BucketPage) persistReadable() {
	b.page.Update(dumpBitmap(b.readable), bktReadableOffset, bktReadableSize)
}

// loadBitmap reconstructs a bitset.BitSet from its on-page word-aligned
// byte representation.
func loadBitmap(data []byte) *bitset.BitSet {
	words := make([]uint64, len(data)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[i*8 : i*8+8])
	}
	return bitset.From(words)
}

// dumpBitmap serializes a bitset.BitSet's backing words into their
// fixed-width on-page byte representation.
func dumpBitmap(bs *bitset.BitSet) []byte {
	words := bs.Bytes()
	buf := make([]byte, len(words)*8)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], w)
	}
	return buf
}
