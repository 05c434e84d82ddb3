package hash

import (
	"hashidx/pkg/kv"
	"hashidx/pkg/pager"
)

// MaxDepth bounds how many low bits of a hash the directory will ever use.
// At MaxDepth the directory has grown to its largest size; splitBucket
// fails rather than growing the directory past it.
const MaxDepth = 9

// DirectoryArraySize is the number of (bucket page id, local depth) slots
// a directory page has room for: 2^MaxDepth.
const DirectoryArraySize = 1 << MaxDepth

// Directory page layout: a fixed-width header followed by the two parallel
// bucket-page-id/local-depth arrays. Laid out with encoding/binary rather
// than reinterpreting the byte buffer as a Go struct.
const (
	dirGlobalDepthOffset   int64 = 0
	dirGlobalDepthSize     int64 = 4 // uint32
	dirPageIDOffset        int64 = dirGlobalDepthOffset + dirGlobalDepthSize
	dirPageIDSize          int64 = 8 // int64 pager.PageID
	dirBucketIDsOffset     int64 = dirPageIDOffset + dirPageIDSize
	dirBucketIDSize        int64 = 8 // one pager.PageID per slot
	dirBucketIDsSize       int64 = dirBucketIDSize * DirectoryArraySize
	dirLocalDepthsOffset   int64 = dirBucketIDsOffset + dirBucketIDsSize
	dirLocalDepthsSize     int64 = DirectoryArraySize // one byte per slot
	dirHeaderSize          int64 = dirLocalDepthsOffset + dirLocalDepthsSize
)

func init() {
	if dirHeaderSize > pager.Pagesize {
		panic("hash: directory page layout does not fit in a single page")
	}
}

// BucketEntrySize is the width, in bytes, of one (key, value) slot.
const BucketEntrySize = int64(kv.EntrySize)

// BucketArraySize is the number of (key, value) slots a bucket page can
// hold: it fills the page, leaving room for the occupied and readable
// bitmaps.
const BucketArraySize = (4 * pager.Pagesize) / (4*BucketEntrySize + 1)

// bitmapWords/bitmapBytes size the occupied/readable bitmaps: bitset.BitSet
// packs bits into 64-bit words, so the on-page bitmap is padded up to a
// whole number of words.
const bitmapWords = (BucketArraySize + 63) / 64
const bitmapBytes = bitmapWords * 8

// Bucket page layout.
const (
	bktOccupiedOffset int64 = 0
	bktOccupiedSize   int64 = bitmapBytes
	bktReadableOffset int64 = bktOccupiedOffset + bktOccupiedSize
	bktReadableSize   int64 = bitmapBytes
	bktArrayOffset    int64 = bktReadableOffset + bktReadableSize
	bktArraySize      int64 = BucketArraySize * BucketEntrySize
	bktHeaderSize     int64 = bktArrayOffset + bktArraySize
)

func init() {
	if bktHeaderSize > pager.Pagesize {
		panic("hash: bucket page layout does not fit in a single page")
	}
}

// entryOffset returns the byte offset of the slot-i key/value pair.
func entryOffset(i int64) int64 {
	return bktArrayOffset + i*BucketEntrySize
}
