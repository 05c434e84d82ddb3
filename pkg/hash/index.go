package hash

import (
	"encoding/binary"
	"fmt"

	"hashidx/pkg/kv"
	"hashidx/pkg/pager"
)

// indexMagic tags page 0 as an index header, distinguishing a freshly
// created file from one whose first page happens to already exist with
// unrelated contents.
const indexMagic uint32 = 0x48584944 // "HXID"
const indexFormatVersion uint32 = 1

const (
	headerMagicOffset   = 0
	headerMagicSize     = 4
	headerVersionOffset = headerMagicOffset + headerMagicSize
	headerVersionSize   = 4
	headerDirPageOffset = headerVersionOffset + headerVersionSize
	headerDirPageSize   = 8
)

// Index is the named, on-disk extendible hash table: a Pager backing a
// single-page header (recording where the directory page lives) followed
// by the table's directory and bucket pages. It plays the role the
// teacher's BTreeIndex/HashTableIndex plays for the table manager: a
// handle callers open by name and close when done.
type Index struct {
	name  string
	pgr   *pager.Pager
	table *ExtendibleHashTable
}

// OpenIndex opens (creating if necessary) the hash index backed by the
// file at path. comparator and hashFn are required on every open, since
// they cannot themselves be persisted to disk.
func OpenIndex(name string, path string, comparator kv.Comparator, hashFn kv.HashFunction) (*Index, error) {
	pgr, err := pager.New(path)
	if err != nil {
		return nil, fmt.Errorf("hash: opening pager for index %q: %w", name, err)
	}

	if pgr.GetNumPages() == 0 {
		// Reserve page 0 for the header before the table allocates
		// anything, so the header always lands there regardless of how
		// many pages the table's own construction needs.
		header, err := pgr.NewPage()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBufferPoolExhausted, err)
		}
		if header.GetPageNum() != 0 {
			return nil, fmt.Errorf("hash: index header did not land on page 0 (got %d)", header.GetPageNum())
		}

		table, err := NewExtendibleHashTable(pgr, comparator, hashFn)
		if err != nil {
			_, _ = pgr.UnpinPage(0, false)
			return nil, err
		}
		if err := fillHeaderPage(header, table.GetDirectoryPageID()); err != nil {
			return nil, err
		}
		if _, err := pgr.UnpinPage(0, true); err != nil {
			return nil, err
		}
		return &Index{name: name, pgr: pgr, table: table}, nil
	}

	directoryPageID, err := readHeaderPage(pgr)
	if err != nil {
		return nil, fmt.Errorf("hash: opening index %q: %w", name, err)
	}
	table := OpenExtendibleHashTable(pgr, directoryPageID, comparator, hashFn)
	return &Index{name: name, pgr: pgr, table: table}, nil
}

// fillHeaderPage writes the magic, format version, and directory page id
// into an already-allocated page-0 header.
func fillHeaderPage(header *pager.Page, directoryPageID pager.PageID) error {
	buf := make([]byte, headerDirPageOffset+headerDirPageSize)
	binary.LittleEndian.PutUint32(buf[headerMagicOffset:], indexMagic)
	binary.LittleEndian.PutUint32(buf[headerVersionOffset:], indexFormatVersion)
	binary.LittleEndian.PutUint64(buf[headerDirPageOffset:], uint64(int64(directoryPageID)))
	header.Update(buf, 0, int64(len(buf)))
	return nil
}

func readHeaderPage(pgr *pager.Pager) (pager.PageID, error) {
	header, err := pgr.FetchPage(0)
	if err != nil {
		return 0, err
	}
	defer pgr.UnpinPage(0, false)

	data := header.GetData()
	magic := binary.LittleEndian.Uint32(data[headerMagicOffset:])
	if magic != indexMagic {
		return 0, fmt.Errorf("hash: page 0 is not an index header (bad magic)")
	}
	version := binary.LittleEndian.Uint32(data[headerVersionOffset:])
	if version != indexFormatVersion {
		return 0, fmt.Errorf("hash: index header format version %d unsupported", version)
	}
	return pager.PageID(int64(binary.LittleEndian.Uint64(data[headerDirPageOffset:]))), nil
}

// GetName returns the name this index was opened under.
func (idx *Index) GetName() string {
	return idx.name
}

// GetPager returns the buffer pool manager backing this index.
func (idx *Index) GetPager() *pager.Pager {
	return idx.pgr
}

// GetTable returns the underlying extendible hash table.
func (idx *Index) GetTable() *ExtendibleHashTable {
	return idx.table
}

// Close flushes and closes the index's backing file.
func (idx *Index) Close() error {
	return idx.pgr.Close()
}

// GetValue, Insert, and Remove forward to the underlying table, so most
// callers never need to reach for GetTable directly.

func (idx *Index) GetValue(txn TxnID, key int64) ([]int64, error) {
	return idx.table.GetValue(txn, key)
}

func (idx *Index) Insert(txn TxnID, key, value int64) error {
	return idx.table.Insert(txn, key, value)
}

func (idx *Index) Remove(txn TxnID, key, value int64) error {
	return idx.table.Remove(txn, key, value)
}
