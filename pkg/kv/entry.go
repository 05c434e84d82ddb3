// Package kv defines the fixed-size key/value pair stored by the hash
// index, and the comparator/hash-function capabilities the index's core
// consumes but never implements itself.
package kv

import (
	"encoding/binary"
	"fmt"
	"io"
)

// KeySize and ValueSize are the fixed widths, in bytes, of a key and a
// value on the page. Entry is deliberately fixed-size (two int64s) rather
// than varint-encoded, so that a BucketPage's layout is page-exact: slot i
// always lives at a byte offset computable from i alone.
const (
	KeySize   = 8
	ValueSize = 8
	EntrySize = KeySize + ValueSize
)

// Entry is a key-value pair stored in a bucket page.
type Entry struct {
	Key   int64
	Value int64
}

// New constructs an Entry with the given key and value.
func New(key, value int64) Entry {
	return Entry{Key: key, Value: value}
}

// Marshal serializes the entry into a fixed EntrySize-byte slice.
func (e Entry) Marshal() []byte {
	buf := make([]byte, EntrySize)
	binary.LittleEndian.PutUint64(buf[:KeySize], uint64(e.Key))
	binary.LittleEndian.PutUint64(buf[KeySize:EntrySize], uint64(e.Value))
	return buf
}

// Unmarshal deserializes an EntrySize-byte slice into an Entry.
func Unmarshal(data []byte) Entry {
	key := int64(binary.LittleEndian.Uint64(data[:KeySize]))
	value := int64(binary.LittleEndian.Uint64(data[KeySize:EntrySize]))
	return Entry{Key: key, Value: value}
}

// Print writes the entry to w in the form (<key>, <value>).
func (e Entry) Print(w io.Writer) {
	fmt.Fprintf(w, "(%d, %d)", e.Key, e.Value)
}
