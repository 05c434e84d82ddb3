package kv

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// HashFunction is the externally supplied hashing capability consumed by
// the hash table. The table downcasts its 64-bit result to 32 bits before
// masking it against a directory slot, per the hash(key) -> u32 contract.
type HashFunction func(key int64) uint64

// keyBytes renders a key in the fixed little-endian form both hash
// functions below hash over.
func keyBytes(key int64) []byte {
	buf := make([]byte, KeySize)
	binary.LittleEndian.PutUint64(buf, uint64(key))
	return buf
}

// XXHashFunction hashes a key with xxHash, the table's default hash_fn.
func XXHashFunction(key int64) uint64 {
	return xxhash.Sum64(keyBytes(key))
}

// MurmurHashFunction hashes a key with MurmurHash3, an alternate hash_fn
// selectable at table construction time.
func MurmurHashFunction(key int64) uint64 {
	return murmur3.Sum64(keyBytes(key))
}
