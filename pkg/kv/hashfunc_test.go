package kv_test

import (
	"testing"

	"hashidx/pkg/kv"
)

func TestHashFunctionsAreDeterministic(t *testing.T) {
	for _, hashFn := range []kv.HashFunction{kv.XXHashFunction, kv.MurmurHashFunction} {
		for _, key := range []int64{0, 1, -1, 12345, -987654321} {
			first := hashFn(key)
			second := hashFn(key)
			if first != second {
				t.Errorf("hash function not deterministic for key %d: %d != %d", key, first, second)
			}
		}
	}
}

func TestHashFunctionsDistributeDistinctKeys(t *testing.T) {
	for _, hashFn := range []kv.HashFunction{kv.XXHashFunction, kv.MurmurHashFunction} {
		seen := make(map[uint64]bool)
		for key := int64(0); key < 256; key++ {
			seen[hashFn(key)] = true
		}
		if len(seen) < 250 {
			t.Errorf("expected nearly all of 256 distinct keys to hash distinctly, got %d distinct hashes", len(seen))
		}
	}
}
