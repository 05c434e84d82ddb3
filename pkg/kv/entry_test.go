package kv_test

import (
	"testing"

	"hashidx/pkg/kv"
)

func TestEntryMarshalRoundTrip(t *testing.T) {
	entry := kv.New(42, -7)
	data := entry.Marshal()
	if len(data) != kv.EntrySize {
		t.Fatalf("expected marshaled entry to be %d bytes, got %d", kv.EntrySize, len(data))
	}

	got := kv.Unmarshal(data)
	if got != entry {
		t.Errorf("expected round trip to yield %+v, got %+v", entry, got)
	}
}

func TestIntComparator(t *testing.T) {
	cases := []struct {
		a, b int64
		want int
	}{
		{1, 2, -1},
		{2, 1, 1},
		{5, 5, 0},
		{-3, 3, -1},
	}
	for _, c := range cases {
		if got := kv.IntComparator(c.a, c.b); got != c.want {
			t.Errorf("IntComparator(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
