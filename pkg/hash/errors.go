package hash

import "errors"

// ErrKeyNotFound is returned by GetValue when no entry with the given key
// exists, and by Remove when the exact (key, value) pair is not present.
var ErrKeyNotFound = errors.New("hash: key not found")

// ErrDuplicateEntry is returned by Insert when the exact (key, value)
// pair already exists in the table.
var ErrDuplicateEntry = errors.New("hash: duplicate (key, value) entry")

// ErrBucketCapacityExhausted is returned when a split would need to
// push local depth past MaxDepth and the offending bucket is still full:
// a recoverable fault rather than a panic.
var ErrBucketCapacityExhausted = errors.New("hash: bucket capacity exhausted at max directory depth")

// ErrBufferPoolExhausted wraps a NewPage failure from the buffer pool, a
// recoverable error rather than a panic.
var ErrBufferPoolExhausted = errors.New("hash: buffer pool has no pages available")

// ErrIntegrityViolation wraps a failed invariant check. CheckIntegrity
// returns it; VerifyIntegrity panics with it, treating a violation as a
// programmer error rather than a condition a caller can recover from.
var ErrIntegrityViolation = errors.New("hash: directory/bucket invariant violation")
