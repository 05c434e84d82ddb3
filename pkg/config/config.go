// Package config holds the package-level constants shared by the index's
// on-disk layout and its buffer pool.
package config

// Name of this index implementation, used as the default file-name prefix.
const IndexName = "hashidx"

// MaxPagesInBuffer is the maximum number of page frames the buffer pool
// will keep resident in memory at once.
const MaxPagesInBuffer = 64

// OpLogSuffix is appended to an index's data file name to name the sidecar
// file used by cmd/hashcli's logtail command. It is diagnostic output,
// never replayed.
const OpLogSuffix = ".oplog"
