package hash

import "github.com/google/uuid"

// TxnID is the opaque transaction handle threaded through GetValue, Insert,
// and Remove. The core never inspects it; it exists purely so a future
// lock/transaction manager has something stable to hang per-caller state
// off of.
type TxnID = uuid.UUID

// NilTxnID is the zero-value handle for callers with no enclosing
// transaction.
var NilTxnID = uuid.UUID{}

// NewTxnID allocates a fresh, unique transaction handle.
func NewTxnID() TxnID {
	return uuid.New()
}
