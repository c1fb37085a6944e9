package txns

import (
	"fmt"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

type LockMode uint8

const (
	LockShared LockMode = iota
	LockExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockShared:
		return "SHARED"
	case LockExclusive:
		return "EXCLUSIVE"
	default:
		return fmt.Sprintf("LockMode(%d)", uint8(m))
	}
}

type TxnState uint32

const (
	TxnGrowing TxnState = iota
	TxnShrinking
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnGrowing:
		return "GROWING"
	case TxnShrinking:
		return "SHRINKING"
	case TxnCommitted:
		return "COMMITTED"
	case TxnAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("TxnState(%d)", uint32(s))
	}
}

type IsolationLevel uint8

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	default:
		return fmt.Sprintf("IsolationLevel(%d)", uint8(l))
	}
}

type AbortReason uint8

const (
	LockSharedOnReadUncommitted AbortReason = iota
	LockOnShrinking
	UpgradeConflict
	Deadlock
)

func (r AbortReason) String() string {
	switch r {
	case LockSharedOnReadUncommitted:
		return "LOCKSHARED_ON_READ_UNCOMMITTED"
	case LockOnShrinking:
		return "LOCK_ON_SHRINKING"
	case UpgradeConflict:
		return "UPGRADE_CONFLICT"
	case Deadlock:
		return "DEADLOCK"
	default:
		return fmt.Sprintf("AbortReason(%d)", uint8(r))
	}
}

// TransactionAbortError is raised by the lock manager after it has
// transitioned the transaction to ABORTED.
type TransactionAbortError struct {
	TxnID  common.TxnID
	Reason AbortReason
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("transaction %d aborted: %s", e.TxnID, e.Reason)
}

func newAbortError(txnID common.TxnID, reason AbortReason) *TransactionAbortError {
	return &TransactionAbortError{TxnID: txnID, Reason: reason}
}
