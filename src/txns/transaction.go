package txns

import (
	"sync/atomic"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

// Transaction carries the 2PL state machine and the row lock sets.
//
// The state is read and written across threads (wound-wait aborts a victim
// from the wounding thread), hence atomic. The lock sets are owned by the
// lock manager and must only be touched under its latch.
type Transaction struct {
	id        common.TxnID
	isolation IsolationLevel
	state     atomic.Uint32

	sharedLockSet    map[common.RID]struct{}
	exclusiveLockSet map[common.RID]struct{}
}

func NewTransaction(id common.TxnID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:               id,
		isolation:        isolation,
		sharedLockSet:    map[common.RID]struct{}{},
		exclusiveLockSet: map[common.RID]struct{}{},
	}
}

func (t *Transaction) ID() common.TxnID { return t.id }

func (t *Transaction) Isolation() IsolationLevel { return t.isolation }

func (t *Transaction) State() TxnState { return TxnState(t.state.Load()) }

func (t *Transaction) SetState(s TxnState) { t.state.Store(uint32(s)) }

// IsSharedLocked reports whether the transaction holds a shared lock on rid.
// Caller must hold the lock manager latch.
func (t *Transaction) IsSharedLocked(rid common.RID) bool {
	_, ok := t.sharedLockSet[rid]
	return ok
}

// IsExclusiveLocked reports whether the transaction holds an exclusive lock
// on rid. Caller must hold the lock manager latch.
func (t *Transaction) IsExclusiveLocked(rid common.RID) bool {
	_, ok := t.exclusiveLockSet[rid]
	return ok
}
