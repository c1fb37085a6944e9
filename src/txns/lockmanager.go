package txns

import (
	"sync"

	"github.com/Blackdeer1524/RelDB/src"
	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

type lockRequest struct {
	txnID   common.TxnID
	mode    LockMode
	granted bool
}

// lockRequestQueue keeps requests for one row in insertion order.
//
// refcount counts granted shared holders; waiting is set while an exclusive
// holder is active; upgrading is set while one transaction is mid-upgrade.
// The condition variable shares the manager's latch.
type lockRequestQueue struct {
	requests []*lockRequest
	cv       *sync.Cond

	refcount  uint32
	waiting   bool
	upgrading bool
}

func (q *lockRequestQueue) find(txnID common.TxnID) *lockRequest {
	for _, r := range q.requests {
		if r.txnID == txnID {
			return r
		}
	}
	return nil
}

// remove deletes the transaction's request and returns a copy of it.
func (q *lockRequestQueue) remove(txnID common.TxnID) (lockRequest, bool) {
	for i, r := range q.requests {
		if r.txnID == txnID {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return *r, true
		}
	}
	return lockRequest{}, false
}

// LockManager implements strict request-queue two-phase locking over row
// identifiers with wound-wait deadlock prevention: an older transaction
// aborts any younger granted holder blocking it; a younger one waits.
type LockManager struct {
	latch     sync.Mutex
	lockTable map[common.RID]*lockRequestQueue
	registry  map[common.TxnID]*Transaction

	log src.Logger
}

func NewLockManager(log src.Logger) *LockManager {
	return &LockManager{
		lockTable: map[common.RID]*lockRequestQueue{},
		registry:  map[common.TxnID]*Transaction{},
		log:       log,
	}
}

func (m *LockManager) queue(rid common.RID) *lockRequestQueue {
	q, ok := m.lockTable[rid]
	if !ok {
		q = &lockRequestQueue{cv: sync.NewCond(&m.latch)}
		m.lockTable[rid] = q
	}
	return q
}

func (m *LockManager) abort(txn *Transaction, reason AbortReason) error {
	txn.SetState(TxnAborted)
	m.log.Debugf("transaction %d aborted: %s", txn.ID(), reason)
	return newAbortError(txn.ID(), reason)
}

// LockShared takes a shared lock on rid for txn, blocking while an exclusive
// lock on rid is granted. Ungranted exclusive requests do not block it.
func (m *LockManager) LockShared(txn *Transaction, rid common.RID) error {
	m.latch.Lock()
	defer m.latch.Unlock()

	m.registry[txn.ID()] = txn

	if txn.Isolation() == ReadUncommitted {
		return m.abort(txn, LockSharedOnReadUncommitted)
	}
	if txn.State() == TxnShrinking {
		return m.abort(txn, LockOnShrinking)
	}

	q := m.queue(rid)
	req := &lockRequest{txnID: txn.ID(), mode: LockShared}
	q.requests = append(q.requests, req)

	if q.waiting {
		m.prevent(txn.ID(), q)
		for q.waiting && txn.State() != TxnAborted {
			q.cv.Wait()
		}
	}
	if txn.State() == TxnAborted {
		q.remove(txn.ID())
		return newAbortError(txn.ID(), Deadlock)
	}

	txn.sharedLockSet[rid] = struct{}{}
	q.refcount++
	req.granted = true
	return nil
}

// LockExclusive takes an exclusive lock on rid for txn, blocking while any
// other holder is active.
func (m *LockManager) LockExclusive(txn *Transaction, rid common.RID) error {
	m.latch.Lock()
	defer m.latch.Unlock()

	m.registry[txn.ID()] = txn

	if txn.State() == TxnShrinking {
		return m.abort(txn, LockOnShrinking)
	}

	q := m.queue(rid)
	req := &lockRequest{txnID: txn.ID(), mode: LockExclusive}
	q.requests = append(q.requests, req)

	if q.waiting || q.refcount > 0 {
		m.prevent(txn.ID(), q)
		for (q.waiting || q.refcount > 0) && txn.State() != TxnAborted {
			q.cv.Wait()
		}
	}
	if txn.State() == TxnAborted {
		q.remove(txn.ID())
		return newAbortError(txn.ID(), Deadlock)
	}

	txn.exclusiveLockSet[rid] = struct{}{}
	// Published before the latch drops so a later Prevent sees the grant.
	q.waiting = true
	req.granted = true
	return nil
}

// LockUpgrade converts txn's shared lock on rid into an exclusive one.
// Only one upgrade may be in flight per row.
func (m *LockManager) LockUpgrade(txn *Transaction, rid common.RID) error {
	m.latch.Lock()
	defer m.latch.Unlock()

	if txn.State() == TxnShrinking {
		return m.abort(txn, LockOnShrinking)
	}

	q, ok := m.lockTable[rid]
	assert.Assert(ok, "upgrading a lock on a row with no queue: %v", rid)
	if q.upgrading {
		return m.abort(txn, UpgradeConflict)
	}

	delete(txn.sharedLockSet, rid)
	assert.Assert(q.refcount > 0, "upgrade with no shared holders on %v", rid)
	q.refcount--

	req := q.find(txn.ID())
	assert.Assert(req != nil, "upgrade without an enqueued request on %v", rid)
	req.mode = LockExclusive
	req.granted = false

	if q.waiting || q.refcount > 0 {
		m.prevent(txn.ID(), q)
		q.upgrading = true
		for (q.waiting || q.refcount > 0) && txn.State() != TxnAborted {
			q.cv.Wait()
		}
	}
	if txn.State() == TxnAborted {
		q.remove(txn.ID())
		q.upgrading = false
		return newAbortError(txn.ID(), Deadlock)
	}

	txn.exclusiveLockSet[rid] = struct{}{}
	q.upgrading = false
	q.waiting = true
	req.granted = true
	return nil
}

// Unlock releases txn's lock on rid. Under REPEATABLE_READ any unlock moves
// the transaction to SHRINKING; under READ_COMMITTED releasing a shared lock
// does not.
func (m *LockManager) Unlock(txn *Transaction, rid common.RID) bool {
	m.latch.Lock()
	defer m.latch.Unlock()

	q, ok := m.lockTable[rid]
	if !ok {
		return false
	}

	return m.unlockLocked(txn, rid, q)
}

func (m *LockManager) unlockLocked(txn *Transaction, rid common.RID, q *lockRequestQueue) bool {
	delete(txn.sharedLockSet, rid)
	delete(txn.exclusiveLockSet, rid)

	req, found := q.remove(txn.ID())
	if !found {
		return false
	}

	if !(req.mode == LockShared && txn.Isolation() == ReadCommitted) &&
		txn.State() == TxnGrowing {
		txn.SetState(TxnShrinking)
	}

	// A wounded request had its grant withdrawn by prevent; the queue
	// counters were already adjusted then.
	if !req.granted {
		return true
	}

	if req.mode == LockShared {
		assert.Assert(q.refcount > 0, "shared unlock with refcount 0 on %v", rid)
		q.refcount--
		if q.refcount == 0 {
			q.cv.Broadcast()
		}
	} else {
		q.waiting = false
		q.cv.Broadcast()
	}
	return true
}

// ReleaseAll drops every lock txn still holds without driving the 2PL state
// machine. Called by the transaction manager on commit and abort.
func (m *LockManager) ReleaseAll(txn *Transaction) {
	m.latch.Lock()
	defer m.latch.Unlock()

	for _, set := range []map[common.RID]struct{}{txn.sharedLockSet, txn.exclusiveLockSet} {
		for rid := range set {
			q, ok := m.lockTable[rid]
			if !ok {
				continue
			}
			delete(set, rid)

			req, found := q.remove(txn.ID())
			if !found || !req.granted {
				continue
			}
			if req.mode == LockShared {
				assert.Assert(q.refcount > 0, "shared release with refcount 0 on %v", rid)
				q.refcount--
				if q.refcount == 0 {
					q.cv.Broadcast()
				}
			} else {
				q.waiting = false
				q.cv.Broadcast()
			}
		}
	}

	delete(m.registry, txn.ID())
}

// prevent applies wound-wait: every granted holder younger than the
// requester is aborted and its grant withdrawn. Waiters observe their new
// state on the broadcast.
func (m *LockManager) prevent(requesterID common.TxnID, q *lockRequestQueue) {
	wounded := false
	for _, req := range q.requests {
		if !req.granted || req.txnID <= requesterID {
			continue
		}

		victim, ok := m.registry[req.txnID]
		assert.Assert(ok, "granted holder %d missing from the registry", req.txnID)

		victim.SetState(TxnAborted)
		req.granted = false
		if req.mode == LockShared {
			assert.Assert(q.refcount > 0, "wounding a shared holder with refcount 0")
			q.refcount--
		} else {
			q.waiting = false
		}
		wounded = true
		m.log.Debugf("transaction %d wounded %d", requesterID, req.txnID)
	}

	if wounded {
		q.cv.Broadcast()
	}
}
