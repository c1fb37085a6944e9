package txns

import (
	"sync"
	"sync/atomic"

	"github.com/Blackdeer1524/RelDB/src"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

// Manager hands out monotonically increasing transaction IDs and drives
// commit/abort, releasing the transaction's row locks either way.
type Manager struct {
	nextTxnID atomic.Uint64

	mu     sync.Mutex
	active map[common.TxnID]*Transaction

	lockManager *LockManager
	log         src.Logger
}

func NewTxnManager(lockManager *LockManager, log src.Logger) *Manager {
	return &Manager{
		active:      map[common.TxnID]*Transaction{},
		lockManager: lockManager,
		log:         log,
	}
}

// Begin starts a transaction. Smaller IDs are older, which is what the lock
// manager's wound-wait policy keys on.
func (m *Manager) Begin(isolation IsolationLevel) *Transaction {
	id := common.TxnID(m.nextTxnID.Add(1))
	txn := NewTransaction(id, isolation)

	m.mu.Lock()
	m.active[id] = txn
	m.mu.Unlock()

	m.log.Debugf("transaction %d began (%s)", id, isolation)
	return txn
}

func (m *Manager) Commit(txn *Transaction) {
	txn.SetState(TxnCommitted)
	m.lockManager.ReleaseAll(txn)
	m.finish(txn)
	m.log.Debugf("transaction %d committed", txn.ID())
}

func (m *Manager) Abort(txn *Transaction) {
	txn.SetState(TxnAborted)
	m.lockManager.ReleaseAll(txn)
	m.finish(txn)
	m.log.Debugf("transaction %d aborted", txn.ID())
}

func (m *Manager) finish(txn *Transaction) {
	m.mu.Lock()
	delete(m.active, txn.ID())
	m.mu.Unlock()
}

// ActiveCount reports how many transactions have begun and not yet finished.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.active)
}
