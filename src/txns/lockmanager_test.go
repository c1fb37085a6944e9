package txns

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RelDB/src"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

func newTestLockManager() *LockManager {
	return NewLockManager(src.NewNopLogger())
}

func abortReason(t *testing.T, err error) AbortReason {
	t.Helper()

	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	return abortErr.Reason
}

func TestLockSharedOnReadUncommitted(t *testing.T) {
	m := newTestLockManager()
	txn := NewTransaction(1, ReadUncommitted)

	err := m.LockShared(txn, common.RID{PageID: 1})
	require.Error(t, err)
	assert.Equal(t, LockSharedOnReadUncommitted, abortReason(t, err))
	assert.Equal(t, TxnAborted, txn.State())
}

func TestTwoPhaseLocking(t *testing.T) {
	m := newTestLockManager()
	txn := NewTransaction(1, RepeatableRead)

	r1 := common.RID{PageID: 1}
	r2 := common.RID{PageID: 2}
	r3 := common.RID{PageID: 3}

	require.NoError(t, m.LockShared(txn, r1))
	require.NoError(t, m.LockExclusive(txn, r2))
	assert.Equal(t, TxnGrowing, txn.State())

	require.True(t, m.Unlock(txn, r1))
	assert.Equal(t, TxnShrinking, txn.State())

	err := m.LockShared(txn, r3)
	require.Error(t, err)
	assert.Equal(t, LockOnShrinking, abortReason(t, err))
	assert.Equal(t, TxnAborted, txn.State())
}

func TestReadCommittedSharedUnlockKeepsGrowing(t *testing.T) {
	m := newTestLockManager()
	txn := NewTransaction(1, ReadCommitted)

	r1 := common.RID{PageID: 1}
	r2 := common.RID{PageID: 2}

	require.NoError(t, m.LockShared(txn, r1))
	require.True(t, m.Unlock(txn, r1))
	assert.Equal(t, TxnGrowing, txn.State(), "shared unlock under READ_COMMITTED stays GROWING")

	require.NoError(t, m.LockExclusive(txn, r2))
	require.True(t, m.Unlock(txn, r2))
	assert.Equal(t, TxnShrinking, txn.State(), "exclusive unlock always shrinks")
}

func TestSharedLocksAreCompatible(t *testing.T) {
	m := newTestLockManager()
	rid := common.RID{PageID: 1}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()

			txn := NewTransaction(common.TxnID(id), RepeatableRead)
			assert.NoError(t, m.LockShared(txn, rid))
			assert.True(t, txn.IsSharedLocked(rid))
			assert.True(t, m.Unlock(txn, rid))
		}(uint64(i + 1))
	}
	wg.Wait()
}

func TestExclusiveBlocksUntilSharedReleased(t *testing.T) {
	m := newTestLockManager()
	rid := common.RID{PageID: 1}

	older := NewTransaction(1, RepeatableRead)
	// Younger than the holder, so wound-wait makes it wait, not wound.
	waiter := NewTransaction(2, RepeatableRead)

	require.NoError(t, m.LockShared(older, rid))

	acquired := make(chan struct{})
	go func() {
		if err := m.LockExclusive(waiter, rid); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("exclusive lock granted while a shared lock is held")
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, m.Unlock(older, rid))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("exclusive lock never granted after the shared release")
	}
	assert.True(t, waiter.IsExclusiveLocked(rid))
}

func TestWoundWaitAbortsYoungerHolder(t *testing.T) {
	m := newTestLockManager()
	rid := common.RID{PageID: 1}

	tOld := NewTransaction(2, RepeatableRead)
	tYoung := NewTransaction(3, RepeatableRead)
	tOldest := NewTransaction(1, RepeatableRead)

	require.NoError(t, m.LockShared(tOld, rid))

	youngDone := make(chan error, 1)
	go func() {
		// Younger than tOld: enqueues and waits behind the shared holder.
		youngDone <- m.LockExclusive(tYoung, rid)
	}()

	// Let tYoung reach its wait.
	time.Sleep(50 * time.Millisecond)

	oldestDone := make(chan error, 1)
	go func() {
		oldestDone <- m.LockExclusive(tOldest, rid)
	}()

	// The only granted holder is tOld (id 2), younger than tOldest (id 1):
	// prevent wounds it and withdraws its grant, so tOldest proceeds.
	require.NoError(t, <-oldestDone)
	assert.True(t, tOldest.IsExclusiveLocked(rid))
	assert.Equal(t, TxnAborted, tOld.State(), "older requester wounds the younger shared holder")

	// tYoung was never wounded; it waits its turn behind tOldest.
	require.True(t, m.Unlock(tOldest, rid))
	require.NoError(t, <-youngDone)
	assert.True(t, tYoung.IsExclusiveLocked(rid))
	require.True(t, m.Unlock(tYoung, rid))

	m.ReleaseAll(tOld)
}

func TestUpgradeConflict(t *testing.T) {
	m := newTestLockManager()
	rid := common.RID{PageID: 1}

	// The upgrader is the younger transaction so its prevent pass has no
	// younger granted holder to wound; it genuinely waits.
	t1 := NewTransaction(2, RepeatableRead)
	t2 := NewTransaction(1, RepeatableRead)

	require.NoError(t, m.LockShared(t1, rid))
	require.NoError(t, m.LockShared(t2, rid))

	upgraded := make(chan error, 1)
	go func() {
		upgraded <- m.LockUpgrade(t1, rid)
	}()

	// Wait until t1 is mid-upgrade (blocked on t2's shared lock).
	require.Eventually(t, func() bool {
		m.latch.Lock()
		defer m.latch.Unlock()
		return m.lockTable[rid].upgrading
	}, time.Second, 5*time.Millisecond)

	err := m.LockUpgrade(t2, rid)
	require.Error(t, err)
	assert.Equal(t, UpgradeConflict, abortReason(t, err))
	assert.Equal(t, TxnAborted, t2.State())

	// t2's abort releases nothing automatically; drop its share so t1
	// finishes the upgrade.
	m.ReleaseAll(t2)

	require.NoError(t, <-upgraded)
	assert.True(t, t1.IsExclusiveLocked(rid))
	assert.False(t, t1.IsSharedLocked(rid))
}

func TestUpgradeUncontended(t *testing.T) {
	m := newTestLockManager()
	rid := common.RID{PageID: 1}

	txn := NewTransaction(1, RepeatableRead)
	require.NoError(t, m.LockShared(txn, rid))
	require.NoError(t, m.LockUpgrade(txn, rid))

	assert.True(t, txn.IsExclusiveLocked(rid))
	assert.False(t, txn.IsSharedLocked(rid))

	require.True(t, m.Unlock(txn, rid))
	assert.Equal(t, TxnShrinking, txn.State())
}

func TestExclusiveOnShrinking(t *testing.T) {
	m := newTestLockManager()

	txn := NewTransaction(1, RepeatableRead)
	r1 := common.RID{PageID: 1}

	require.NoError(t, m.LockExclusive(txn, r1))
	require.True(t, m.Unlock(txn, r1))
	require.Equal(t, TxnShrinking, txn.State())

	err := m.LockExclusive(txn, common.RID{PageID: 2})
	require.Error(t, err)
	assert.Equal(t, LockOnShrinking, abortReason(t, err))
}

func TestReleaseAllWakesWaiters(t *testing.T) {
	m := newTestLockManager()
	rid := common.RID{PageID: 1}

	holder := NewTransaction(2, RepeatableRead)
	require.NoError(t, m.LockExclusive(holder, rid))

	done := make(chan error, 1)
	waiter := NewTransaction(3, RepeatableRead)
	go func() {
		done <- m.LockShared(waiter, rid)
	}()

	time.Sleep(50 * time.Millisecond)
	m.ReleaseAll(holder)

	require.NoError(t, <-done)
	assert.True(t, waiter.IsSharedLocked(rid))
}
