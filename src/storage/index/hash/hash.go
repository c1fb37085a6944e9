package hash

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/Blackdeer1524/RelDB/src/pkg/assert"

	"github.com/Blackdeer1524/RelDB/src"
	"github.com/Blackdeer1524/RelDB/src/bufferpool"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

// Table is a disk-backed extendible hash index mapping uint64 keys to RIDs.
// Directory and bucket pages live in the buffer pool and are pinned only for
// the duration of each operation. A single table-level reader/writer latch
// serializes structural change; lookups take the read side.
type Table struct {
	latch sync.RWMutex

	pool            bufferpool.BufferPool
	directoryPageID common.PageID
	cmp             KeyComparator

	log src.Logger
}

// hashKey downcasts FNV-1a over the key's little-endian bytes to the 32 bits
// the directory indexes with.
func hashKey(key uint64) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)

	h := fnv.New32a()
	h.Write(buf[:])
	return h.Sum32()
}

// NewTable creates the index: one directory page and two depth-1 buckets.
func NewTable(pool bufferpool.BufferPool, cmp KeyComparator, log src.Logger) (*Table, error) {
	dirPage, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate directory page: %w", err)
	}
	dirGuard := bufferpool.NewGuard(pool, dirPage)
	defer dirGuard.Release(true)

	bucket0, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate bucket page: %w", err)
	}
	bucket0ID := bucket0.ID()
	pool.UnpinPage(bucket0ID, false)

	bucket1, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate bucket page: %w", err)
	}
	bucket1ID := bucket1.ID()
	pool.UnpinPage(bucket1ID, false)

	dir := NewDirectory(dirPage.Data())
	dir.SetPageID(dirPage.ID())
	dir.SetBucketPageID(0, bucket0ID)
	dir.SetLocalDepth(0, 1)
	dir.SetBucketPageID(1, bucket1ID)
	dir.SetLocalDepth(1, 1)
	dir.IncrGlobalDepth()

	return &Table{
		pool:            pool,
		directoryPageID: dirPage.ID(),
		cmp:             cmp,
		log:             log,
	}, nil
}

// OpenTable attaches to an index whose directory page already exists.
func OpenTable(
	pool bufferpool.BufferPool,
	directoryPageID common.PageID,
	cmp KeyComparator,
	log src.Logger,
) *Table {
	return &Table{
		pool:            pool,
		directoryPageID: directoryPageID,
		cmp:             cmp,
		log:             log,
	}
}

func (t *Table) DirectoryPageID() common.PageID { return t.directoryPageID }

func (t *Table) fetchDirectory() (*bufferpool.PageGuard, *Directory, error) {
	pg, err := t.pool.FetchPage(t.directoryPageID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch directory page %d: %w", t.directoryPageID, err)
	}
	return bufferpool.NewGuard(t.pool, pg), NewDirectory(pg.Data()), nil
}

func (t *Table) fetchBucket(pageID common.PageID) (*bufferpool.PageGuard, *Bucket, error) {
	pg, err := t.pool.FetchPage(pageID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch bucket page %d: %w", pageID, err)
	}
	return bufferpool.NewGuard(t.pool, pg), NewBucket(pg.Data()), nil
}

// GetValue returns every value stored under key.
func (t *Table) GetValue(key uint64) ([]common.RID, error) {
	t.latch.RLock()
	defer t.latch.RUnlock()

	dirGuard, dir, err := t.fetchDirectory()
	if err != nil {
		return nil, err
	}
	defer dirGuard.Release(false)

	idx := hashKey(key) & dir.GetGlobalDepthMask()
	bucketGuard, bucket, err := t.fetchBucket(dir.GetBucketPageID(idx))
	if err != nil {
		return nil, err
	}
	defer bucketGuard.Release(false)

	var result []common.RID
	bucket.GetValue(key, t.cmp, &result)
	return result, nil
}

// Insert adds (key, value). Returns false when the exact pair is already
// present. A full bucket triggers a split (growing the directory if the
// bucket's local depth has caught up with the global depth).
func (t *Table) Insert(key uint64, value common.RID) (bool, error) {
	t.latch.Lock()
	defer t.latch.Unlock()

	dirGuard, dir, err := t.fetchDirectory()
	if err != nil {
		return false, err
	}

	idx := hashKey(key) & dir.GetGlobalDepthMask()
	bucketGuard, bucket, err := t.fetchBucket(dir.GetBucketPageID(idx))
	if err != nil {
		dirGuard.Release(false)
		return false, err
	}

	if !bucket.IsFull() {
		inserted := bucket.Insert(key, value, t.cmp)
		bucketGuard.Release(inserted)
		dirGuard.Release(false)
		return inserted, nil
	}

	bucketGuard.Release(false)
	return t.splitInsert(dirGuard, dir, key, value)
}

// splitInsert keeps splitting the target bucket until the pair fits.
// Takes ownership of the directory guard.
func (t *Table) splitInsert(
	dirGuard *bufferpool.PageGuard,
	dir *Directory,
	key uint64,
	value common.RID,
) (bool, error) {
	dirDirty := false
	defer func() { dirGuard.Release(dirDirty) }()

	for {
		idx := hashKey(key) & dir.GetGlobalDepthMask()
		bucketPageID := dir.GetBucketPageID(idx)
		bucketGuard, bucket, err := t.fetchBucket(bucketPageID)
		if err != nil {
			return false, err
		}

		if !bucket.IsFull() {
			inserted := bucket.Insert(key, value, t.cmp)
			bucketGuard.Release(inserted)
			return inserted, nil
		}

		if dir.GetLocalDepth(idx) >= dir.GetGlobalDepth() {
			dir.Grow()
		}
		dirDirty = true

		newDepth := dir.GetLocalDepth(idx) + 1
		newMask := uint32(1)<<newDepth - 1

		imagePage, err := t.pool.NewPage()
		if err != nil {
			bucketGuard.Release(false)
			return false, fmt.Errorf("failed to allocate split bucket: %w", err)
		}
		imageGuard := bufferpool.NewGuard(t.pool, imagePage)
		image := NewBucket(imagePage.Data())

		dir.SetLocalDepth(idx, newDepth)
		imageIdx := dir.GetSplitImageIndex(idx)
		dir.SetBucketPageID(imageIdx, imagePage.ID())
		dir.SetLocalDepth(imageIdx, newDepth)

		// Re-point every other entry of the old bucket: the half matching
		// the image's low bits moves over, the rest stays at the new depth.
		imageBits := imageIdx & newMask
		for k := uint32(0); k < dir.Size(); k++ {
			if k == idx || k == imageIdx || dir.GetBucketPageID(k) != bucketPageID {
				continue
			}
			if k&newMask == imageBits {
				dir.SetBucketPageID(k, imagePage.ID())
			}
			dir.SetLocalDepth(k, newDepth)
		}

		// Rehash the old bucket's live entries into the image.
		moved := 0
		for i := uint32(0); i < BucketCapacity && bucket.IsOccupied(i); i++ {
			if !bucket.IsReadable(i) {
				continue
			}
			if hashKey(bucket.KeyAt(i))&newMask == imageBits {
				ok := image.Insert(bucket.KeyAt(i), bucket.ValueAt(i), t.cmp)
				assert.Assert(ok, "fresh split bucket page %d rejected a migrated entry", imagePage.ID())
				bucket.RemoveAt(i)
				moved++
			}
		}

		t.log.Debugf(
			"split bucket page %d at depth %d, moved %d entries to page %d",
			bucketPageID, newDepth, moved, imagePage.ID(),
		)

		imageGuard.Release(true)
		bucketGuard.Release(moved > 0)
	}
}

// Remove deletes (key, value). An emptied bucket triggers a merge pass.
func (t *Table) Remove(key uint64, value common.RID) (bool, error) {
	t.latch.Lock()
	defer t.latch.Unlock()

	dirGuard, dir, err := t.fetchDirectory()
	if err != nil {
		return false, err
	}

	idx := hashKey(key) & dir.GetGlobalDepthMask()
	bucketGuard, bucket, err := t.fetchBucket(dir.GetBucketPageID(idx))
	if err != nil {
		dirGuard.Release(false)
		return false, err
	}

	removed := bucket.Remove(key, value, t.cmp)
	emptied := removed && bucket.IsEmpty()
	bucketGuard.Release(removed)

	if !emptied {
		dirGuard.Release(false)
		return removed, nil
	}

	err = t.merge(dirGuard, dir)
	return removed, err
}

// merge folds empty buckets into their split images, halving the directory
// whenever possible. Passes repeat until one changes nothing.
func (t *Table) merge(dirGuard *bufferpool.PageGuard, dir *Directory) error {
	dirDirty := false
	defer func() { dirGuard.Release(dirDirty) }()

	for changed := true; changed; {
		changed = false

		for idx := uint32(0); idx < dir.Size(); idx++ {
			localDepth := dir.GetLocalDepth(idx)
			if localDepth == 0 {
				continue
			}

			imageIdx := dir.GetSplitImageIndex(idx)
			if dir.GetLocalDepth(imageIdx) != localDepth {
				continue
			}

			bucketPageID := dir.GetBucketPageID(idx)
			imagePageID := dir.GetBucketPageID(imageIdx)
			if bucketPageID == imagePageID {
				continue
			}

			bucketGuard, bucket, err := t.fetchBucket(bucketPageID)
			if err != nil {
				return err
			}
			empty := bucket.IsEmpty()
			bucketGuard.Release(false)
			if !empty {
				continue
			}

			dir.SetBucketPageID(idx, imagePageID)
			dir.DecrLocalDepth(idx)
			dir.DecrLocalDepth(imageIdx)
			for k := uint32(0); k < dir.Size(); k++ {
				if k == idx || k == imageIdx {
					continue
				}
				if pid := dir.GetBucketPageID(k); pid == bucketPageID || pid == imagePageID {
					dir.SetBucketPageID(k, imagePageID)
					dir.SetLocalDepth(k, dir.GetLocalDepth(idx))
				}
			}

			if !t.pool.DeletePage(bucketPageID) {
				t.log.Debugf("merged bucket page %d still pinned, left to the replacer", bucketPageID)
			}

			dirDirty = true
			changed = true
		}

		if dir.CanShrink() {
			dir.Shrink()
			dirDirty = true
			changed = true
		}
	}

	return nil
}

// GetGlobalDepth reads the directory's global depth.
func (t *Table) GetGlobalDepth() (uint32, error) {
	t.latch.RLock()
	defer t.latch.RUnlock()

	dirGuard, dir, err := t.fetchDirectory()
	if err != nil {
		return 0, err
	}
	defer dirGuard.Release(false)

	return dir.GetGlobalDepth(), nil
}

// VerifyIntegrity asserts the directory's split-image invariants. A failure
// is a programming bug and panics.
func (t *Table) VerifyIntegrity() error {
	t.latch.RLock()
	defer t.latch.RUnlock()

	dirGuard, dir, err := t.fetchDirectory()
	if err != nil {
		return err
	}
	defer dirGuard.Release(false)

	dir.VerifyIntegrity()
	return nil
}
