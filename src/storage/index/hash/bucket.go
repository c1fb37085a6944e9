package hash

import (
	"encoding/binary"

	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

// Persisted bucket layout for (uint64 key, RID value) entries:
//
//	[0:32)    occupied bitmap
//	[32:64)   readable bitmap
//	[64:4096) 252 entries of 16 bytes: key, value page id, value slot, pad
//
// A slot once occupied stays occupied; Remove only clears the readable bit.
// Iteration therefore stops at the first never-occupied slot.
const (
	// BucketCapacity is the largest B with 2*ceil(B/8) + 16*B <= PageSize.
	BucketCapacity = 252

	bucketBitmapBytes    = (BucketCapacity + 7) / 8
	bucketOccupiedOffset = 0
	bucketReadableOffset = bucketBitmapBytes
	bucketEntriesOffset  = 2 * bucketBitmapBytes
	bucketEntrySize      = 16
)

// KeyComparator orders bucket keys; returns 0 on equality.
type KeyComparator func(a, b uint64) int

func CompareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Bucket is an in-place view over a pinned bucket page's bytes.
type Bucket struct {
	data []byte
}

func NewBucket(data []byte) *Bucket {
	assert.Assert(len(data) == common.PageSize, "bucket view needs a full page, got %d bytes", len(data))
	return &Bucket{data: data}
}

func (b *Bucket) IsOccupied(idx uint32) bool {
	if idx >= BucketCapacity {
		return false
	}
	return b.data[bucketOccupiedOffset+idx/8]>>(idx%8)&1 == 1
}

func (b *Bucket) setOccupied(idx uint32) {
	b.data[bucketOccupiedOffset+idx/8] |= 1 << (idx % 8)
}

func (b *Bucket) IsReadable(idx uint32) bool {
	if idx >= BucketCapacity || !b.IsOccupied(idx) {
		return false
	}
	return b.data[bucketReadableOffset+idx/8]>>(idx%8)&1 == 1
}

func (b *Bucket) setReadable(idx uint32) {
	b.data[bucketReadableOffset+idx/8] |= 1 << (idx % 8)
}

func (b *Bucket) unsetReadable(idx uint32) {
	b.data[bucketReadableOffset+idx/8] &^= 1 << (idx % 8)
}

func (b *Bucket) KeyAt(idx uint32) uint64 {
	return binary.LittleEndian.Uint64(b.data[bucketEntriesOffset+idx*bucketEntrySize:])
}

func (b *Bucket) ValueAt(idx uint32) common.RID {
	off := bucketEntriesOffset + idx*bucketEntrySize + 8
	return common.RID{
		PageID:  common.PageID(int32(binary.LittleEndian.Uint32(b.data[off:]))),
		SlotNum: binary.LittleEndian.Uint16(b.data[off+4:]),
	}
}

func (b *Bucket) setEntry(idx uint32, key uint64, value common.RID) {
	off := bucketEntriesOffset + idx*bucketEntrySize
	binary.LittleEndian.PutUint64(b.data[off:], key)
	binary.LittleEndian.PutUint32(b.data[off+8:], uint32(value.PageID))
	binary.LittleEndian.PutUint16(b.data[off+12:], value.SlotNum)
	binary.LittleEndian.PutUint16(b.data[off+14:], 0)
}

// GetValue appends every live value stored under key to result and reports
// whether anything matched.
func (b *Bucket) GetValue(key uint64, cmp KeyComparator, result *[]common.RID) bool {
	found := false
	for i := uint32(0); i < BucketCapacity && b.IsOccupied(i); i++ {
		if b.IsReadable(i) && cmp(b.KeyAt(i), key) == 0 {
			*result = append(*result, b.ValueAt(i))
			found = true
		}
	}
	return found
}

// Insert places (key, value) in the first free slot: a tombstone if one
// exists, the first never-occupied slot otherwise. Returns false when the
// exact pair is already present or no free slot remains. Reusing tombstones
// keeps occupied monotone while letting a split-drained bucket fill again.
func (b *Bucket) Insert(key uint64, value common.RID, cmp KeyComparator) bool {
	free := uint32(BucketCapacity)

	var i uint32
	for ; i < BucketCapacity && b.IsOccupied(i); i++ {
		if !b.IsReadable(i) {
			if free == BucketCapacity {
				free = i
			}
			continue
		}
		if cmp(b.KeyAt(i), key) == 0 && b.ValueAt(i) == value {
			return false
		}
	}
	if free == BucketCapacity {
		free = i
	}
	if free == BucketCapacity {
		return false
	}

	b.setEntry(free, key, value)
	b.setOccupied(free)
	b.setReadable(free)
	return true
}

// Remove tombstones the matching slot: occupied stays set so iteration
// order is preserved.
func (b *Bucket) Remove(key uint64, value common.RID, cmp KeyComparator) bool {
	for i := uint32(0); i < BucketCapacity && b.IsOccupied(i); i++ {
		if b.IsReadable(i) && cmp(b.KeyAt(i), key) == 0 && b.ValueAt(i) == value {
			b.unsetReadable(i)
			return true
		}
	}
	return false
}

func (b *Bucket) RemoveAt(idx uint32) {
	if !b.IsReadable(idx) {
		return
	}
	b.unsetReadable(idx)
}

func (b *Bucket) NumReadable() uint32 {
	var cnt uint32
	for i := uint32(0); i < BucketCapacity && b.IsOccupied(i); i++ {
		if b.IsReadable(i) {
			cnt++
		}
	}
	return cnt
}

func (b *Bucket) IsFull() bool {
	return b.NumReadable() == BucketCapacity
}

func (b *Bucket) IsEmpty() bool {
	return b.NumReadable() == 0
}
