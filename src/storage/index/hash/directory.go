package hash

import (
	"encoding/binary"

	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

// Persisted directory layout:
//
//	[0:4)      page id (self, int32)
//	[4:8)      global depth (uint32)
//	[8:520)    512 local depth bytes
//	[520:2568) 512 bucket page ids (int32 each)
const (
	DirectorySize  = 512
	MaxGlobalDepth = 9

	dirPageIDOffset      = 0
	dirGlobalDepthOffset = 4
	dirLocalDepthsOffset = 8
	dirBucketIDsOffset   = dirLocalDepthsOffset + DirectorySize
)

// Directory is an in-place view over a pinned directory page's bytes.
// The table latch serializes all access; the view holds no state of its own.
type Directory struct {
	data []byte
}

func NewDirectory(data []byte) *Directory {
	assert.Assert(len(data) == common.PageSize, "directory view needs a full page, got %d bytes", len(data))
	return &Directory{data: data}
}

func (d *Directory) PageID() common.PageID {
	return common.PageID(int32(binary.LittleEndian.Uint32(d.data[dirPageIDOffset:])))
}

func (d *Directory) SetPageID(id common.PageID) {
	binary.LittleEndian.PutUint32(d.data[dirPageIDOffset:], uint32(id))
}

func (d *Directory) GetGlobalDepth() uint32 {
	return binary.LittleEndian.Uint32(d.data[dirGlobalDepthOffset:])
}

func (d *Directory) setGlobalDepth(depth uint32) {
	assert.Assert(depth <= MaxGlobalDepth, "global depth %d exceeds maximum %d", depth, MaxGlobalDepth)
	binary.LittleEndian.PutUint32(d.data[dirGlobalDepthOffset:], depth)
}

func (d *Directory) IncrGlobalDepth() { d.setGlobalDepth(d.GetGlobalDepth() + 1) }

func (d *Directory) DecrGlobalDepth() {
	depth := d.GetGlobalDepth()
	assert.Assert(depth > 0, "cannot shrink a depth-0 directory")
	d.setGlobalDepth(depth - 1)
}

func (d *Directory) GetGlobalDepthMask() uint32 {
	return (1 << d.GetGlobalDepth()) - 1
}

func (d *Directory) GetLocalDepth(idx uint32) uint32 {
	assert.Assert(idx < DirectorySize, "directory index %d out of range", idx)
	return uint32(d.data[dirLocalDepthsOffset+idx])
}

func (d *Directory) SetLocalDepth(idx uint32, depth uint32) {
	assert.Assert(idx < DirectorySize, "directory index %d out of range", idx)
	assert.Assert(depth <= MaxGlobalDepth, "local depth %d exceeds maximum %d", depth, MaxGlobalDepth)
	d.data[dirLocalDepthsOffset+idx] = byte(depth)
}

func (d *Directory) IncrLocalDepth(idx uint32) { d.SetLocalDepth(idx, d.GetLocalDepth(idx)+1) }

func (d *Directory) DecrLocalDepth(idx uint32) {
	depth := d.GetLocalDepth(idx)
	assert.Assert(depth > 0, "cannot decrement local depth 0 at index %d", idx)
	d.SetLocalDepth(idx, depth-1)
}

func (d *Directory) GetLocalDepthMask(idx uint32) uint32 {
	return (1 << d.GetLocalDepth(idx)) - 1
}

func (d *Directory) GetBucketPageID(idx uint32) common.PageID {
	assert.Assert(idx < DirectorySize, "directory index %d out of range", idx)
	raw := binary.LittleEndian.Uint32(d.data[dirBucketIDsOffset+4*idx:])
	return common.PageID(int32(raw))
}

func (d *Directory) SetBucketPageID(idx uint32, pageID common.PageID) {
	assert.Assert(idx < DirectorySize, "directory index %d out of range", idx)
	binary.LittleEndian.PutUint32(d.data[dirBucketIDsOffset+4*idx:], uint32(pageID))
}

// Size is the number of live directory entries, 1 << globalDepth.
func (d *Directory) Size() uint32 {
	return 1 << d.GetGlobalDepth()
}

// GetSplitImageIndex returns the entry this bucket split from (or would
// merge with): the index with the highest local bit flipped.
func (d *Directory) GetSplitImageIndex(idx uint32) uint32 {
	localDepth := d.GetLocalDepth(idx)
	assert.Assert(localDepth > 0, "split image undefined at local depth 0 (index %d)", idx)
	return idx ^ (1 << (localDepth - 1))
}

// GetLocalHighBits masks idx down to the bits its bucket actually uses.
func (d *Directory) GetLocalHighBits(idx uint32) uint32 {
	return idx & d.GetLocalDepthMask(idx)
}

// CanShrink reports whether halving the directory would strand no bucket.
func (d *Directory) CanShrink() bool {
	if d.GetGlobalDepth() == 0 {
		return false
	}
	for i := uint32(0); i < d.Size(); i++ {
		if d.GetLocalDepth(i) >= d.GetGlobalDepth() {
			return false
		}
	}
	return true
}

// Grow doubles the directory: entries [0, Size) are mirrored into
// [Size, 2*Size) and the global depth increments.
func (d *Directory) Grow() {
	size := d.Size()
	assert.Assert(2*size <= DirectorySize, "directory cannot grow past %d entries", DirectorySize)

	for i := uint32(0); i < size; i++ {
		d.SetBucketPageID(size+i, d.GetBucketPageID(i))
		d.SetLocalDepth(size+i, d.GetLocalDepth(i))
	}
	d.IncrGlobalDepth()
}

// Shrink halves the directory.
func (d *Directory) Shrink() {
	d.DecrGlobalDepth()
}

// VerifyIntegrity asserts the split-image invariants: every local depth is
// bounded by the global depth, every entry whose low localDepth bits agree
// points at the same bucket with the same depth, and each bucket page is
// referenced by exactly 2^(globalDepth-localDepth) entries.
func (d *Directory) VerifyIntegrity() {
	globalDepth := d.GetGlobalDepth()
	refCounts := map[common.PageID]uint32{}
	pageDepths := map[common.PageID]uint32{}

	for i := uint32(0); i < d.Size(); i++ {
		localDepth := d.GetLocalDepth(i)
		assert.Assert(
			localDepth <= globalDepth,
			"local depth %d at index %d exceeds global depth %d",
			localDepth, i, globalDepth,
		)

		pageID := d.GetBucketPageID(i)
		refCounts[pageID]++

		low := i & d.GetLocalDepthMask(i)
		assert.Assert(
			d.GetBucketPageID(low) == pageID,
			"indices %d and %d share their low %d bits but point at pages %d and %d",
			i, low, localDepth, pageID, d.GetBucketPageID(low),
		)

		if seen, ok := pageDepths[pageID]; ok {
			assert.Assert(
				seen == localDepth,
				"bucket page %d has conflicting local depths %d and %d",
				pageID, seen, localDepth,
			)
		} else {
			pageDepths[pageID] = localDepth
		}
	}

	for pageID, count := range refCounts {
		expected := uint32(1) << (globalDepth - pageDepths[pageID])
		assert.Assert(
			count == expected,
			"bucket page %d referenced by %d entries, want %d",
			pageID, count, expected,
		)
	}
}
