package bufferpool

import (
	"container/list"
	"errors"
	"sync"

	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

var ErrNoVictimAvailable = errors.New("no victim available")

// Replacer picks unpinned frames to evict.
type Replacer interface {
	// Victim removes and returns the eviction candidate that has been
	// unpinned the longest. Returns ErrNoVictimAvailable when empty.
	Victim() (common.FrameID, error)
	// Pin removes the frame from the candidate set. No-op if absent.
	Pin(frameID common.FrameID)
	// Unpin adds the frame to the candidate set. No-op if already present.
	Unpin(frameID common.FrameID)
	Size() uint64
}

// LRUReplacer tracks up to capacity unpinned frames in least-recently
// unpinned order. The list head is the next victim.
type LRUReplacer struct {
	mu       sync.Mutex
	capacity uint64
	lruList  *list.List
	lruMap   map[common.FrameID]*list.Element
}

var _ Replacer = (*LRUReplacer)(nil)

func NewLRUReplacer(capacity uint64) *LRUReplacer {
	assert.Assert(capacity > 0, "replacer capacity must be greater than zero")

	return &LRUReplacer{
		capacity: capacity,
		lruList:  list.New(),
		lruMap:   make(map[common.FrameID]*list.Element, capacity),
	}
}

func (r *LRUReplacer) Victim() (common.FrameID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.victim()
}

func (r *LRUReplacer) victim() (common.FrameID, error) {
	front := r.lruList.Front()
	if front == nil {
		return common.InvalidFrameID, ErrNoVictimAvailable
	}

	frameID := r.lruList.Remove(front).(common.FrameID)
	delete(r.lruMap, frameID)
	return frameID, nil
}

func (r *LRUReplacer) Pin(frameID common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.lruMap[frameID]
	if !ok {
		return
	}

	r.lruList.Remove(elem)
	delete(r.lruMap, frameID)
}

func (r *LRUReplacer) Unpin(frameID common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lruMap[frameID]; ok {
		return
	}

	r.lruMap[frameID] = r.lruList.PushBack(frameID)
	if uint64(r.lruList.Len()) > r.capacity {
		// The pool never unpins more frames than it owns.
		_, err := r.victim()
		assert.Assert(err == nil, "overflowing replacer must have a victim")
	}
}

func (r *LRUReplacer) Size() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return uint64(r.lruList.Len())
}
