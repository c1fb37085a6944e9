package bufferpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

func TestLRUReplacerVictimOrder(t *testing.T) {
	r := NewLRUReplacer(7)

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	require.Equal(t, uint64(3), r.Size())

	// Oldest-first.
	victim, err := r.Victim()
	require.NoError(t, err)
	assert.Equal(t, common.FrameID(1), victim)

	victim, err = r.Victim()
	require.NoError(t, err)
	assert.Equal(t, common.FrameID(2), victim)

	victim, err = r.Victim()
	require.NoError(t, err)
	assert.Equal(t, common.FrameID(3), victim)

	_, err = r.Victim()
	assert.ErrorIs(t, err, ErrNoVictimAvailable)
	assert.Equal(t, uint64(0), r.Size())
}

func TestLRUReplacerPinRemovesCandidate(t *testing.T) {
	r := NewLRUReplacer(7)

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	r.Pin(2)
	assert.Equal(t, uint64(2), r.Size())

	// Pinning a frame that is not a candidate is a no-op.
	r.Pin(42)
	assert.Equal(t, uint64(2), r.Size())

	victim, err := r.Victim()
	require.NoError(t, err)
	assert.Equal(t, common.FrameID(1), victim)

	victim, err = r.Victim()
	require.NoError(t, err)
	assert.Equal(t, common.FrameID(3), victim)
}

func TestLRUReplacerUnpinAlreadyPresent(t *testing.T) {
	r := NewLRUReplacer(7)

	r.Unpin(1)
	r.Unpin(2)

	// A second unpin must NOT refresh the frame's position.
	r.Unpin(1)
	require.Equal(t, uint64(2), r.Size())

	victim, err := r.Victim()
	require.NoError(t, err)
	assert.Equal(t, common.FrameID(1), victim)
}

func TestLRUReplacerCapacityOverflowEvictsHead(t *testing.T) {
	r := NewLRUReplacer(2)

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	assert.Equal(t, uint64(2), r.Size())

	victim, err := r.Victim()
	require.NoError(t, err)
	assert.Equal(t, common.FrameID(2), victim)
}

func TestLRUReplacerConcurrentChurn(t *testing.T) {
	const frames = 64

	r := NewLRUReplacer(frames)

	var wg sync.WaitGroup
	for i := range frames {
		wg.Add(1)
		go func(id common.FrameID) {
			defer wg.Done()

			for range 100 {
				r.Unpin(id)
				r.Pin(id)
			}
			r.Unpin(id)
		}(common.FrameID(i))
	}
	wg.Wait()

	assert.Equal(t, uint64(frames), r.Size())

	seen := map[common.FrameID]struct{}{}
	for range frames {
		victim, err := r.Victim()
		require.NoError(t, err)
		_, dup := seen[victim]
		require.False(t, dup, "frame %d returned twice", victim)
		seen[victim] = struct{}{}
	}
}
