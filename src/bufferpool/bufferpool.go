package bufferpool

import (
	"errors"
	"sync"

	"github.com/Blackdeer1524/RelDB/src"
	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/storage/disk"
	"github.com/Blackdeer1524/RelDB/src/storage/page"
)

var ErrNoSpaceLeft = errors.New("no space left in the buffer pool")

// BufferPool is the surface consumed by the hash index and the executors.
type BufferPool interface {
	FetchPage(pageID common.PageID) (*page.Page, error)
	NewPage() (*page.Page, error)
	UnpinPage(pageID common.PageID, isDirty bool) bool
	FlushPage(pageID common.PageID) bool
	FlushAllPages() error
	DeletePage(pageID common.PageID) bool
}

// Manager is a single buffer pool instance: a fixed array of frames, a page
// table, a free list and a replacer, all guarded by one mutex held for the
// whole duration of every public operation (disk I/O included).
type Manager struct {
	poolSize uint64

	numInstances  uint32
	instanceIndex uint32

	mu         sync.Mutex
	frames     []page.Page
	pageTable  map[common.PageID]common.FrameID
	freeList   []common.FrameID
	replacer   Replacer
	nextPageID common.PageID

	diskManager disk.Manager
	log         src.Logger
}

var _ BufferPool = (*Manager)(nil)

// New builds a standalone instance (numInstances=1, instanceIndex=0).
func New(poolSize uint64, replacer Replacer, diskManager disk.Manager, log src.Logger) *Manager {
	return NewInstance(poolSize, 1, 0, replacer, diskManager, log)
}

func NewInstance(
	poolSize uint64,
	numInstances uint32,
	instanceIndex uint32,
	replacer Replacer,
	diskManager disk.Manager,
	log src.Logger,
) *Manager {
	assert.Assert(poolSize > 0, "pool size must be greater than zero")
	assert.Assert(numInstances > 0, "instance count must be greater than zero")
	assert.Assert(
		instanceIndex < numInstances,
		"instance index %d out of range for %d instances",
		instanceIndex,
		numInstances,
	)

	freeList := make([]common.FrameID, poolSize)
	for i := range freeList {
		freeList[i] = common.FrameID(i)
	}

	frames := make([]page.Page, poolSize)
	for i := range frames {
		frames[i].SetID(common.InvalidPageID)
	}

	return &Manager{
		poolSize:      poolSize,
		numInstances:  numInstances,
		instanceIndex: instanceIndex,
		frames:        frames,
		pageTable:     map[common.PageID]common.FrameID{},
		freeList:      freeList,
		replacer:      replacer,
		nextPageID:    common.PageID(instanceIndex),
		diskManager:   diskManager,
		log:           log,
	}
}

// allocatePage reserves the next page ID owned by this instance. Allocated
// IDs satisfy pageID mod numInstances == instanceIndex.
func (m *Manager) allocatePage() common.PageID {
	id := m.nextPageID
	m.nextPageID += common.PageID(m.numInstances)
	return id
}

// FetchPage returns the requested page pinned. A cache hit does NOT mark the
// page dirty; only UnpinPage(..., true) does.
func (m *Manager) FetchPage(pageID common.PageID) (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frameID, ok := m.pageTable[pageID]; ok {
		pg := &m.frames[frameID]
		if pg.PinCount() == 0 {
			m.replacer.Pin(frameID)
		}
		pg.IncrPinCount()
		return pg, nil
	}

	frameID, err := m.freshFrame()
	if err != nil {
		return nil, err
	}

	pg := &m.frames[frameID]
	if err := m.diskManager.ReadPage(pageID, pg.Data()); err != nil {
		m.freeList = append(m.freeList, frameID)
		return nil, err
	}

	pg.SetID(pageID)
	pg.SetDirty(false)
	pg.IncrPinCount()
	m.pageTable[pageID] = frameID
	return pg, nil
}

// NewPage allocates a fresh page ID, pins a zeroed frame for it and returns
// the page. Returns ErrNoSpaceLeft when every frame is pinned.
func (m *Manager) NewPage() (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, err := m.freshFrame()
	if err != nil {
		return nil, err
	}

	pageID := m.allocatePage()

	pg := &m.frames[frameID]
	pg.ResetMemory()
	pg.SetID(pageID)
	pg.SetDirty(false)
	pg.IncrPinCount()
	m.pageTable[pageID] = frameID
	return pg, nil
}

// UnpinPage drops one pin. The dirty argument is a sticky OR: passing false
// never clears an earlier dirty mark.
func (m *Manager) UnpinPage(pageID common.PageID, isDirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		return false
	}

	pg := &m.frames[frameID]
	if pg.PinCount() == 0 {
		return false
	}

	if isDirty {
		pg.SetDirty(true)
	}

	pg.DecrPinCount()
	if pg.PinCount() == 0 {
		m.replacer.Unpin(frameID)
	}
	return true
}

// FlushPage writes the page back to disk and clears its dirty flag.
// Reports false when the page is not resident or the write fails.
func (m *Manager) FlushPage(pageID common.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		return false
	}

	pg := &m.frames[frameID]
	if err := m.diskManager.WritePage(pageID, pg.Data()); err != nil {
		m.log.Errorf("failed to flush page %d: %v", pageID, err)
		return false
	}
	pg.SetDirty(false)
	return true
}

func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for pageID, frameID := range m.pageTable {
		pg := &m.frames[frameID]
		if err := m.diskManager.WritePage(pageID, pg.Data()); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		pg.SetDirty(false)
	}
	return errs
}

// DeletePage evicts the page and returns its frame to the free list.
// Returns true when the page is gone (including "was never resident") and
// false when someone still holds a pin.
func (m *Manager) DeletePage(pageID common.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		m.diskManager.DeallocatePage(pageID)
		return true
	}

	pg := &m.frames[frameID]
	if pg.PinCount() > 0 {
		return false
	}

	m.replacer.Pin(frameID) // drop it from the victim candidates
	delete(m.pageTable, pageID)
	pg.SetID(common.InvalidPageID)
	pg.SetDirty(false)
	pg.ResetMemory()
	m.freeList = append(m.freeList, frameID)

	m.diskManager.DeallocatePage(pageID)
	return true
}

// freshFrame prefers the free list; otherwise it evicts the LRU victim,
// writing it back first if dirty.
func (m *Manager) freshFrame() (common.FrameID, error) {
	if len(m.freeList) > 0 {
		frameID := m.freeList[0]
		m.freeList = m.freeList[1:]
		return frameID, nil
	}

	frameID, err := m.replacer.Victim()
	if err != nil {
		if errors.Is(err, ErrNoVictimAvailable) {
			return common.InvalidFrameID, ErrNoSpaceLeft
		}
		return common.InvalidFrameID, err
	}

	victim := &m.frames[frameID]
	victimID := victim.ID()
	assert.Assert(victimID.IsValid(), "victim frame %d holds no page", frameID)
	assert.Assert(victim.PinCount() == 0, "victim page %d is pinned", victimID)

	if victim.IsDirty() {
		if err := m.diskManager.WritePage(victimID, victim.Data()); err != nil {
			// Put the victim back so the frame is not leaked.
			m.replacer.Unpin(frameID)
			return common.InvalidFrameID, err
		}
		victim.SetDirty(false)
	}

	delete(m.pageTable, victimID)
	victim.SetID(common.InvalidPageID)
	return frameID, nil
}
