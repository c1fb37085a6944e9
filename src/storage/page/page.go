package page

import (
	"sync"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

const PageSize = common.PageSize

// Page is one buffer pool frame's worth of disk bytes plus bookkeeping.
//
// The data payload is not synchronized by the page itself: the page latch
// (Lock/RLock) is available to callers, and the buffer pool never takes it.
// The identity, pin count and dirty flag are owned by the buffer pool
// instance and must only be touched under the instance latch.
type Page struct {
	latch sync.RWMutex
	data  [PageSize]byte

	id       common.PageID
	pinCount uint32
	isDirty  bool
}

func New() *Page {
	return &Page{id: common.InvalidPageID}
}

// Data returns the raw payload. Concurrent access must be serialized by the
// caller, through the page latch or an outer lock (the hash index uses its
// table latch).
func (p *Page) Data() []byte { return p.data[:] }

func (p *Page) ID() common.PageID { return p.id }

func (p *Page) PinCount() uint32 { return p.pinCount }

func (p *Page) IsDirty() bool { return p.isDirty }

// The mutators below are for the owning buffer pool instance only and must
// be called under its latch.

func (p *Page) SetID(id common.PageID) { p.id = id }

func (p *Page) SetDirty(dirty bool) { p.isDirty = dirty }

func (p *Page) IncrPinCount() { p.pinCount++ }

func (p *Page) DecrPinCount() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}

// ResetMemory zeroes the payload. Used when a frame is recycled.
func (p *Page) ResetMemory() {
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *Page) Lock()    { p.latch.Lock() }
func (p *Page) Unlock()  { p.latch.Unlock() }
func (p *Page) RLock()   { p.latch.RLock() }
func (p *Page) RUnlock() { p.latch.RUnlock() }
