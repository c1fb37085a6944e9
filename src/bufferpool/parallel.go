package bufferpool

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/RelDB/src"
	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/storage/disk"
	"github.com/Blackdeer1524/RelDB/src/storage/page"
)

// ParallelManager shards page traffic across numInstances buffer pool
// instances. Page pageID lives in instance pageID mod numInstances; the
// instances' sharded ID allocators keep that invariant for new pages.
type ParallelManager struct {
	instances []*Manager

	rotorMu sync.Mutex
	rotor   uint32
}

var _ BufferPool = (*ParallelManager)(nil)

func NewParallel(
	numInstances uint32,
	poolSize uint64,
	diskManager disk.Manager,
	log src.Logger,
) *ParallelManager {
	assert.Assert(numInstances > 0, "instance count must be greater than zero")

	instances := make([]*Manager, numInstances)
	for i := range instances {
		instances[i] = NewInstance(
			poolSize,
			numInstances,
			uint32(i),
			NewLRUReplacer(poolSize),
			diskManager,
			log,
		)
	}

	return &ParallelManager{instances: instances}
}

func (p *ParallelManager) instanceFor(pageID common.PageID) *Manager {
	assert.Assert(pageID.IsValid(), "routing an invalid page id")
	return p.instances[uint32(pageID)%uint32(len(p.instances))]
}

func (p *ParallelManager) FetchPage(pageID common.PageID) (*page.Page, error) {
	return p.instanceFor(pageID).FetchPage(pageID)
}

// NewPage tries each instance once, starting at a rotating index. The rotor
// advances by one on every call so allocation pressure spreads evenly.
func (p *ParallelManager) NewPage() (*page.Page, error) {
	p.rotorMu.Lock()
	start := p.rotor
	p.rotor = (p.rotor + 1) % uint32(len(p.instances))
	p.rotorMu.Unlock()

	var lastErr error
	for i := range p.instances {
		idx := (start + uint32(i)) % uint32(len(p.instances))
		pg, err := p.instances[idx].NewPage()
		if err == nil {
			return pg, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *ParallelManager) UnpinPage(pageID common.PageID, isDirty bool) bool {
	return p.instanceFor(pageID).UnpinPage(pageID, isDirty)
}

func (p *ParallelManager) FlushPage(pageID common.PageID) bool {
	return p.instanceFor(pageID).FlushPage(pageID)
}

func (p *ParallelManager) FlushAllPages() error {
	var g errgroup.Group
	for _, instance := range p.instances {
		g.Go(instance.FlushAllPages)
	}
	return g.Wait()
}

func (p *ParallelManager) DeletePage(pageID common.PageID) bool {
	return p.instanceFor(pageID).DeletePage(pageID)
}

func (p *ParallelManager) NumInstances() uint32 {
	return uint32(len(p.instances))
}
