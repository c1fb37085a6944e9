package bufferpool

import (
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/storage/page"
)

// PageGuard ties a pinned page to the pool that pinned it. Release unpins
// exactly once, so every exit path of a multi-page operation can defer it.
type PageGuard struct {
	pool BufferPool
	page *page.Page
	id   common.PageID
	done bool
}

func NewGuard(pool BufferPool, pg *page.Page) *PageGuard {
	return &PageGuard{pool: pool, page: pg, id: pg.ID()}
}

func (g *PageGuard) Page() *page.Page { return g.page }

func (g *PageGuard) ID() common.PageID { return g.id }

// Release unpins the guarded page. Subsequent calls are no-ops.
func (g *PageGuard) Release(dirty bool) {
	if g.done {
		return
	}
	g.done = true
	g.pool.UnpinPage(g.id, dirty)
}
