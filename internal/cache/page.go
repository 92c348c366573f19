package cache

import "sync"

// Page is one fixed-capacity fetch buffer. Only the first used bytes
// are valid.
type Page struct {
	data []byte
	used int
}

// Bytes returns the valid portion of the page.
func (p *Page) Bytes() []byte { return p.data[:p.used] }

// Capacity returns the page's allocation size.
func (p *Page) Capacity() int { return cap(p.data) }

// PagePool recycles pages of a single size so that steady-state
// fetching allocates nothing.
type PagePool struct {
	mu       sync.Mutex
	pageSize int
	free     []*Page
}

func NewPagePool(pageSize int) *PagePool {
	return &PagePool{pageSize: pageSize}
}

// PageSize returns the capacity of pages this pool hands out.
func (pp *PagePool) PageSize() int { return pp.pageSize }

// Acquire returns an empty page, reusing a released one when available.
func (pp *PagePool) Acquire() *Page {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if n := len(pp.free); n > 0 {
		p := pp.free[n-1]
		pp.free[n-1] = nil
		pp.free = pp.free[:n-1]
		p.used = 0
		return p
	}
	return &Page{data: make([]byte, pp.pageSize)}
}

// Release returns a page to the free list.
func (pp *PagePool) Release(p *Page) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.free = append(pp.free, p)
}
