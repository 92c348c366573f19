package cache

// Window is an ordered run of pages holding one contiguous byte range.
// It tracks sizes only; the logical offset of its first byte lives in
// the owning CachedSource.
type Window struct {
	pages []*Page
	size  int64
}

func NewWindow() *Window {
	return &Window{}
}

// Size returns the number of cached bytes.
func (w *Window) Size() int64 { return w.size }

// Append adds a page to the end of the window.
func (w *Window) Append(p *Page) {
	w.pages = append(w.pages, p)
	w.size += int64(p.used)
}

// Copy fills dst with the window's bytes starting at the relative
// offset rel. The caller must have checked bounds; copying past the
// cached range panics.
func (w *Window) Copy(rel int64, dst []byte) {
	if rel < 0 || rel+int64(len(dst)) > w.size {
		panic("cache: window copy out of bounds")
	}

	n := 0
	for _, p := range w.pages {
		if n == len(dst) {
			break
		}
		used := int64(p.used)
		if rel >= used {
			rel -= used
			continue
		}
		n += copy(dst[n:], p.data[rel:p.used])
		rel = 0
	}
}

// ReleaseFromStart drops whole pages from the window head, never more
// than maxBytes in total, and returns the number of bytes released. A
// page is never split.
func (w *Window) ReleaseFromStart(maxBytes int64, pool *PagePool) int64 {
	var released int64
	for len(w.pages) > 0 {
		used := int64(w.pages[0].used)
		if released+used > maxBytes {
			break
		}
		pool.Release(w.pages[0])
		w.pages[0] = nil
		w.pages = w.pages[1:]
		released += used
	}
	w.size -= released
	return released
}

// Clear releases every page back to the pool.
func (w *Window) Clear(pool *PagePool) {
	for i, p := range w.pages {
		pool.Release(p)
		w.pages[i] = nil
	}
	w.pages = w.pages[:0]
	w.size = 0
}
