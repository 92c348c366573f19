package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillPage(pool *PagePool, b []byte) *Page {
	p := pool.Acquire()
	p.used = copy(p.data, b)
	return p
}

func TestWindow_AppendAndCopy(t *testing.T) {
	pool := NewPagePool(4)
	w := NewWindow()

	w.Append(fillPage(pool, []byte("abcd")))
	w.Append(fillPage(pool, []byte("efg"))) // partially filled page
	w.Append(fillPage(pool, []byte("hijk")))

	require.Equal(t, int64(11), w.Size())

	t.Run("copy within one page", func(t *testing.T) {
		dst := make([]byte, 2)
		w.Copy(1, dst)
		assert.Equal(t, "bc", string(dst))
	})

	t.Run("copy across page boundaries", func(t *testing.T) {
		dst := make([]byte, 7)
		w.Copy(2, dst)
		assert.Equal(t, "cdefghi", string(dst))
	})

	t.Run("copy the whole window", func(t *testing.T) {
		dst := make([]byte, 11)
		w.Copy(0, dst)
		assert.Equal(t, "abcdefghijk", string(dst))
	})

	t.Run("out-of-bounds copy panics", func(t *testing.T) {
		assert.Panics(t, func() {
			w.Copy(8, make([]byte, 4))
		})
	})
}

func TestWindow_ReleaseFromStart(t *testing.T) {
	t.Run("releases only whole pages", func(t *testing.T) {
		pool := NewPagePool(4)
		w := NewWindow()
		w.Append(fillPage(pool, []byte("aaaa")))
		w.Append(fillPage(pool, []byte("bbbb")))
		w.Append(fillPage(pool, []byte("cccc")))

		released := w.ReleaseFromStart(6, pool)

		assert.Equal(t, int64(4), released, "must stop before splitting a page")
		assert.Equal(t, int64(8), w.Size())

		dst := make([]byte, 8)
		w.Copy(0, dst)
		assert.Equal(t, "bbbbcccc", string(dst))
	})

	t.Run("releases nothing when the first page is too big", func(t *testing.T) {
		pool := NewPagePool(4)
		w := NewWindow()
		w.Append(fillPage(pool, []byte("aaaa")))

		assert.Zero(t, w.ReleaseFromStart(3, pool))
		assert.Equal(t, int64(4), w.Size())
	})

	t.Run("releases everything when the budget covers it", func(t *testing.T) {
		pool := NewPagePool(4)
		w := NewWindow()
		w.Append(fillPage(pool, []byte("aaaa")))
		w.Append(fillPage(pool, []byte("bb")))

		assert.Equal(t, int64(6), w.ReleaseFromStart(100, pool))
		assert.Zero(t, w.Size())
	})
}

func TestWindow_Clear(t *testing.T) {
	pool := NewPagePool(4)
	w := NewWindow()
	w.Append(fillPage(pool, []byte("aaaa")))
	w.Append(fillPage(pool, []byte("bbbb")))

	w.Clear(pool)

	assert.Zero(t, w.Size())

	// Cleared pages are recycled, not leaked.
	p := pool.Acquire()
	assert.Zero(t, p.used)
	assert.Equal(t, 4, p.Capacity())
}

func TestPagePool_Recycles(t *testing.T) {
	pool := NewPagePool(8)

	p1 := pool.Acquire()
	p1.used = 5
	pool.Release(p1)

	p2 := pool.Acquire()
	assert.Same(t, p1, p2, "free-list page should be reused")
	assert.Zero(t, p2.used, "recycled page must be reset")

	p3 := pool.Acquire()
	assert.NotSame(t, p2, p3, "empty free list allocates fresh pages")
	assert.Equal(t, 8, p3.Capacity())
}
