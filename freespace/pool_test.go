package freespace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool(t *testing.T) {
	t.Run("empty pool has nothing to give", func(t *testing.T) {
		pool := NewPool()

		_, ok := pool.GetFree()
		assert.False(t, ok)
		assert.Equal(t, 0, pool.Len())
	})

	t.Run("hands out lowest page first", func(t *testing.T) {
		pool := NewPool()
		pool.RecordFree(9)
		pool.RecordFree(3)
		pool.RecordFree(5)
		pool.RecordFree(3)

		assert.Equal(t, 3, pool.Len())

		blk, ok := pool.GetFree()
		assert.True(t, ok)
		assert.Equal(t, uint32(3), blk)
		assert.False(t, pool.Contains(3))
		assert.Equal(t, []uint32{5, 9}, pool.Pages())
	})

	t.Run("forget drops the tail", func(t *testing.T) {
		pool := NewPool()
		for _, blk := range []uint32{1, 4, 7, 8, 12} {
			pool.RecordFree(blk)
		}

		pool.Forget(7)

		assert.Equal(t, []uint32{1, 4}, pool.Pages())
	})

	t.Run("a page is never handed out twice", func(t *testing.T) {
		pool := NewPool()
		for blk := range uint32(100) {
			pool.RecordFree(blk + 1)
		}

		var (
			mu   sync.Mutex
			seen = map[uint32]int{}
			wg   sync.WaitGroup
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					blk, ok := pool.GetFree()
					if !ok {
						return
					}
					mu.Lock()
					seen[blk]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, 100)
		for blk, n := range seen {
			assert.Equal(t, 1, n, "page %d", blk)
		}
	})
}
