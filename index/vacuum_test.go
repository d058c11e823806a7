package index

import (
	"context"
	"sync"
	"testing"

	"github.com/jobala/bloomidx/freespace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deadSet(locs ...RowLocator) DeadRow {
	dead := make(map[RowLocator]bool, len(locs))
	for _, l := range locs {
		dead[l] = true
	}
	return func(l RowLocator) bool {
		return dead[l]
	}
}

func TestBulkDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes dead rows and compacts", func(t *testing.T) {
		s, _ := createStorage(t)
		idx, _, err := Build(ctx, s.BPM, DefaultConfig(1), rowsOf(row(1, "a"), row(2, "b"), row(3, "a"), row(4, "c")))
		require.NoError(t, err)

		stats, err := idx.BulkDelete(ctx, deadSet(loc(2), loc(4)), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.TuplesRemoved)
		assert.Equal(t, int64(2), stats.NumIndexTuples)

		assert.Equal(t, []RowLocator{loc(1), loc(3)}, scanAll(t, idx).Locators())
		assert.Equal(t, []uint32{1}, inspect(t, idx).FreeList)
	})

	t.Run("emptied pages are marked deleted and never listed", func(t *testing.T) {
		s, _ := createStorage(t)
		rows := make([]Row, 21)
		for i := range rows {
			rows[i] = row(i, i)
		}
		idx, _, err := Build(ctx, s.BPM, wideConfig, rowsOf(rows...))
		require.NoError(t, err)

		// page 1 loses a row, page 2 loses everything
		dead := []RowLocator{loc(3)}
		for i := 7; i < 14; i++ {
			dead = append(dead, loc(i))
		}
		stats, err := idx.BulkDelete(ctx, deadSet(dead...), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(8), stats.TuplesRemoved)
		assert.Equal(t, int64(13), stats.NumIndexTuples)

		report := inspect(t, idx)
		assert.True(t, report.Pages[1].Deleted)
		assert.Equal(t, 0, report.Pages[1].LiveCount)
		assert.Equal(t, []uint32{1}, report.FreeList)
		assert.Empty(t, report.Check())
	})

	t.Run("free-list is replaced even when nothing has room", func(t *testing.T) {
		s, _ := createStorage(t)
		rows := make([]Row, 7)
		for i := range rows {
			rows[i] = row(i, i)
		}
		idx, _, err := Build(ctx, s.BPM, wideConfig, rowsOf(rows...))
		require.NoError(t, err)
		require.NoError(t, idx.Insert(ctx, loc(50), []any{50}))
		require.Equal(t, []uint32{2}, inspect(t, idx).FreeList)

		_, err = idx.BulkDelete(ctx, deadSet(loc(50)), nil)
		require.NoError(t, err)

		report := inspect(t, idx)
		assert.Empty(t, report.FreeList)
		assert.True(t, report.Pages[1].Deleted)
	})

	t.Run("running twice changes nothing the second time", func(t *testing.T) {
		s, _ := createStorage(t)
		rows := make([]Row, 30)
		for i := range rows {
			rows[i] = row(i, i%4)
		}
		idx, _, err := Build(ctx, s.BPM, wideConfig, rowsOf(rows...))
		require.NoError(t, err)

		dead := func(l RowLocator) bool { return l.Offset%3 == 0 || (l.Offset >= 14 && l.Offset < 21) }

		first, err := idx.BulkDelete(ctx, dead, nil)
		require.NoError(t, err)
		afterFirst := inspect(t, idx)

		second, err := idx.BulkDelete(ctx, dead, nil)
		require.NoError(t, err)
		afterSecond := inspect(t, idx)

		assert.Greater(t, first.TuplesRemoved, int64(0))
		assert.Equal(t, int64(0), second.TuplesRemoved)
		assert.Equal(t, first.NumIndexTuples, second.NumIndexTuples)
		assert.Equal(t, afterFirst, afterSecond)
	})

	t.Run("stats accumulate over passes", func(t *testing.T) {
		s, _ := createStorage(t)
		idx, _, err := Build(ctx, s.BPM, DefaultConfig(1), rowsOf(row(1, "a"), row(2, "b"), row(3, "c")))
		require.NoError(t, err)

		stats, err := idx.BulkDelete(ctx, deadSet(loc(1)), nil)
		require.NoError(t, err)
		stats, err = idx.BulkDelete(ctx, deadSet(loc(2)), stats)
		require.NoError(t, err)

		assert.Equal(t, int64(2), stats.TuplesRemoved)
		assert.Equal(t, int64(1), stats.NumIndexTuples)
	})

	t.Run("cancellation leaves a valid index", func(t *testing.T) {
		s, _ := createStorage(t)
		idx, _, err := Build(ctx, s.BPM, DefaultConfig(1), rowsOf(row(1, "a"), row(2, "b")))
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err = idx.BulkDelete(cancelled, deadSet(loc(1)), nil)
		assert.ErrorIs(t, err, context.Canceled)

		assert.Equal(t, uint64(2), scanAll(t, idx).Count())
		assert.Empty(t, inspect(t, idx).Check())
	})

	t.Run("cancelled pass drops the pages it emptied from the free-list", func(t *testing.T) {
		s, _ := createStorage(t)
		rows := make([]Row, 21)
		for i := range rows {
			rows[i] = row(i, i)
		}
		idx, _, err := Build(ctx, s.BPM, wideConfig, rowsOf(rows...))
		require.NoError(t, err)

		_, err = idx.BulkDelete(ctx, deadSet(loc(0)), nil)
		require.NoError(t, err)
		require.Equal(t, []uint32{1}, inspect(t, idx).FreeList)

		// empty page 1 and stop before page 2
		cancelled, cancel := context.WithCancel(ctx)
		defer cancel()
		dead := func(l RowLocator) bool {
			if l == loc(6) {
				cancel()
			}
			return l.Offset < 7
		}

		stats, err := idx.BulkDelete(cancelled, dead, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int64(6), stats.TuplesRemoved)

		report := inspect(t, idx)
		assert.True(t, report.Pages[0].Deleted)
		assert.Empty(t, report.FreeList)
		assert.Empty(t, report.Check())

		// the index keeps working
		require.NoError(t, idx.Insert(ctx, loc(50), []any{50}))
		assert.True(t, scanAll(t, idx, ScanKey{Column: 0, Value: 50}).Contains(loc(50)))
		assert.Empty(t, inspect(t, idx).Check())
	})

	t.Run("cancelled pass keeps listed pages that still hold rows", func(t *testing.T) {
		s, _ := createStorage(t)
		rows := make([]Row, 14)
		for i := range rows {
			rows[i] = row(i, i)
		}
		idx, _, err := Build(ctx, s.BPM, wideConfig, rowsOf(rows...))
		require.NoError(t, err)
		setFreeList(t, idx, 2, 1)

		cancelled, cancel := context.WithCancel(ctx)
		defer cancel()
		dead := func(l RowLocator) bool {
			cancel()
			return l == loc(0)
		}

		_, err = idx.BulkDelete(cancelled, dead, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []uint32{2, 1}, inspect(t, idx).FreeList)
	})

	t.Run("respects the vacuum rate", func(t *testing.T) {
		s, _ := createStorage(t)
		idx, _, err := Build(ctx, s.BPM, DefaultConfig(1), rowsOf(row(1, "a")), WithVacuumRate(1000, 10))
		require.NoError(t, err)

		stats, err := idx.BulkDelete(ctx, deadSet(), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.NumIndexTuples)
	})
}

func TestVacuumCleanup(t *testing.T) {
	ctx := context.Background()

	t.Run("deleted row alone on the last page is truncated", func(t *testing.T) {
		s, _ := createStorage(t)
		idx, _, err := Build(ctx, s.BPM, DefaultConfig(1), rowsOf(row(1, "a"), row(3, "a")))
		require.NoError(t, err)

		// the free-list is empty after a build, so row 2 gets a page of its own
		require.NoError(t, idx.Insert(ctx, loc(2), []any{"b"}))
		require.Equal(t, uint32(3), idx.NumPages())

		stats, err := idx.BulkDelete(ctx, deadSet(loc(2)), nil)
		require.NoError(t, err)
		stats, err = idx.VacuumCleanup(ctx, stats, false)
		require.NoError(t, err)

		assert.Equal(t, []RowLocator{loc(1), loc(3)}, scanAll(t, idx).Locators())
		assert.Equal(t, uint32(2), idx.NumPages())
		assert.Equal(t, uint32(1), stats.PagesRemoved)
		assert.Equal(t, uint32(0), stats.PagesFree)
		assert.Equal(t, uint32(2), stats.NumPages)
		assert.Equal(t, int64(2), stats.NumIndexTuples)

		report := inspect(t, idx)
		assert.Equal(t, 0, report.TrailingEmpty())
		assert.Empty(t, report.Check())
	})

	t.Run("deleted row sharing a page only compacts it", func(t *testing.T) {
		s, _ := createStorage(t)
		idx, _, err := Build(ctx, s.BPM, DefaultConfig(1), rowsOf(row(1, "a"), row(2, "b"), row(3, "a")))
		require.NoError(t, err)

		stats, err := idx.BulkDelete(ctx, deadSet(loc(2)), nil)
		require.NoError(t, err)
		stats, err = idx.VacuumCleanup(ctx, stats, false)
		require.NoError(t, err)

		assert.Equal(t, []RowLocator{loc(1), loc(3)}, scanAll(t, idx).Locators())
		assert.Equal(t, uint32(2), idx.NumPages())
		assert.Equal(t, uint32(0), stats.PagesRemoved)
	})

	t.Run("trailing run is cut and holes go to the pool", func(t *testing.T) {
		s, _ := createStorage(t)
		pool := freespace.NewPool()
		rows := make([]Row, 35)
		for i := range rows {
			rows[i] = row(i, i)
		}
		idx, _, err := Build(ctx, s.BPM, wideConfig, rowsOf(rows...), WithReusePool(pool))
		require.NoError(t, err)
		require.Equal(t, uint32(6), idx.NumPages())

		// pages 2, 4 and 5 empty out, 1 and 3 keep rows
		dead := func(l RowLocator) bool {
			o := int(l.Offset)
			return (o >= 7 && o < 14) || o >= 21
		}
		stats, err := idx.BulkDelete(ctx, dead, nil)
		require.NoError(t, err)
		stats, err = idx.VacuumCleanup(ctx, stats, false)
		require.NoError(t, err)

		assert.Equal(t, uint32(4), idx.NumPages())
		assert.Equal(t, uint32(2), stats.PagesRemoved)
		assert.Equal(t, uint32(1), stats.PagesFree)
		assert.Equal(t, []uint32{2}, pool.Pages())

		report := inspect(t, idx)
		assert.Equal(t, 0, report.TrailingEmpty())
		assert.Greater(t, report.Pages[len(report.Pages)-1].LiveCount, 0)
		assert.Empty(t, report.Check())
	})

	t.Run("analyze only returns stats untouched", func(t *testing.T) {
		s, _ := createStorage(t)
		idx, err := Create(ctx, s.BPM, DefaultConfig(1))
		require.NoError(t, err)

		in := &VacuumStats{TuplesRemoved: 5}
		out, err := idx.VacuumCleanup(ctx, in, true)
		require.NoError(t, err)
		assert.Same(t, in, out)
		assert.Equal(t, VacuumStats{TuplesRemoved: 5}, *out)
	})

	t.Run("cleanup alone counts the index", func(t *testing.T) {
		s, _ := createStorage(t)
		idx, _, err := Build(ctx, s.BPM, DefaultConfig(1), rowsOf(row(1, "a"), row(2, "b")))
		require.NoError(t, err)

		stats, err := idx.VacuumCleanup(ctx, nil, false)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.NumIndexTuples)
		assert.Equal(t, uint32(2), stats.NumPages)
	})

	t.Run("a second full vacuum is a no-op", func(t *testing.T) {
		s, _ := createStorage(t)
		rows := make([]Row, 28)
		for i := range rows {
			rows[i] = row(i, i)
		}
		idx, _, err := Build(ctx, s.BPM, wideConfig, rowsOf(rows...))
		require.NoError(t, err)

		dead := func(l RowLocator) bool { return l.Offset >= 20 || l.Offset == 2 }
		vacuum := func() *Report {
			stats, err := idx.BulkDelete(ctx, dead, nil)
			require.NoError(t, err)
			_, err = idx.VacuumCleanup(ctx, stats, false)
			require.NoError(t, err)
			return inspect(t, idx)
		}

		first := vacuum()
		second := vacuum()
		assert.Equal(t, first, second)
		assert.Equal(t, 0, second.TrailingEmpty())
	})
}

func TestConcurrentOperations(t *testing.T) {
	ctx := context.Background()
	s, _ := createStorage(t)

	initial := make([]Row, 100)
	for i := range initial {
		initial[i] = row(i, i)
	}
	idx, _, err := Build(ctx, s.BPM, wideConfig, rowsOf(initial...), WithCheckpointBytes(64<<10))
	require.NoError(t, err)

	// odd rows and rows from 70 on are gone from the table, which empties
	// the last pages of the build
	dead := func(l RowLocator) bool {
		return l.Block == 0 && (l.Offset%2 == 1 || l.Offset >= 70)
	}
	survivor := func(i int) bool {
		return i >= 100 || (i%2 == 0 && i < 70)
	}

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 100; i < 250; i++ {
			if !assert.NoError(t, idx.Insert(ctx, loc(i), []any{i})) {
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			stats, err := idx.BulkDelete(ctx, dead, nil)
			if !assert.NoError(t, err) {
				return
			}
			if _, err := idx.VacuumCleanup(ctx, stats, false); !assert.NoError(t, err) {
				return
			}

			select {
			case <-done:
				return
			default:
			}
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				for i := 0; i < 70; i += 10 {
					scan, err := idx.BeginScan(ScanKey{Column: 0, Value: i})
					if !assert.NoError(t, err) {
						return
					}
					res, err := scan.GetBitmap(ctx)
					scan.EndScan()
					if !assert.NoError(t, err) {
						return
					}
					assert.True(t, res.Contains(loc(i)), "row %d went missing", i)
				}

				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}

	wg.Wait()

	stats, err := idx.BulkDelete(ctx, dead, nil)
	require.NoError(t, err)
	_, err = idx.VacuumCleanup(ctx, stats, false)
	require.NoError(t, err)

	all := scanAll(t, idx)
	for i := 0; i < 250; i++ {
		if survivor(i) {
			assert.True(t, scanAll(t, idx, ScanKey{Column: 0, Value: i}).Contains(loc(i)), "row %d", i)
		} else {
			assert.False(t, all.Contains(loc(i)), "dead row %d", i)
		}
	}

	report := inspect(t, idx)
	assert.Empty(t, report.Check())
	assert.Equal(t, 0, report.TrailingEmpty())
	assert.Equal(t, int64(35+150), report.LiveTuples())
}
