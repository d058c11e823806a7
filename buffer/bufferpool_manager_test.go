package buffer

import (
	"fmt"
	"os"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/jobala/bloomidx/storage/disk"
	"github.com/jobala/bloomidx/storage/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolManager(t *testing.T) {
	t.Run("reads a page from disk", func(t *testing.T) {
		bufferMgr, diskScheduler := createBpm(t, 5, 3)

		data := pageWith("hello, world!")
		syncWrite(t, 1, data, diskScheduler)

		pageGuard, err := bufferMgr.ReadPage(1)
		require.NoError(t, err)
		defer pageGuard.Drop()

		assert.Equal(t, data[disk.CHECKSUM_SIZE:], pageGuard.GetData()[disk.CHECKSUM_SIZE:])
		assert.Equal(t, int64(1), pageGuard.PageId())
	})

	t.Run("evicts least recently used page", func(t *testing.T) {
		bufferMgr, diskScheduler := createBpm(t, 2, 3)

		content := []string{"1", "2", "3"}
		for pageId, d := range content {
			syncWrite(t, int64(pageId), pageWith(d), diskScheduler)
		}

		// access page 1 many times
		for range 5 {
			pageGuard, err := bufferMgr.ReadPage(1)
			require.NoError(t, err)
			pageGuard.Drop()
		}

		// page 0 has a single access and goes first
		pageGuard, err := bufferMgr.ReadPage(0)
		require.NoError(t, err)
		pageGuard.Drop()

		pageGuard, err = bufferMgr.ReadPage(2)
		require.NoError(t, err)
		assert.Equal(t, pageWith("3")[disk.CHECKSUM_SIZE:], pageGuard.GetData()[disk.CHECKSUM_SIZE:])
		pageGuard.Drop()

		_, ok := bufferMgr.pageTable[0]
		assert.False(t, ok)
		_, ok = bufferMgr.pageTable[1]
		assert.True(t, ok)
	})

	t.Run("dirty evicted pages are flushed to disk", func(t *testing.T) {
		bufferMgr, diskScheduler := createBpm(t, 2, 3)

		content := []string{"1", "2", "3"}
		for pageId, d := range content {
			pageGuard, err := bufferMgr.WritePage(int64(pageId))
			require.NoError(t, err)
			copy(pageGuard.GetDataMut(), pageWith(d))
			pageGuard.Drop()
		}

		// page 0 should have been evicted and flushed to disk
		res := syncRead(t, 0, diskScheduler)
		assert.Equal(t, pageWith("1")[disk.CHECKSUM_SIZE:], res[disk.CHECKSUM_SIZE:])
	})

	t.Run("can read and write", func(t *testing.T) {
		bufferMgr, _ := createBpm(t, 2, 3)

		content := []string{"1", "2", "3"}
		for pageId, d := range content {
			pageGuard, err := bufferMgr.WritePage(int64(pageId))
			require.NoError(t, err)
			copy(pageGuard.GetDataMut(), pageWith(d))
			pageGuard.Drop()
		}

		for pageId, d := range content {
			pageGuard, err := bufferMgr.ReadPage(int64(pageId))
			require.NoError(t, err)
			assert.Equal(t, pageWith(d)[disk.CHECKSUM_SIZE:], pageGuard.GetData()[disk.CHECKSUM_SIZE:])
			pageGuard.Drop()
		}
	})

	t.Run("conditional latch fails while page is held", func(t *testing.T) {
		bufferMgr, _ := createBpm(t, 3, 1)

		reader, err := bufferMgr.ReadPage(0)
		require.NoError(t, err)

		guard, ok, err := bufferMgr.TryWritePage(0)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, guard)

		reader.Drop()

		guard, ok, err = bufferMgr.TryWritePage(0)
		assert.NoError(t, err)
		assert.True(t, ok)
		guard.Drop()
	})

	t.Run("writers wait for readers", func(t *testing.T) {
		bufferMgr, _ := createBpm(t, 3, 1)

		reader, err := bufferMgr.ReadPage(0)
		require.NoError(t, err)

		acquired := make(chan struct{})
		go func() {
			guard, err := bufferMgr.WritePage(0)
			assert.NoError(t, err)
			close(acquired)
			guard.Drop()
		}()

		select {
		case <-acquired:
			t.Fatal("writer acquired latch while reader held it")
		case <-time.After(50 * time.Millisecond):
		}

		reader.Drop()
		<-acquired
	})

	t.Run("waits for a frame when all frames are pinned", func(t *testing.T) {
		bufferMgr, _ := createBpm(t, 1, 2)

		first, err := bufferMgr.ReadPage(0)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			second, err := bufferMgr.ReadPage(1)
			assert.NoError(t, err)
			second.Drop()
		}()

		time.Sleep(20 * time.Millisecond)
		first.Drop()
		wg.Wait()
	})

	t.Run("new pages extend the file", func(t *testing.T) {
		bufferMgr, _ := createBpm(t, 3, 1)

		guard, err := bufferMgr.NewPage()
		require.NoError(t, err)
		assert.Equal(t, int64(1), guard.PageId())
		assert.Equal(t, make([]byte, disk.PAGE_SIZE), guard.GetData())
		guard.Drop()

		assert.Equal(t, int64(2), bufferMgr.NumPages())
	})

	t.Run("truncate drops cached pages", func(t *testing.T) {
		bufferMgr, _ := createBpm(t, 4, 4)

		guard, err := bufferMgr.WritePage(3)
		require.NoError(t, err)
		copy(guard.GetDataMut(), pageWith("tail"))
		guard.Drop()

		bufferMgr.LockExtension()
		require.NoError(t, bufferMgr.Truncate(2))
		bufferMgr.UnlockExtension()

		assert.Equal(t, int64(2), bufferMgr.NumPages())
		_, ok := bufferMgr.pageTable[3]
		assert.False(t, ok)

		_, err = bufferMgr.ReadPage(3)
		assert.ErrorIs(t, err, disk.ErrPageOutOfRange)

		// nothing left to flush for the dropped page
		assert.NoError(t, bufferMgr.FlushAll())
	})

	t.Run("checkpoint flushes pages and resets the wal", func(t *testing.T) {
		file := CreateDbFile(t)
		dm, err := disk.NewManager(file)
		require.NoError(t, err)
		_, err = dm.Extend()
		require.NoError(t, err)

		log, err := wal.Open(path.Join(t.TempDir(), "test.wal"), wal.Options{Compression: wal.CompressionZSTD})
		require.NoError(t, err)
		t.Cleanup(func() { _ = log.Close() })

		diskScheduler := disk.NewScheduler(dm)
		t.Cleanup(func() { _ = diskScheduler.Close() })
		bufferMgr := NewBufferpoolManager(2, NewLrukReplacer(2, 2), diskScheduler, WithWAL(log))

		guard, err := bufferMgr.WritePage(0)
		require.NoError(t, err)
		copy(guard.GetDataMut(), pageWith("logged"))
		require.NoError(t, bufferMgr.LogUnit(guard))
		guard.Drop()

		assert.Equal(t, 1, log.Pending())

		require.NoError(t, bufferMgr.Checkpoint())
		assert.Equal(t, 0, log.Pending())

		res := syncRead(t, 0, diskScheduler)
		assert.Equal(t, pageWith("logged")[disk.CHECKSUM_SIZE:], res[disk.CHECKSUM_SIZE:])
	})
}

func CreateDbFile(t *testing.T) *os.File {
	t.Helper()
	dbFile := path.Join(t.TempDir(), "test.db")

	file, err := os.OpenFile(dbFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating db file\n%v", err))
	}
	t.Cleanup(func() {
		_ = file.Close()
	})

	return file
}

// createBpm returns a bufferpool over a fresh file holding numPages pages.
func createBpm(t *testing.T, size int, numPages int) (*BufferpoolManager, *disk.DiskScheduler) {
	t.Helper()

	dm, err := disk.NewManager(CreateDbFile(t))
	require.NoError(t, err)
	for range numPages {
		_, err := dm.Extend()
		require.NoError(t, err)
	}

	diskScheduler := disk.NewScheduler(dm)
	t.Cleanup(func() { _ = diskScheduler.Close() })

	return NewBufferpoolManager(size, NewLrukReplacer(size, 2), diskScheduler), diskScheduler
}

func pageWith(s string) []byte {
	data := make([]byte, disk.PAGE_SIZE)
	copy(data[disk.CHECKSUM_SIZE:], []byte(s))
	return data
}

func syncWrite(t *testing.T, pageId int64, data []byte, diskScheduler *disk.DiskScheduler) {
	t.Helper()
	resp := diskScheduler.Do(disk.NewRequest(pageId, data, true))
	require.NoError(t, resp.Err)
}

func syncRead(t *testing.T, pageId int64, diskScheduler *disk.DiskScheduler) []byte {
	t.Helper()
	resp := diskScheduler.Do(disk.NewRequest(pageId, nil, false))
	require.NoError(t, resp.Err)
	return resp.Data
}
