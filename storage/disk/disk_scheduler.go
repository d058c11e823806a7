package disk

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

const DEFAULT_WORKERS = 4

var ErrSchedulerClosed = errors.New("disk scheduler is closed")

// NewScheduler starts the background workers. Requests for the same page are
// always routed to the same worker, so they complete in submission order.
func NewScheduler(diskManager *DiskManager) *DiskScheduler {
	ds := &DiskScheduler{
		diskManager: diskManager,
		queues:      make([]chan DiskReq, DEFAULT_WORKERS),
	}

	for i := range ds.queues {
		queue := make(chan DiskReq, 100)
		ds.queues[i] = queue
		ds.workers.Go(func() error {
			ds.worker(queue)
			return nil
		})
	}

	return ds
}

func NewRequest(pageId int64, data []byte, isWrite bool) DiskReq {
	return DiskReq{
		PageId: pageId,
		Data:   data,
		Write:  isWrite,
		RespCh: make(chan DiskResp, 1),
	}
}

// Schedule queues req and returns the channel its response arrives on.
func (ds *DiskScheduler) Schedule(req DiskReq) <-chan DiskResp {
	if req.RespCh == nil {
		req.RespCh = make(chan DiskResp, 1)
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if ds.closed {
		req.RespCh <- DiskResp{Err: ErrSchedulerClosed}
		return req.RespCh
	}

	ds.queues[ds.route(req.PageId)] <- req
	return req.RespCh
}

// Do schedules req and waits for the response.
func (ds *DiskScheduler) Do(req DiskReq) DiskResp {
	return <-ds.Schedule(req)
}

func (ds *DiskScheduler) Manager() *DiskManager {
	return ds.diskManager
}

// Close stops the workers after the queued requests have been served.
func (ds *DiskScheduler) Close() error {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return nil
	}
	ds.closed = true
	for _, queue := range ds.queues {
		close(queue)
	}
	ds.mu.Unlock()

	return ds.workers.Wait()
}

func (ds *DiskScheduler) route(pageId int64) int {
	if pageId < 0 {
		return 0
	}
	return int(pageId % int64(len(ds.queues)))
}

func (ds *DiskScheduler) worker(queue chan DiskReq) {
	for req := range queue {
		if req.Write {
			if err := ds.diskManager.writePage(req.PageId, req.Data); err != nil {
				req.RespCh <- DiskResp{Success: false, Err: err}
			} else {
				req.RespCh <- DiskResp{Success: true}
			}
			continue
		}

		if data, err := ds.diskManager.readPage(req.PageId); err != nil {
			req.RespCh <- DiskResp{Success: false, Err: err}
		} else {
			req.RespCh <- DiskResp{Success: true, Data: data}
		}
	}
}

type DiskScheduler struct {
	diskManager *DiskManager
	queues      []chan DiskReq
	workers     errgroup.Group

	mu     sync.RWMutex
	closed bool
}

type DiskReq struct {
	PageId int64
	Data   []byte
	Write  bool
	RespCh chan DiskResp
}

type DiskResp struct {
	Success bool
	Data    []byte
	Err     error
}
