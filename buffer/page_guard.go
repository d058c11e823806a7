package buffer

func NewReadPageGuard(frame *frame, bpm *BufferpoolManager) *ReadPageGuard {
	return &ReadPageGuard{
		PageGuard: PageGuard{
			frame: frame,
			bpm:   bpm,
		},
	}
}

func NewWritePageGuard(frame *frame, bpm *BufferpoolManager) *WritePageGuard {
	return &WritePageGuard{
		PageGuard: PageGuard{
			frame: frame,
			bpm:   bpm,
		},
	}
}

// Drop releases the shared latch and the pin. Dropping twice is a no-op.
func (pg *ReadPageGuard) Drop() {
	if pg == nil || pg.frame == nil {
		return
	}

	frame := pg.frame
	pg.frame = nil

	frame.mu.RUnlock()
	pg.bpm.release(frame)
}

func (pg *WritePageGuard) Drop() {
	if pg == nil || pg.frame == nil {
		return
	}

	frame := pg.frame
	pg.frame = nil

	frame.mu.Unlock()
	pg.bpm.release(frame)
}

func (pg *ReadPageGuard) GetData() []byte {
	return pg.frame.data
}

func (pg *WritePageGuard) GetData() []byte {
	return pg.frame.data
}

// GetDataMut returns the page bytes for in-place modification.
func (pg *WritePageGuard) GetDataMut() []byte {
	return pg.frame.data
}

func (pg *PageGuard) PageId() int64 {
	return pg.frame.pageId
}

type PageGuard struct {
	frame *frame
	bpm   *BufferpoolManager
}

type ReadPageGuard struct {
	PageGuard
}

type WritePageGuard struct {
	PageGuard
}
