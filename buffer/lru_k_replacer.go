package buffer

import (
	"fmt"
	"sync"
)

func NewLrukReplacer(capacity, k int) *lrukReplacer {
	if k < 1 {
		k = 1
	}

	return &lrukReplacer{
		k:            k,
		nodeStore:    map[int]*lrukNode{},
		replacerSize: capacity,
	}
}

func (lru *lrukReplacer) remove(frameId int) error {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		return nil
	}

	if !node.isEvictable {
		return fmt.Errorf("removing a non-evictable frame %d", frameId)
	}

	delete(lru.nodeStore, frameId)
	lru.currSize--

	return nil
}

func (lru *lrukReplacer) recordAccess(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		node = &lrukNode{frameId: frameId, k: lru.k}
		lru.nodeStore[frameId] = node
	}

	node.addTimestamp(lru.currTimestamp)
	lru.currTimestamp++
}

func (lru *lrukReplacer) setEvictable(frameId int, evictable bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok || node.isEvictable == evictable {
		return
	}

	node.isEvictable = evictable
	if evictable {
		lru.currSize++
	} else {
		lru.currSize--
	}
}

// evict removes and returns the evictable frame with the largest backward
// k-distance, or INVALID_FRAME_ID when nothing can be evicted.
func (lru *lrukReplacer) evict() (int, error) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	var victim *lrukNode
	for _, node := range lru.nodeStore {
		if !node.isEvictable {
			continue
		}
		if victim == nil || node.evictsBefore(victim) {
			victim = node
		}
	}

	if victim == nil {
		return INVALID_FRAME_ID, nil
	}

	delete(lru.nodeStore, victim.frameId)
	lru.currSize--

	return victim.frameId, nil
}

func (lru *lrukReplacer) size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.currSize
}

type lrukReplacer struct {
	mu            sync.Mutex
	nodeStore     map[int]*lrukNode
	replacerSize  int
	currSize      int
	currTimestamp int
	k             int
}
