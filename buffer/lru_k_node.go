package buffer

const INVALID_FRAME_ID = -1

type lrukNode struct {
	frameId     int
	k           int
	history     []int
	isEvictable bool
}

func (n *lrukNode) hasKAccess() bool {
	return n.k == len(n.history)
}

// kthAccess is the timestamp of the k-th most recent access, or of the oldest
// recorded access when fewer than k are known.
func (n *lrukNode) kthAccess() int {
	if len(n.history) > 0 {
		return n.history[0]
	}

	return -1
}

func (n *lrukNode) addTimestamp(timestamp int) {
	if len(n.history) < n.k {
		n.history = append(n.history, timestamp)
		return
	}

	n.history = append(n.history[1:], timestamp)
}

// evictsBefore reports whether n has a larger backward k-distance than other.
// Nodes with fewer than k accesses have infinite distance and go first; ties
// fall back to the oldest access.
func (n *lrukNode) evictsBefore(other *lrukNode) bool {
	if n.hasKAccess() != other.hasKAccess() {
		return !n.hasKAccess()
	}

	return n.kthAccess() < other.kthAccess()
}
