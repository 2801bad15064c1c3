package segment

import (
	"sync"

	"github.com/TheSmallBoat/seglog/wire"
)

// pendingTable maps request ids to the reads waiting on them. An entry leaves the table when it
// is completed, and only the caller that removed it may complete it.
type pendingTable struct {
	mu   sync.Mutex
	reqs map[uint64]*ReadFuture
}

func newPendingTable() *pendingTable {
	return &pendingTable{reqs: make(map[uint64]*ReadFuture)}
}

func (t *pendingTable) register(id uint64, f *ReadFuture) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reqs[id] = f
}

// remove deletes the entry for id only if it still maps to f.
func (t *pendingTable) remove(id uint64, f *ReadFuture) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, exists := t.reqs[id]; exists && cur == f {
		delete(t.reqs, id)
		return true
	}
	return false
}

// completeAndRemove resolves the read registered under id. Replies for unknown ids are dropped;
// they belong to reads already failed by a drain.
func (t *pendingTable) completeAndRemove(id uint64, res wire.SegmentRead) bool {
	t.mu.Lock()
	f, exists := t.reqs[id]
	if exists {
		delete(t.reqs, id)
	}
	t.mu.Unlock()

	if !exists {
		return false
	}
	return f.complete(res)
}

// drainAndFail fails every read registered when it was called. Entries are snapshotted first and
// each is removed only if it still maps to the same read, so a reply that removed it first wins.
// Reads registered after the snapshot are left alone.
func (t *pendingTable) drainAndFail(cause error) int {
	type entry struct {
		id uint64
		f  *ReadFuture
	}

	t.mu.Lock()
	snapshot := make([]entry, 0, len(t.reqs))
	for id, f := range t.reqs {
		snapshot = append(snapshot, entry{id: id, f: f})
	}
	t.mu.Unlock()

	failed := 0
	for _, e := range snapshot {
		if t.remove(e.id, e.f) && e.f.fail(cause) {
			failed++
		}
	}
	return failed
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reqs)
}
