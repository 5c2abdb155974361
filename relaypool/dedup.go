package relaypool

import "github.com/sasha-s/go-deadlock"

// seenSet deduplicates event ids arriving from multiple relays, the
// responsibility §4.2 assigns to the pool. It is grounded on the teacher's
// messaging/relays/cache.go event cache, but bounded (an LRU-style ring of
// ids) rather than an unbounded map, since this cache exists only to catch
// the same id arriving twice within one subscription's lifetime, not to
// serve as a durable store.
type seenSet struct {
	mu       deadlock.Mutex
	capacity int
	order    []string
	index    map[string]struct{}
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		capacity: capacity,
		index:    make(map[string]struct{}, capacity),
	}
}

// markSeen records id and reports whether it had already been seen.
func (s *seenSet) markSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; ok {
		return true
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.index, oldest)
	}
	return false
}
