package router

import (
	"hash/fnv"
	"sync"
)

// shard owns a slice of the channel namespace. Sharding the top-level map
// (rather than using one global RWMutex) bounds lock contention on
// subscribe/unsubscribe to the connections touching the same shard, while
// publish on an already-resolved *channelState never touches shard locks at
// all (spec §4.2 "concurrent hash map ... sharded for lock-free concurrent
// reads and writes").
type shard struct {
	mu       sync.RWMutex
	channels map[string]*channelState
}

func newShard() *shard {
	return &shard{channels: make(map[string]*channelState)}
}

func (s *shard) get(name string) *channelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[name]
}

// getOrCreate returns the existing channel for name, or atomically creates
// one. created reports whether this call created it.
func (s *shard) getOrCreate(name string) (ch *channelState, created bool) {
	s.mu.RLock()
	ch = s.channels[name]
	s.mu.RUnlock()
	if ch != nil {
		return ch, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch = s.channels[name]; ch != nil {
		return ch, false
	}
	ch = newChannelState(name)
	s.channels[name] = ch
	return ch, true
}

// removeIfEmpty deletes name's entry iff it is still present and its
// subscriber snapshot is empty at the time of the check, guarding against a
// concurrent subscribe re-populating it between the caller's last read and
// this call (spec §4.2 "membership-versioned or reference-counted removal").
func (s *shard) removeIfEmpty(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[name]
	if !ok {
		return
	}
	if len(ch.snapshot()) == 0 {
		delete(s.channels, name)
	}
}

func (s *shard) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

func shardIndex(name string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32()) % n
}
