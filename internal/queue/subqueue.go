package queue

import (
	"container/heap"
	"sort"
	"sync"

	"syncq/internal/domain"
)

type commandHeap []*domain.Command

func (h commandHeap) Len() int           { return len(h) }
func (h commandHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h commandHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *commandHeap) Push(x any)        { *h = append(*h, x.(*domain.Command)) }
func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// subQueue is a priority queue safe for concurrent use.
type subQueue struct {
	typ   domain.QueueType
	mu    sync.RWMutex
	items commandHeap
}

func newSubQueue(typ domain.QueueType) *subQueue {
	return &subQueue{typ: typ}
}

func (s *subQueue) push(c *domain.Command) {
	s.mu.Lock()
	heap.Push(&s.items, c)
	s.mu.Unlock()
}

func (s *subQueue) pop() *domain.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil
	}
	return heap.Pop(&s.items).(*domain.Command)
}

func (s *subQueue) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *subQueue) findKey(key string) *domain.Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.items {
		if c.Key() == key {
			return c
		}
	}
	return nil
}

func (s *subQueue) findID(id string) *domain.Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.items {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// removeWhere drops every command matching fn and returns them.
func (s *subQueue) removeWhere(fn func(*domain.Command) bool) []*domain.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*domain.Command
	kept := s.items[:0]
	for _, c := range s.items {
		if fn(c) {
			removed = append(removed, c)
		} else {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = nil
	}
	s.items = kept
	if len(removed) > 0 {
		heap.Init(&s.items)
	}
	return removed
}

func (s *subQueue) clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	s.items = nil
	return n
}

// snapshot returns sorted copies of the queued commands.
func (s *subQueue) snapshot() []*domain.Command {
	s.mu.RLock()
	out := make([]*domain.Command, 0, len(s.items))
	for _, c := range s.items {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
