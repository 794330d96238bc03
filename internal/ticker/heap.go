package ticker

import (
	"container/heap"
	"time"
)

// schedEntry is one pending (key, deadline) registration. index is
// maintained by container/heap to support O(log N) arbitrary removal.
type schedEntry struct {
	key   string
	when  time.Time
	index int
}

// schedHeap is a min-heap over schedEntry ordered by deadline, with an
// index by key so remove(key) doesn't require a linear scan.
type schedHeap struct {
	h     entryHeap
	byKey map[string]*schedEntry
}

func newHeap() *schedHeap {
	h := entryHeap{}
	heap.Init(&h)
	return &schedHeap{h: h, byKey: make(map[string]*schedEntry)}
}

// push inserts or replaces the entry for key.
func (s *schedHeap) push(key string, when time.Time) {
	if old, ok := s.byKey[key]; ok {
		heap.Remove(&s.h, old.index)
		delete(s.byKey, key)
	}
	e := &schedEntry{key: key, when: when}
	s.byKey[key] = e
	heap.Push(&s.h, e)
}

// next returns the soonest entry's key and deadline without removing it.
func (s *schedHeap) next() (key string, when time.Time, ok bool) {
	if len(s.h) == 0 {
		return "", time.Time{}, false
	}
	return s.h[0].key, s.h[0].when, true
}

// pop removes the head entry unconditionally.
func (s *schedHeap) pop() {
	if len(s.h) == 0 {
		return
	}
	e := heap.Pop(&s.h).(*schedEntry)
	delete(s.byKey, e.key)
}

// remove deletes the entry for key, if still pending.
func (s *schedHeap) remove(key string) {
	e, ok := s.byKey[key]
	if !ok {
		return
	}
	heap.Remove(&s.h, e.index)
	delete(s.byKey, key)
}

type entryHeap []*schedEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*schedEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	e.index = -1
	*h = old[:n-1]
	return e
}
