package jobs

import (
	"slices"
	"sync"
)

// Store holds the session's job collection, most recent first.
// Implementations must be safe for concurrent use and must store whole
// records; callers never edit a stored Job in place.
type Store interface {
	// Prepend inserts job at the head, dropping any record with the same ID.
	Prepend(job Job)
	// Update replaces the record for id with the result of fn. fn runs under
	// the store lock and reports whether it changed anything.
	Update(id string, fn func(Job) (Job, bool)) (Job, bool)
	// Mark returns a position in the sequence of Prepend calls.
	Mark() uint64
	// ReplaceAll swaps the whole collection. Records prepended after mark
	// that jobs does not contain stay at the head.
	ReplaceAll(jobs []Job, mark uint64)
	Get(id string) (Job, bool)
	All() []Job
}

type InMemoryStore struct {
	mu    sync.RWMutex
	order []string
	data  map[string]Job
	seq   uint64
	added map[string]uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]Job), added: make(map[string]uint64)}
}

func (s *InMemoryStore) Mark() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

func (s *InMemoryStore) Prepend(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[job.ID]; ok {
		s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == job.ID })
	}
	s.order = slices.Insert(s.order, 0, job.ID)
	s.data[job.ID] = job.clone()
	s.seq++
	s.added[job.ID] = s.seq
}

func (s *InMemoryStore) Update(id string, fn func(Job) (Job, bool)) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[id]
	if !ok {
		return Job{}, false
	}
	next, changed := fn(cur.clone())
	if !changed {
		return cur.clone(), true
	}
	next.ID = id
	s.data[id] = next.clone()
	return next, true
}

func (s *InMemoryStore) ReplaceAll(jobs []Job, mark uint64) {
	listed := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		if _, dup := listed[j.ID]; !dup {
			listed[j.ID] = j
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	order := make([]string, 0, len(listed))
	data := make(map[string]Job, len(listed))
	added := make(map[string]uint64)
	for _, id := range s.order {
		if _, ok := listed[id]; ok || s.added[id] <= mark {
			continue
		}
		order = append(order, id)
		data[id] = s.data[id]
		added[id] = s.added[id]
	}
	for _, j := range jobs {
		if _, seen := data[j.ID]; seen {
			continue
		}
		order = append(order, j.ID)
		data[j.ID] = j.clone()
	}
	s.order, s.data, s.added = order, data, added
}

func (s *InMemoryStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.data[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

func (s *InMemoryStore) All() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.data[id].clone())
	}
	return out
}
