package service

import (
	"slices"
	"sync"
)

// Selection is the set of selected building ids. Every operation is total.
type Selection struct {
	mu      sync.RWMutex
	current []string // ids of the current building list, in list order
	ids     map[string]struct{}
}

// NewSelection creates an empty selection.
func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

// Toggle flips membership of id and reports whether it is now selected.
func (s *Selection) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// SelectAll sets the selection to exactly the ids of the current building list.
func (s *Selection) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids = make(map[string]struct{}, len(s.current))
	for _, id := range s.current {
		s.ids[id] = struct{}{}
	}
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ids)
}

// Reset installs the ids of a new building list and drops selected ids that
// are not part of it.
func (s *Selection) Reset(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = slices.Clone(ids)
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	for id := range s.ids {
		if _, ok := keep[id]; !ok {
			delete(s.ids, id)
		}
	}
}

// Contains reports whether id is selected.
func (s *Selection) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// IDs returns the selected ids in building list order. Ids toggled that are
// not in the list come last, sorted.
func (s *Selection) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.ids))
	listed := make(map[string]struct{}, len(s.current))
	for _, id := range s.current {
		listed[id] = struct{}{}
		if _, ok := s.ids[id]; ok {
			out = append(out, id)
		}
	}
	var extra []string
	for id := range s.ids {
		if _, ok := listed[id]; !ok {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

// Len returns the number of selected ids.
func (s *Selection) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Set returns a copy of the selection as a set.
func (s *Selection) Set() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(s.ids))
	for id := range s.ids {
		out[id] = true
	}
	return out
}
