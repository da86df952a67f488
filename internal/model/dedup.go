package model

import "sync"

// DedupSet collects locations, keeping the first occurrence of each
// DedupKey. It is safe for concurrent use.
type DedupSet struct {
	mu    sync.Mutex
	seen  map[DedupKey]struct{}
	items []Location
}

// NewDedupSet creates an empty set.
func NewDedupSet() *DedupSet {
	return &DedupSet{seen: make(map[DedupKey]struct{})}
}

// Add inserts l unless a location with the same key is already present.
// It reports whether l was new.
func (s *DedupSet) Add(l Location) bool {
	k := l.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[k]; ok {
		return false
	}
	s.seen[k] = struct{}{}
	s.items = append(s.items, l)
	return true
}

// AddAll inserts every location and returns how many were new.
func (s *DedupSet) AddAll(locs []Location) int {
	added := 0
	for _, l := range locs {
		if s.Add(l) {
			added++
		}
	}
	return added
}

// Len returns the number of unique locations.
func (s *DedupSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Locations returns a copy of the unique locations in insertion order.
func (s *DedupSet) Locations() []Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Location, len(s.items))
	copy(out, s.items)
	return out
}

// Dedup returns locs without repeated keys, first occurrence wins.
func Dedup(locs []Location) []Location {
	s := NewDedupSet()
	s.AddAll(locs)
	return s.Locations()
}
