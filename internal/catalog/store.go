package catalog

import "sync/atomic"

// Store publishes the active catalog. Readers get whatever snapshot was
// current when they asked; Swap makes a new snapshot visible in one step.
type Store struct {
	cur atomic.Pointer[Catalog]
}

// Current returns the active catalog, or nil before the first successful
// load. A nil catalog means an empty lineup, not an error.
func (s *Store) Current() *Catalog {
	return s.cur.Load()
}

// Swap publishes cat as the active catalog.
func (s *Store) Swap(cat *Catalog) {
	s.cur.Store(cat)
}
