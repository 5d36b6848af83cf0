package space

import (
	"sync"

	"github.com/chazu/mettajit/pkg/atom"
)

// States owns mutable state cells.
type States struct {
	mu    sync.Mutex
	next  uint64
	cells map[uint64]atom.Atom
}

// NewStates returns an empty cell store.
func NewStates() *States {
	return &States{cells: map[uint64]atom.Atom{}}
}

// New allocates a cell holding v.
func (s *States) New(v atom.Atom) atom.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.cells[s.next] = v
	return atom.State{ID: s.next}
}

// Get returns the value of a cell.
func (s *States) Get(st atom.State) (atom.Atom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cells[st.ID]
	return v, ok
}

// Change replaces the value of an existing cell.
func (s *States) Change(st atom.State, v atom.Atom) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cells[st.ID]; !ok {
		return false
	}
	s.cells[st.ID] = v
	return true
}
