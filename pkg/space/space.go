package space

import (
	"strconv"
	"sync"

	"github.com/chazu/mettajit/pkg/atom"
)

// Space is an ordered multiset of atoms.
type Space struct {
	Name string

	mu     sync.RWMutex
	atoms  []atom.Atom
	serial uint64
}

// NewSpace returns an empty space.
func NewSpace(name string) *Space {
	return &Space{Name: name}
}

// Add appends a.
func (s *Space) Add(a atom.Atom) {
	s.mu.Lock()
	s.atoms = append(s.atoms, a)
	s.mu.Unlock()
}

// Remove deletes the first atom equal to a and reports whether one existed.
func (s *Space) Remove(a atom.Atom) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.atoms {
		if atom.Equal(x, a) {
			s.atoms = append(s.atoms[:i], s.atoms[i+1:]...)
			return true
		}
	}
	return false
}

// Atoms returns a snapshot of the contents in insertion order.
func (s *Space) Atoms() []atom.Atom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]atom.Atom, len(s.atoms))
	copy(out, s.atoms)
	return out
}

// Len returns the number of atoms.
func (s *Space) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.atoms)
}

// Query unifies pattern with every atom and returns template instantiated
// under each successful binding set.
func (s *Space) Query(pattern, template atom.Atom) []atom.Atom {
	s.mu.Lock()
	s.serial++
	serial := s.serial
	s.mu.Unlock()

	var out []atom.Atom
	for _, a := range s.Atoms() {
		bs, ok := Unify(pattern, rename(a, serial), nil)
		if !ok {
			continue
		}
		out = append(out, Subst(template, bs))
	}
	return out
}

// Spaces is a registry of named spaces.
type Spaces struct {
	mu     sync.RWMutex
	byName map[string]*Space
	anon   int
}

// Grounded space names present in every registry.
const (
	SelfSpace  = "self"
	KBSpace    = "kb"
	StackSpace = "stack"
)

// NewSpaces returns a registry holding the grounded spaces.
func NewSpaces() *Spaces {
	r := &Spaces{byName: map[string]*Space{}}
	for _, name := range []string{SelfSpace, KBSpace, StackSpace} {
		r.byName[name] = NewSpace(name)
	}
	return r
}

// Get returns the named space.
func (r *Spaces) Get(name string) (*Space, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Create returns the named space, creating it if needed.
func (r *Spaces) Create(name string) *Space {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byName[name]; ok {
		return s
	}
	s := NewSpace(name)
	r.byName[name] = s
	return s
}

// New creates a fresh anonymous space.
func (r *Spaces) New() *Space {
	r.mu.Lock()
	r.anon++
	n := r.anon
	r.mu.Unlock()
	return r.Create("space-" + strconv.Itoa(n))
}
