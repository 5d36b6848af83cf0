package space

import (
	"sync"

	"github.com/chazu/mettajit/pkg/atom"
)

// MemoStats reports memo cache usage.
type MemoStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// Memo caches evaluation results keyed by the printed form of an atom.
type Memo struct {
	mu      sync.Mutex
	entries map[string][]atom.Atom
	hits    uint64
	misses  uint64
}

// NewMemo returns an empty cache.
func NewMemo() *Memo {
	return &Memo{entries: map[string][]atom.Atom{}}
}

// Get returns the cached results for key.
func (m *Memo) Get(key atom.Atom) ([]atom.Atom, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key.String()]
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	return v, ok
}

// Put stores results for key.
func (m *Memo) Put(key atom.Atom, results []atom.Atom) {
	m.mu.Lock()
	m.entries[key.String()] = append([]atom.Atom(nil), results...)
	m.mu.Unlock()
}

// GetOrCompute returns the cached results for key, calling fn on a miss.
func (m *Memo) GetOrCompute(key atom.Atom, fn func() ([]atom.Atom, error)) ([]atom.Atom, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return nil, err
	}
	m.Put(key, v)
	return v, nil
}

// Clear drops every entry.
func (m *Memo) Clear() {
	m.mu.Lock()
	m.entries = map[string][]atom.Atom{}
	m.mu.Unlock()
}

// Stats returns a snapshot of cache usage.
func (m *Memo) Stats() MemoStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MemoStats{Entries: len(m.entries), Hits: m.hits, Misses: m.misses}
}
