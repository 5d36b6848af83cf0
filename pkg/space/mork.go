package space

import (
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/chazu/mettajit/pkg/atom"
)

// PathKey renders a path atom as a slash-separated key. An expression of
// symbols (a b c) becomes "a/b/c"; any other atom uses its printed form.
func PathKey(a atom.Atom) string {
	e, ok := a.(atom.Expr)
	if !ok {
		if s, ok := a.(atom.Str); ok {
			return string(s)
		}
		return a.String()
	}
	parts := make([]string, len(e.Children))
	for i, c := range e.Children {
		parts[i] = PathKey(c)
	}
	return strings.Join(parts, "/")
}

// PathMap is a path-keyed atom store with prefix queries.
type PathMap struct {
	mu     sync.RWMutex
	values map[string]atom.Atom
	bloom  *Bloom
}

// NewPathMap returns an empty map whose keys are also recorded in bloom.
func NewPathMap(bloom *Bloom) *PathMap {
	return &PathMap{values: map[string]atom.Atom{}, bloom: bloom}
}

// Lookup returns the value stored at path.
func (m *PathMap) Lookup(path atom.Atom) (atom.Atom, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[PathKey(path)]
	return v, ok
}

// Insert stores v at path and reports whether the path was new.
func (m *PathMap) Insert(path, v atom.Atom) bool {
	key := PathKey(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.values[key]
	m.values[key] = v
	if m.bloom != nil {
		m.bloom.Add(key)
	}
	return !existed
}

// Delete removes path and reports whether it was present.
func (m *PathMap) Delete(path atom.Atom) bool {
	key := PathKey(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		return false
	}
	delete(m.values, key)
	return true
}

// Match returns, in key order, the values stored under prefix that match
// pattern.
func (m *PathMap) Match(prefix, pattern atom.Atom) []atom.Atom {
	p := PathKey(prefix)
	m.mu.RLock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		if k == p || strings.HasPrefix(k, p+"/") || p == "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([]atom.Atom, len(keys))
	for i, k := range keys {
		vals[i] = m.values[k]
	}
	m.mu.RUnlock()

	var out []atom.Atom
	for _, v := range vals {
		if _, ok := Match(pattern, v); ok {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the number of stored paths.
func (m *PathMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Bloom is a fixed-size bloom filter using double hashing over xxh3.
type Bloom struct {
	mu   sync.RWMutex
	bits []uint64
	k    uint32
}

// NewBloom returns a filter with m bits (rounded up to 64) and k probes.
func NewBloom(m, k int) *Bloom {
	if m < 64 {
		m = 64
	}
	if k < 1 {
		k = 1
	}
	return &Bloom{bits: make([]uint64, (m+63)/64), k: uint32(k)}
}

func (b *Bloom) probes(key string) []uint64 {
	h := xxh3.HashString(key)
	h1, h2 := h&0xffffffff, h>>32|1
	n := uint64(len(b.bits) * 64)
	out := make([]uint64, b.k)
	for i := range out {
		out[i] = (h1 + uint64(i)*h2) % n
	}
	return out
}

// Add records key.
func (b *Bloom) Add(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.probes(key) {
		b.bits[p/64] |= 1 << (p % 64)
	}
}

// MayContain reports false only if key was never added.
func (b *Bloom) MayContain(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.probes(key) {
		if b.bits[p/64]&(1<<(p%64)) == 0 {
			return false
		}
	}
	return true
}
