package jit

import "sync"

// Interner assigns stable ids to symbol and variable names. It outlives
// individual runs and may be shared by several executors.
type Interner struct {
	mu    sync.RWMutex
	ids   map[string]uint32
	names []string
}

// NewInterner returns an empty interner.
func NewInterner() *Interner {
	return &Interner{ids: map[string]uint32{}}
}

// Intern returns the id for name, assigning one if needed.
func (in *Interner) Intern(name string) uint32 {
	in.mu.RLock()
	id, ok := in.ids[name]
	in.mu.RUnlock()
	if ok {
		return id
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.ids[name]; ok {
		return id
	}
	id = uint32(len(in.names))
	in.names = append(in.names, name)
	in.ids[name] = id
	return id
}

// Name returns the name for id.
func (in *Interner) Name(id uint32) (string, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if int(id) >= len(in.names) {
		return "", false
	}
	return in.names[id], true
}

// Len returns the number of interned names.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.names)
}
