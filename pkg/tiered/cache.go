package tiered

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/jit"
)

// JitCache maps chunk identity to compiled code. It is safe for concurrent
// use; lookups of unrelated chunks never block each other.
type JitCache struct {
	entries sync.Map // bytecode.ChunkID -> *jit.Code
	count   atomic.Int64
	flights singleflight.Group

	compiles atomic.Uint64
}

// NewJitCache creates an empty cache.
func NewJitCache() *JitCache {
	return &JitCache{}
}

// Get returns the code cached for id.
func (c *JitCache) Get(id bytecode.ChunkID) (*jit.Code, bool) {
	v, ok := c.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*jit.Code), true
}

// Contains reports whether id has cached code.
func (c *JitCache) Contains(id bytecode.ChunkID) bool {
	_, ok := c.entries.Load(id)
	return ok
}

// Insert stores code for id unless an entry exists, and returns the entry
// that is now cached.
func (c *JitCache) Insert(id bytecode.ChunkID, code *jit.Code) *jit.Code {
	v, loaded := c.entries.LoadOrStore(id, code)
	if !loaded {
		c.count.Add(1)
	}
	return v.(*jit.Code)
}

// Remove drops the entry for id and returns it.
func (c *JitCache) Remove(id bytecode.ChunkID) (*jit.Code, bool) {
	v, ok := c.entries.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	c.count.Add(-1)
	return v.(*jit.Code), true
}

// Len returns the number of cached entries.
func (c *JitCache) Len() int { return int(c.count.Load()) }

// Clear drops every entry.
func (c *JitCache) Clear() {
	c.entries.Range(func(key, _ any) bool {
		if _, ok := c.entries.LoadAndDelete(key); ok {
			c.count.Add(-1)
		}
		return true
	})
}

// Compiles returns how many times GetOrCompile ran its compile function.
func (c *JitCache) Compiles() uint64 { return c.compiles.Load() }

// GetOrCompile returns the cached code for id, or runs compile and caches
// its result. Concurrent callers for the same id share a single call to
// compile. Errors are not cached.
func (c *JitCache) GetOrCompile(id bytecode.ChunkID, compile func() (*jit.Code, error)) (*jit.Code, error) {
	if code, ok := c.Get(id); ok {
		return code, nil
	}
	v, err, _ := c.flights.Do(id.String(), func() (any, error) {
		if code, ok := c.Get(id); ok {
			return code, nil
		}
		c.compiles.Add(1)
		code, err := compile()
		if err != nil {
			return nil, err
		}
		return c.Insert(id, code), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jit.Code), nil
}
