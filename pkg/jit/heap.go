package jit

import "github.com/chazu/mettajit/pkg/atom"

// Handle identifies a heap object: a 32-bit slot index plus 16 bits of
// generation, so a handle to a released object never resolves again.
type Handle uint64

func makeHandle(slot uint32, gen uint16) Handle {
	return Handle(uint64(gen)<<32 | uint64(slot) + 1)
}

func (h Handle) slot() uint32 { return uint32(uint64(h)&0xFFFF_FFFF) - 1 }
func (h Handle) gen() uint16  { return uint16(uint64(h) >> 32) }

type object struct {
	value    atom.Atom
	children []Word
	gen      uint16
	live     bool
}

// HeapStats counts heap activity since the last Reset.
type HeapStats struct {
	Allocated uint64
	Released  uint64
	Live      int
}

// Heap is the allocation arena for compound values created by compiled
// code. Every allocation is tracked; the executor releases whatever is not
// reachable from the values it hands back once a native call returns.
type Heap struct {
	objects   []object
	free      []uint32
	allocated uint64
	released  uint64
	live      int
}

// NewHeap returns an empty arena.
func NewHeap() *Heap {
	return &Heap{}
}

func (h *Heap) alloc(o object) Handle {
	var slot uint32
	if n := len(h.free); n > 0 {
		slot = h.free[n-1]
		h.free = h.free[:n-1]
		o.gen = h.objects[slot].gen
	} else {
		slot = uint32(len(h.objects))
		h.objects = append(h.objects, object{})
	}
	o.live = true
	h.objects[slot] = o
	h.allocated++
	h.live++
	return makeHandle(slot, o.gen)
}

// Alloc stores a leaf value.
func (h *Heap) Alloc(v atom.Atom) Handle {
	return h.alloc(object{value: v})
}

// AllocExpr stores an expression whose children are words. Children that
// reference the heap keep their targets reachable.
func (h *Heap) AllocExpr(children []Word) Handle {
	return h.alloc(object{children: children})
}

func (h *Heap) lookup(hd Handle) (*object, bool) {
	if hd == 0 {
		return nil, false
	}
	slot := hd.slot()
	if int(slot) >= len(h.objects) {
		return nil, false
	}
	o := &h.objects[slot]
	if !o.live || o.gen != hd.gen() {
		return nil, false
	}
	return o, true
}

// Valid reports whether hd refers to a live object.
func (h *Heap) Valid(hd Handle) bool {
	_, ok := h.lookup(hd)
	return ok
}

// Atom returns the leaf value stored at hd.
func (h *Heap) Atom(hd Handle) (atom.Atom, bool) {
	o, ok := h.lookup(hd)
	if !ok || o.value == nil {
		return nil, false
	}
	return o.value, true
}

// Children returns the child words of an expression object.
func (h *Heap) Children(hd Handle) ([]Word, bool) {
	o, ok := h.lookup(hd)
	if !ok || o.value != nil {
		return nil, false
	}
	return o.children, true
}

// Release frees hd. It reports false for stale or unknown handles.
func (h *Heap) Release(hd Handle) bool {
	o, ok := h.lookup(hd)
	if !ok {
		return false
	}
	*o = object{gen: o.gen + 1}
	h.free = append(h.free, hd.slot())
	h.released++
	h.live--
	return true
}

// Reachable returns every live handle transitively referenced by roots.
func (h *Heap) Reachable(roots []Word) map[Handle]struct{} {
	seen := map[Handle]struct{}{}
	work := make([]Word, 0, len(roots))
	work = append(work, roots...)
	for len(work) > 0 {
		w := work[len(work)-1]
		work = work[:len(work)-1]
		if !w.IsRef() {
			continue
		}
		hd := w.Handle()
		if _, dup := seen[hd]; dup {
			continue
		}
		o, ok := h.lookup(hd)
		if !ok {
			continue
		}
		seen[hd] = struct{}{}
		work = append(work, o.children...)
	}
	return seen
}

// ReleaseUnreachable frees every object not reachable from roots and
// returns how many were freed.
func (h *Heap) ReleaseUnreachable(roots []Word) int {
	keep := h.Reachable(roots)
	n := 0
	for slot := range h.objects {
		o := &h.objects[slot]
		if !o.live {
			continue
		}
		hd := makeHandle(uint32(slot), o.gen)
		if _, ok := keep[hd]; ok {
			continue
		}
		h.Release(hd)
		n++
	}
	return n
}

// Reset releases every object and clears the counters.
func (h *Heap) Reset() {
	for slot := range h.objects {
		gen := h.objects[slot].gen
		if h.objects[slot].live {
			gen++
		}
		h.objects[slot] = object{gen: gen}
	}
	h.free = h.free[:0]
	for slot := len(h.objects) - 1; slot >= 0; slot-- {
		h.free = append(h.free, uint32(slot))
	}
	h.allocated, h.released, h.live = 0, 0, 0
}

// Stats returns the allocation counters.
func (h *Heap) Stats() HeapStats {
	return HeapStats{Allocated: h.allocated, Released: h.released, Live: h.live}
}
