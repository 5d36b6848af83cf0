package jit

import (
	"testing"

	"github.com/chazu/mettajit/pkg/atom"
)

func TestHeapHandlesGoStale(t *testing.T) {
	h := NewHeap()
	hd := h.Alloc(atom.Text("x"))
	if !h.Valid(hd) {
		t.Fatal("fresh handle is not valid")
	}
	if !h.Release(hd) {
		t.Fatal("Release failed")
	}
	if h.Valid(hd) || h.Release(hd) {
		t.Error("released handle still resolves")
	}
	again := h.Alloc(atom.Text("y"))
	if again == hd {
		t.Error("slot reuse produced an identical handle")
	}
	if _, ok := h.Atom(hd); ok {
		t.Error("stale handle reads the new object")
	}
}

func TestHeapReachability(t *testing.T) {
	h := NewHeap()
	leaf := MakeHeap(h.Alloc(atom.Text("leaf")))
	inner := MakeHeap(h.AllocExpr([]Word{leaf}))
	root := MakeHeap(h.AllocExpr([]Word{inner, True}))
	garbage := MakeHeap(h.Alloc(atom.Flt(1)))

	if n := h.ReleaseUnreachable([]Word{root}); n != 1 {
		t.Errorf("released %d, want 1", n)
	}
	for _, w := range []Word{leaf, inner, root} {
		if !h.Valid(w.Handle()) {
			t.Errorf("%s was released although reachable", w)
		}
	}
	if h.Valid(garbage.Handle()) {
		t.Error("unreachable object survived")
	}
	s := h.Stats()
	if s.Allocated != 4 || s.Released != 1 || s.Live != 3 {
		t.Errorf("stats = %+v", s)
	}
}

func TestHeapReset(t *testing.T) {
	h := NewHeap()
	hd := h.Alloc(atom.Text("x"))
	h.Reset()
	if h.Valid(hd) {
		t.Error("handle survived Reset")
	}
	if s := h.Stats(); s != (HeapStats{}) {
		t.Errorf("stats after Reset = %+v", s)
	}
	if !h.Valid(h.Alloc(atom.Text("y"))) {
		t.Error("allocation after Reset failed")
	}
}

func TestSnapshotPool(t *testing.T) {
	var p SnapshotPool
	stack := []Word{True, False, Nil}
	s := p.Save(stack)
	if p.InUse() != 1 || p.Spills() != 0 {
		t.Fatalf("InUse = %d, Spills = %d", p.InUse(), p.Spills())
	}
	dst := make([]Word, 8)
	if n := p.Restore(s, dst); n != 3 || dst[0] != True || dst[2] != Nil {
		t.Errorf("Restore = %d %v", n, dst[:n])
	}
	p.Free(s)
	if p.InUse() != 0 {
		t.Errorf("InUse after Free = %d", p.InUse())
	}

	big := make([]Word, SnapshotInline+1)
	big[SnapshotInline] = Unit
	s = p.Save(big)
	if p.Spills() != 1 {
		t.Errorf("oversized stack did not spill")
	}
	dst = make([]Word, len(big))
	if n := p.Restore(s, dst); n != len(big) || dst[SnapshotInline] != Unit {
		t.Errorf("spilled restore = %d", n)
	}

	for i := 0; i < SnapshotSlots; i++ {
		p.Save(stack)
	}
	if p.InUse() != SnapshotSlots {
		t.Fatalf("InUse = %d, want %d", p.InUse(), SnapshotSlots)
	}
	p.Save(stack)
	if p.Spills() != 2 {
		t.Errorf("full pool did not spill, Spills = %d", p.Spills())
	}
	p.Reset()
	if p.InUse() != 0 || p.Spills() != 0 {
		t.Error("Reset left state behind")
	}
}
