package jit

// Snapshot pool geometry.
const (
	SnapshotSlots  = 64
	SnapshotInline = 32
)

// snapshot refers to a saved value stack. Stacks that fit are kept in a
// pool slot; larger ones, or any taken while the pool is full, spill to a
// private slice.
type snapshot struct {
	slot  int
	n     int
	spill []Word
}

// SnapshotPool is a ring of fixed-size stack buffers used by Fork so that
// taking a choice point does not allocate.
type SnapshotPool struct {
	buf    [SnapshotSlots][SnapshotInline]Word
	used   [SnapshotSlots]bool
	next   int
	inUse  int
	spills uint64
}

// Save copies stack into the pool.
func (p *SnapshotPool) Save(stack []Word) snapshot {
	if len(stack) <= SnapshotInline && p.inUse < SnapshotSlots {
		for i := 0; i < SnapshotSlots; i++ {
			slot := (p.next + i) % SnapshotSlots
			if p.used[slot] {
				continue
			}
			p.used[slot] = true
			p.inUse++
			p.next = (slot + 1) % SnapshotSlots
			copy(p.buf[slot][:], stack)
			return snapshot{slot: slot, n: len(stack)}
		}
	}
	p.spills++
	return snapshot{slot: -1, n: len(stack), spill: append([]Word(nil), stack...)}
}

// Restore copies the snapshot into dst and returns its length.
func (p *SnapshotPool) Restore(s snapshot, dst []Word) int {
	if s.slot < 0 {
		return copy(dst, s.spill)
	}
	return copy(dst, p.buf[s.slot][:s.n])
}

// Free returns a snapshot's slot to the pool.
func (p *SnapshotPool) Free(s snapshot) {
	if s.slot >= 0 && p.used[s.slot] {
		p.used[s.slot] = false
		p.inUse--
	}
}

// Reset frees every slot.
func (p *SnapshotPool) Reset() {
	p.used = [SnapshotSlots]bool{}
	p.next, p.inUse, p.spills = 0, 0, 0
}

// InUse returns the number of occupied slots.
func (p *SnapshotPool) InUse() int { return p.inUse }

// Spills returns how many snapshots did not fit in the pool.
func (p *SnapshotPool) Spills() uint64 { return p.spills }

func (p *SnapshotPool) words(s snapshot) []Word {
	if s.slot < 0 {
		return s.spill
	}
	return p.buf[s.slot][:s.n]
}
