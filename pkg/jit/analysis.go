package jit

import (
	"sort"

	"github.com/chazu/mettajit/pkg/bytecode"
)

// bailoutOps are compiled as an exit to the VM at the instruction.
var bailoutOps = map[bytecode.Opcode]string{
	bytecode.OpCall:          "rule call",
	bytecode.OpTailCall:      "rule call",
	bytecode.OpCallN:         "rule call",
	bytecode.OpTailCallN:     "rule call",
	bytecode.OpMapAtom:       "higher-order call",
	bytecode.OpFilterAtom:    "higher-order call",
	bytecode.OpFoldlAtom:     "higher-order call",
	bytecode.OpEvalSuperpose: "superpose",
}

// nativeOps are compiled inline. Opcodes with an entry point are
// supported as well.
var nativeOps = map[bytecode.Opcode]bool{}

func init() {
	for _, op := range []bytecode.Opcode{
		bytecode.OpNop, bytecode.OpPop, bytecode.OpDup, bytecode.OpSwap,
		bytecode.OpRot3, bytecode.OpOver, bytecode.OpDupN, bytecode.OpPopN,
		bytecode.OpPushNil, bytecode.OpPushTrue, bytecode.OpPushFalse,
		bytecode.OpPushUnit, bytecode.OpPushLongSmall, bytecode.OpPushLong,
		bytecode.OpPushAtom, bytecode.OpPushString, bytecode.OpPushUri,
		bytecode.OpPushConstant, bytecode.OpPushVariable, bytecode.OpPushEmpty,
		bytecode.OpMakeSExpr, bytecode.OpMakeSExprLarge, bytecode.OpMakeList,
		bytecode.OpMakeQuote,
		bytecode.OpLoadLocal, bytecode.OpStoreLocal, bytecode.OpLoadLocalWide,
		bytecode.OpStoreLocalWide, bytecode.OpLoadBinding, bytecode.OpStoreBinding,
		bytecode.OpHasBinding, bytecode.OpClearBindings,
		bytecode.OpPushBindingFrame, bytecode.OpPopBindingFrame,
		bytecode.OpJump, bytecode.OpJumpIfFalse, bytecode.OpJumpIfTrue,
		bytecode.OpJumpIfNil, bytecode.OpJumpIfError, bytecode.OpJumpTable,
		bytecode.OpJumpShort, bytecode.OpJumpIfFalseShort, bytecode.OpJumpIfTrueShort,
		bytecode.OpEvalIf, bytecode.OpReturn, bytecode.OpReturnMulti,
		bytecode.OpFork, bytecode.OpAmb, bytecode.OpYield, bytecode.OpFail,
		bytecode.OpBacktrack, bytecode.OpGuard, bytecode.OpCut, bytecode.OpCommit,
		bytecode.OpBeginNondet, bytecode.OpEndNondet, bytecode.OpCollect,
		bytecode.OpCollectN,
		bytecode.OpBreakpoint, bytecode.OpTrace, bytecode.OpHalt,
	} {
		nativeOps[op] = true
	}
}

// Supported reports whether op can appear in a compiled chunk, either
// natively or as a bailout.
func Supported(op bytecode.Opcode) bool {
	if nativeOps[op] || entriesByOp[op] != nil {
		return true
	}
	_, ok := bailoutOps[op]
	return ok
}

// analysis is the result of the pre-pass over a chunk.
type analysis struct {
	chunk  *bytecode.Chunk
	instrs []bytecode.Instruction
	index  map[int]int

	// preds counts control-flow predecessors per instruction offset.
	// Choice-point resumes restore the full stack and are not counted.
	preds map[int]int
	// depth is the operand-stack depth above the locals at each reached
	// instruction.
	depth   map[int]int
	leaders []int
	resumes map[int]bool

	maxDepth int
}

// stackEffect returns how many values in pops and pushes.
func stackEffect(in bytecode.Instruction) (pop, push int) {
	switch in.Op {
	case bytecode.OpDupN:
		return in.A, 2 * in.A
	case bytecode.OpPopN:
		return in.A, 0
	case bytecode.OpMakeSExpr, bytecode.OpMakeSExprLarge, bytecode.OpMakeList, bytecode.OpAmb:
		return in.A, 1
	case bytecode.OpCall, bytecode.OpTailCall,
		bytecode.OpCallNative, bytecode.OpCallExternal, bytecode.OpCallCached:
		return in.B, 1
	case bytecode.OpCallN, bytecode.OpTailCallN:
		return in.A + 1, 1
	case bytecode.OpFork:
		return 0, 1
	case bytecode.OpReturnMulti:
		return 0, 0
	}
	info := bytecode.GetOpcodeInfo(in.Op)
	return info.StackPop, info.StackPush
}

// terminates reports whether control never falls through in.
func terminates(in bytecode.Instruction) bool {
	if in.Op.IsTerminator() {
		return true
	}
	if in.Op == bytecode.OpFork && in.A == 0 {
		return true
	}
	_, bail := bailoutOps[in.Op]
	return bail
}

// successors returns the offsets control may reach from in, excluding
// choice-point resumes.
func (a *analysis) successors(in bytecode.Instruction) []int {
	var out []int
	switch {
	case in.Op == bytecode.OpJumpTable:
		t := &a.chunk.JumpTables[in.A]
		out = append(out, t.Targets()...)
	case in.Op.IsJump():
		out = append(out, in.Target)
	}
	if !terminates(in) {
		out = append(out, in.Next())
	}
	return out
}

func (c *Compiler) analyze(chunk *bytecode.Chunk) (*analysis, error) {
	if chunk.HasNondeterminism() && !c.opts.AllowNondet {
		return nil, &CompileError{IP: -1, Reason: "chunk is nondeterministic"}
	}
	instrs, err := chunk.Instructions()
	if err != nil {
		return nil, &CompileError{IP: -1, Reason: err.Error()}
	}
	a := &analysis{
		chunk:   chunk,
		instrs:  instrs,
		index:   make(map[int]int, len(instrs)),
		preds:   map[int]int{0: 1},
		depth:   map[int]int{},
		resumes: map[int]bool{},
	}
	for i, in := range instrs {
		a.index[in.IP] = i
	}
	end := chunk.Len()
	isBoundary := func(ip int) bool {
		_, ok := a.index[ip]
		return ok || ip == end
	}

	for _, in := range instrs {
		if err := checkInstruction(chunk, in); err != nil {
			return nil, err
		}
		if in.Op.IsJump() && !isBoundary(in.Target) {
			return nil, reject(in, "jump target %d is not an instruction boundary", in.Target)
		}
		if in.Op == bytecode.OpJumpTable {
			for _, t := range chunk.JumpTables[in.A].Targets() {
				if !isBoundary(t) {
					return nil, reject(in, "table target %d is not an instruction boundary", t)
				}
			}
		}
		for _, s := range a.successors(in) {
			a.preds[s]++
		}
		if (in.Op == bytecode.OpFork || in.Op == bytecode.OpAmb) && in.A > 1 {
			a.resumes[in.Next()] = true
		}
	}

	if err := a.simulate(); err != nil {
		return nil, err
	}

	leaders := map[int]bool{0: true, end: true}
	for ip, n := range a.preds {
		if n > 1 {
			leaders[ip] = true
		}
	}
	for _, in := range instrs {
		switch {
		case in.Op == bytecode.OpJumpTable:
			for _, t := range chunk.JumpTables[in.A].Targets() {
				leaders[t] = true
			}
		case in.Op.IsJump():
			leaders[in.Target] = true
		}
		if terminates(in) {
			leaders[in.Next()] = true
		}
	}
	for ip := range a.resumes {
		leaders[ip] = true
	}
	for ip := range leaders {
		a.leaders = append(a.leaders, ip)
	}
	sort.Ints(a.leaders)
	return a, nil
}

// simulate walks every reachable path from offset 0, tracking operand-stack
// depth, and enforces the single-value carry at merge points.
func (a *analysis) simulate() error {
	end := a.chunk.Len()
	a.depth[0] = 0
	work := []int{0}
	for len(work) > 0 {
		ip := work[len(work)-1]
		work = work[:len(work)-1]
		if ip == end {
			continue
		}
		in := a.instrs[a.index[ip]]
		d := a.depth[ip]
		pop, push := stackEffect(in)
		if d < pop {
			return reject(in, "stack underflow: depth %d, pops %d", d, pop)
		}
		out := d - pop + push
		a.maxDepth = max(a.maxDepth, d, out)
		for _, s := range a.successors(in) {
			sd := out
			if prev, seen := a.depth[s]; seen {
				if prev != sd {
					return reject(in, "inconsistent stack depth at %04x: %d and %d", s, prev, sd)
				}
				continue
			}
			if a.preds[s] > 1 && sd > 1 {
				return reject(in, "merge at %04x carries %d values", s, sd)
			}
			a.depth[s] = sd
			work = append(work, s)
		}
	}
	return nil
}

// checkInstruction validates one instruction's opcode and immediates.
func checkInstruction(chunk *bytecode.Chunk, in bytecode.Instruction) error {
	if in.Op == bytecode.OpLoadUpvalue {
		return reject(in, "closures are not compiled")
	}
	if !Supported(in.Op) {
		return reject(in, "unsupported opcode")
	}
	if bytecode.UsesConstant(in.Op) && in.A >= len(chunk.Constants) {
		return reject(in, "constant %d out of range", in.A)
	}
	switch in.Op {
	case bytecode.OpFork:
		for _, k := range in.Fork {
			if int(k) >= len(chunk.Constants) {
				return reject(in, "constant %d out of range", k)
			}
		}
	case bytecode.OpJumpTable:
		if in.A >= len(chunk.JumpTables) {
			return reject(in, "jump table %d out of range", in.A)
		}
	case bytecode.OpLoadLocal, bytecode.OpStoreLocal, bytecode.OpLoadLocalWide, bytecode.OpStoreLocalWide:
		if in.A >= chunk.LocalCount {
			return reject(in, "local slot %d out of range", in.A)
		}
	}
	return nil
}
