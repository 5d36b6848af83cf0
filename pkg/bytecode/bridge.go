package bytecode

import "github.com/chazu/mettajit/pkg/atom"

// Bridge connects the VM to the rule and space engine. Opcodes that touch
// spaces, state, rules, special forms or external functions are delegated
// through it.
type Bridge interface {
	// Call executes a delegated opcode. operand is the resolved immediate
	// (a constant, or Nil when the opcode has none) and args are the popped
	// operands, deepest first.
	Call(op Opcode, operand atom.Atom, args []atom.Atom) (atom.Atom, error)

	// Rewrite applies one step of rule dispatch to expr and returns every
	// result. An empty slice means expr is irreducible.
	Rewrite(expr atom.Atom) ([]atom.Atom, error)

	// Unify unifies a and b and returns the variable bindings on success.
	Unify(a, b atom.Atom) (map[string]atom.Atom, bool)
}

// IsBridgeOp reports whether op is executed by the Bridge on both tiers.
func IsBridgeOp(op Opcode) bool {
	switch op {
	case OpLoadUpvalue,
		OpLoadGlobal, OpStoreGlobal, OpDefineRule, OpLoadSpace,
		OpSpaceAdd, OpSpaceRemove, OpSpaceMatch, OpSpaceGetAtoms,
		OpNewState, OpGetState, OpChangeState,
		OpCallNative, OpCallExternal, OpCallCached,
		OpMatch, OpMatchGuard, OpUnify,
		OpDispatchRules, OpTryRule, OpNextRule, OpCommitRule, OpFailRule,
		OpLookupRules, OpApplySubst,
		OpEvalLet, OpEvalLetStar, OpEvalMatch, OpEvalCase, OpEvalChain,
		OpEvalQuote, OpEvalUnquote, OpEvalEval, OpEvalBind, OpEvalNew,
		OpEvalCollapse, OpEvalMemo, OpEvalMemoFirst, OpEvalPragma,
		OpEvalFunction, OpEvalLambda, OpEvalApply,
		OpMorkLookup, OpMorkMatch, OpMorkInsert, OpMorkDelete, OpBloomCheck:
		return true
	}
	return false
}

// BridgeArgCount returns how many stack values a bridge opcode consumes.
func BridgeArgCount(in Instruction) int {
	switch in.Op {
	case OpCallNative, OpCallExternal, OpCallCached:
		return in.B
	}
	return GetOpcodeInfo(in.Op).StackPop
}

// BridgeOperand resolves the immediate passed to Bridge.Call.
func BridgeOperand(c *Chunk, in Instruction) (atom.Atom, error) {
	if in.Op == OpLoadUpvalue {
		return atom.Expr{Children: []atom.Atom{atom.Long(in.A), atom.Long(in.B)}}, nil
	}
	if UsesConstant(in.Op) {
		return c.Constant(in.A)
	}
	return atom.NilAtom, nil
}
