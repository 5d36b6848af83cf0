package bytecode

import (
	"fmt"
	"sort"
	"strings"
)

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop   Opcode = 0x00 // No operation
	OpPop   Opcode = 0x01 // Pop top of stack
	OpDup   Opcode = 0x02 // Duplicate top of stack
	OpSwap  Opcode = 0x03 // Swap top two stack elements
	OpRot3  Opcode = 0x04 // Rotate top three: a b c -> b c a
	OpOver  Opcode = 0x05 // Copy second element to top: a b -> a b a
	OpDupN  Opcode = 0x06 // Duplicate top n values: OpDupN <n:u8>
	OpPopN  Opcode = 0x07 // Pop n values: OpPopN <n:u8>

	// ========================================================================
	// Value creation (0x10-0x20)
	// ========================================================================

	OpPushNil        Opcode = 0x10 // Push Nil
	OpPushTrue       Opcode = 0x11 // Push True
	OpPushFalse      Opcode = 0x12 // Push False
	OpPushUnit       Opcode = 0x13 // Push ()
	OpPushLongSmall  Opcode = 0x14 // Push small integer: OpPushLongSmall <value:i8>
	OpPushLong       Opcode = 0x15 // Push integer constant: OpPushLong <index:u16>
	OpPushAtom       Opcode = 0x16 // Push symbol constant: OpPushAtom <index:u16>
	OpPushString     Opcode = 0x17 // Push string constant: OpPushString <index:u16>
	OpPushUri        Opcode = 0x18 // Push URI constant: OpPushUri <index:u16>
	OpPushConstant   Opcode = 0x19 // Push any constant: OpPushConstant <index:u16>
	OpMakeSExpr      Opcode = 0x1A // Pop n, push (a1 .. an): OpMakeSExpr <n:u8>
	OpMakeSExprLarge Opcode = 0x1B // OpMakeSExprLarge <n:u16>
	OpMakeList       Opcode = 0x1C // Pop n, push (Cons a1 (Cons .. Nil)): OpMakeList <n:u8>
	OpMakeQuote      Opcode = 0x1D // Pop x, push (quote x)
	OpPushEmpty      Opcode = 0x1E // Push ()-expression
	OpPushVariable   Opcode = 0x1F // Push variable constant: OpPushVariable <index:u16>
	OpConsAtom       Opcode = 0x20 // Pop head tail, push (head . tail)

	// ========================================================================
	// Extended atom operations (0x83-0x85)
	// ========================================================================

	OpIndexAtom Opcode = 0x83 // Pop expr index, push element
	OpMinAtom   Opcode = 0x84 // Pop expr, push smallest number
	OpMaxAtom   Opcode = 0x85 // Pop expr, push largest number

	// ========================================================================
	// Variables and bindings (0x30-0x3A)
	// ========================================================================

	OpLoadLocal        Opcode = 0x30 // Push local slot: OpLoadLocal <slot:u8>
	OpStoreLocal       Opcode = 0x31 // Pop into local slot: OpStoreLocal <slot:u8>
	OpLoadBinding      Opcode = 0x32 // Push binding: OpLoadBinding <name:u16>
	OpStoreBinding     Opcode = 0x33 // Pop into binding: OpStoreBinding <name:u16>
	OpLoadUpvalue      Opcode = 0x34 // Push enclosing-scope value: OpLoadUpvalue <depth:u8> <index:u8>
	OpHasBinding       Opcode = 0x35 // Push whether binding exists: OpHasBinding <name:u16>
	OpClearBindings    Opcode = 0x36 // Clear the current binding frame
	OpPushBindingFrame Opcode = 0x37 // Open a new binding frame
	OpPopBindingFrame  Opcode = 0x38 // Close the current binding frame
	OpLoadLocalWide    Opcode = 0x39 // OpLoadLocalWide <slot:u16>
	OpStoreLocalWide   Opcode = 0x3A // OpStoreLocalWide <slot:u16>

	// ========================================================================
	// Globals, spaces and state (0x40-0x4A)
	// ========================================================================

	OpLoadGlobal    Opcode = 0x40 // OpLoadGlobal <name:u16>
	OpStoreGlobal   Opcode = 0x41 // OpStoreGlobal <name:u16>
	OpDefineRule    Opcode = 0x42 // Pop pattern body, define rule: OpDefineRule <name:u16>
	OpLoadSpace     Opcode = 0x43 // Push named space: OpLoadSpace <name:u16>
	OpSpaceAdd      Opcode = 0x44 // Pop space atom, push Bool
	OpSpaceRemove   Opcode = 0x45 // Pop space atom, push Bool
	OpSpaceMatch    Opcode = 0x46 // Pop space pattern template, push results
	OpSpaceGetAtoms Opcode = 0x47 // Pop space, push contents
	OpNewState      Opcode = 0x48 // Pop initial, push state
	OpGetState      Opcode = 0x49 // Pop state, push value
	OpChangeState   Opcode = 0x4A // Pop state value, push state

	// ========================================================================
	// Control flow (0x50-0x58)
	// ========================================================================

	OpJump             Opcode = 0x50 // Unconditional jump: OpJump <offset:i16>
	OpJumpIfFalse      Opcode = 0x51 // Pop, jump if falsy: OpJumpIfFalse <offset:i16>
	OpJumpIfTrue       Opcode = 0x52 // Pop, jump if truthy: OpJumpIfTrue <offset:i16>
	OpJumpIfNil        Opcode = 0x53 // Pop, jump if Nil: OpJumpIfNil <offset:i16>
	OpJumpIfError      Opcode = 0x54 // Peek, jump if error: OpJumpIfError <offset:i16>
	OpJumpTable        Opcode = 0x55 // Pop, multi-way jump: OpJumpTable <table:u16>
	OpJumpShort        Opcode = 0x56 // OpJumpShort <offset:i8>
	OpJumpIfFalseShort Opcode = 0x57 // OpJumpIfFalseShort <offset:i8>
	OpJumpIfTrueShort  Opcode = 0x58 // OpJumpIfTrueShort <offset:i8>

	// ========================================================================
	// Calls (0x60-0x6C)
	// ========================================================================

	OpCall         Opcode = 0x60 // Call rule: OpCall <head:u16> <arity:u8>
	OpTailCall     Opcode = 0x61 // OpTailCall <head:u16> <arity:u8>
	OpReturn       Opcode = 0x62 // Return top of stack
	OpReturnMulti  Opcode = 0x63 // Return every stack value above the locals
	OpCallN        Opcode = 0x64 // Call with head on stack: OpCallN <n:u8>
	OpTailCallN    Opcode = 0x65 // OpTailCallN <n:u8>
	OpCallNative   Opcode = 0x66 // OpCallNative <name:u16> <arity:u8>
	OpCallExternal Opcode = 0x67 // OpCallExternal <name:u16> <arity:u8>
	OpCallCached   Opcode = 0x68 // OpCallCached <name:u16> <arity:u8>
	OpAmb          Opcode = 0x69 // Choose among n stacked values: OpAmb <n:u8>
	OpGuard        Opcode = 0x6A // Pop Bool, backtrack if False
	OpCommit       Opcode = 0x6B // Drop n choice points (0 = all): OpCommit <n:u8>
	OpBacktrack    Opcode = 0x6C // Force backtracking

	// ========================================================================
	// Pattern matching and atom inspection (0x70-0x82)
	// ========================================================================

	OpMatch       Opcode = 0x70 // Pop pattern value, push Bool
	OpMatchBind   Opcode = 0x71 // Pop pattern value, bind, push Bool
	OpMatchHead   Opcode = 0x72 // Pop expr, push head == constant: OpMatchHead <index:u8>
	OpMatchArity  Opcode = 0x73 // Pop expr, push arity == n: OpMatchArity <n:u8>
	OpMatchGuard  Opcode = 0x74 // Pop value, evaluate guard: OpMatchGuard <index:u16>
	OpUnify       Opcode = 0x75 // Pop a b, push Bool
	OpUnifyBind   Opcode = 0x76 // Pop a b, bind, push Bool
	OpIsVariable  Opcode = 0x77 // Pop, push Bool
	OpIsSExpr     Opcode = 0x78 // Pop, push Bool
	OpIsSymbol    Opcode = 0x79 // Pop, push Bool
	OpGetHead     Opcode = 0x7A // Pop expr, push head
	OpGetTail     Opcode = 0x7B // Pop expr, push tail
	OpGetArity    Opcode = 0x7C // Pop expr, push arity
	OpGetElement  Opcode = 0x7D // Pop expr, push element: OpGetElement <index:u8>
	OpDeconAtom   Opcode = 0x7E // Pop expr, push (head tail)
	OpRepr        Opcode = 0x7F // Pop, push printed form
	OpMapAtom     Opcode = 0x80 // Pop expr, map function: OpMapAtom <fn:u16>
	OpFilterAtom  Opcode = 0x81 // Pop expr, filter by predicate: OpFilterAtom <fn:u16>
	OpFoldlAtom   Opcode = 0x82 // Pop expr init, left fold: OpFoldlAtom <fn:u16>

	// ========================================================================
	// Rule dispatch (0x90-0x96)
	// ========================================================================

	OpDispatchRules Opcode = 0x90 // Pop expr, push first rewrite
	OpTryRule       Opcode = 0x91 // OpTryRule <rule:u16>
	OpNextRule      Opcode = 0x92 // Advance to the next candidate rule
	OpCommitRule    Opcode = 0x93 // Commit to the current rule
	OpFailRule      Opcode = 0x94 // Signal rule failure
	OpLookupRules   Opcode = 0x95 // Push rule count for head: OpLookupRules <head:u16>
	OpApplySubst    Opcode = 0x96 // Pop expr, apply current bindings

	// ========================================================================
	// Special forms (0xA0-0xB2)
	// ========================================================================

	OpEvalIf        Opcode = 0xA0 // Pop cond then else, push selected
	OpEvalLet       Opcode = 0xA1
	OpEvalLetStar   Opcode = 0xA2
	OpEvalMatch     Opcode = 0xA3
	OpEvalCase      Opcode = 0xA4
	OpEvalChain     Opcode = 0xA5
	OpEvalQuote     Opcode = 0xA6
	OpEvalUnquote   Opcode = 0xA7
	OpEvalEval      Opcode = 0xA8
	OpEvalBind      Opcode = 0xA9
	OpEvalNew       Opcode = 0xAA
	OpEvalCollapse  Opcode = 0xAB
	OpEvalSuperpose Opcode = 0xAC // Pop expr, choose among its children
	OpEvalMemo      Opcode = 0xAD
	OpEvalMemoFirst Opcode = 0xAE
	OpEvalPragma    Opcode = 0xAF
	OpEvalFunction  Opcode = 0xB0
	OpEvalLambda    Opcode = 0xB1
	OpEvalApply     Opcode = 0xB2

	// ========================================================================
	// Floating-point math (0xB8-0xBF, 0xC9-0xCE)
	// ========================================================================

	OpSin       Opcode = 0xB8
	OpCos       Opcode = 0xB9
	OpTan       Opcode = 0xBA
	OpAsin      Opcode = 0xBB
	OpAcos      Opcode = 0xBC
	OpAtan      Opcode = 0xBD
	OpIsNan     Opcode = 0xBE
	OpIsInf     Opcode = 0xBF
	OpSqrt      Opcode = 0xC9
	OpLog       Opcode = 0xCA // Pop base x, push log_base(x)
	OpTrunc     Opcode = 0xCB
	OpCeil      Opcode = 0xCC
	OpFloorMath Opcode = 0xCD
	OpRound     Opcode = 0xCE

	// ========================================================================
	// Arithmetic (0xC0-0xC8)
	// ========================================================================

	OpAdd      Opcode = 0xC0 // Pop two, push sum
	OpSub      Opcode = 0xC1 // Pop two, push difference (a - b where b is TOS)
	OpMul      Opcode = 0xC2 // Pop two, push product
	OpDiv      Opcode = 0xC3 // Pop two, push quotient
	OpMod      Opcode = 0xC4 // Pop two, push remainder
	OpNeg      Opcode = 0xC5 // Negate top of stack
	OpAbs      Opcode = 0xC6 // Absolute value
	OpFloorDiv Opcode = 0xC7 // Pop two, push floor(a / b)
	OpPow      Opcode = 0xC8 // Pop two, push a^b

	// ========================================================================
	// Comparison (0xD0-0xD6)
	// ========================================================================

	OpLt       Opcode = 0xD0
	OpLe       Opcode = 0xD1
	OpGt       Opcode = 0xD2
	OpGe       Opcode = 0xD3
	OpEq       Opcode = 0xD4
	OpNe       Opcode = 0xD5
	OpStructEq Opcode = 0xD6

	// ========================================================================
	// Logic and types (0xE0-0xEC)
	// ========================================================================

	OpAnd         Opcode = 0xE0
	OpOr          Opcode = 0xE1
	OpNot         Opcode = 0xE2
	OpXor         Opcode = 0xE3
	OpGetType     Opcode = 0xE8 // Pop, push type symbol
	OpCheckType   Opcode = 0xE9 // Pop value type, push Bool
	OpIsType      Opcode = 0xEA // Pop value type, push Bool
	OpAssertType  Opcode = 0xEB // Pop value type, push value or error
	OpGetMetaType Opcode = 0xEC // Pop, push meta-type symbol

	// ========================================================================
	// Nondeterminism, MORK bridge and debug (0xF0-0xFF)
	// ========================================================================

	OpFork        Opcode = 0xF0 // OpFork <count:u16> <index:u16>*count
	OpFail        Opcode = 0xF1 // Backtrack to the latest choice point
	OpCut         Opcode = 0xF2 // Drop choice points since the nearest cut marker
	OpCollect     Opcode = 0xF3 // Push collected results: OpCollect <reserved:u16>
	OpCollectN    Opcode = 0xF4 // Push at most n results: OpCollectN <n:u8>
	OpYield       Opcode = 0xF5 // Pop and emit a result, then backtrack
	OpBeginNondet Opcode = 0xF6 // Open a nondeterministic section
	OpEndNondet   Opcode = 0xF7 // Close a nondeterministic section
	OpMorkLookup  Opcode = 0xF8
	OpMorkMatch   Opcode = 0xF9
	OpMorkInsert  Opcode = 0xFA
	OpMorkDelete  Opcode = 0xFB
	OpBloomCheck  Opcode = 0xFC
	OpBreakpoint  Opcode = 0xFD
	OpTrace       Opcode = 0xFE // Print TOS, leave it in place
	OpHalt        Opcode = 0xFF
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = operand dependent)
	StackPush  int    // How many values pushed to stack (-1 = operand dependent)
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpSwap: {"SWAP", 2, 2, 0},
	OpRot3: {"ROT3", 3, 3, 0},
	OpOver: {"OVER", 2, 3, 0},
	OpDupN: {"DUP_N", -1, -1, 1},
	OpPopN: {"POP_N", -1, 0, 1},

	// Value creation
	OpPushNil:        {"PUSH_NIL", 0, 1, 0},
	OpPushTrue:       {"PUSH_TRUE", 0, 1, 0},
	OpPushFalse:      {"PUSH_FALSE", 0, 1, 0},
	OpPushUnit:       {"PUSH_UNIT", 0, 1, 0},
	OpPushLongSmall:  {"PUSH_LONG_SMALL", 0, 1, 1},
	OpPushLong:       {"PUSH_LONG", 0, 1, 2},
	OpPushAtom:       {"PUSH_ATOM", 0, 1, 2},
	OpPushString:     {"PUSH_STRING", 0, 1, 2},
	OpPushUri:        {"PUSH_URI", 0, 1, 2},
	OpPushConstant:   {"PUSH_CONSTANT", 0, 1, 2},
	OpMakeSExpr:      {"MAKE_SEXPR", -1, 1, 1},
	OpMakeSExprLarge: {"MAKE_SEXPR_LARGE", -1, 1, 2},
	OpMakeList:       {"MAKE_LIST", -1, 1, 1},
	OpMakeQuote:      {"MAKE_QUOTE", 1, 1, 0},
	OpPushEmpty:      {"PUSH_EMPTY", 0, 1, 0},
	OpPushVariable:   {"PUSH_VARIABLE", 0, 1, 2},
	OpConsAtom:       {"CONS_ATOM", 2, 1, 0},
	OpIndexAtom:      {"INDEX_ATOM", 2, 1, 0},
	OpMinAtom:        {"MIN_ATOM", 1, 1, 0},
	OpMaxAtom:        {"MAX_ATOM", 1, 1, 0},

	// Variables and bindings
	OpLoadLocal:        {"LOAD_LOCAL", 0, 1, 1},
	OpStoreLocal:       {"STORE_LOCAL", 1, 0, 1},
	OpLoadBinding:      {"LOAD_BINDING", 0, 1, 2},
	OpStoreBinding:     {"STORE_BINDING", 1, 0, 2},
	OpLoadUpvalue:      {"LOAD_UPVALUE", 0, 1, 2},
	OpHasBinding:       {"HAS_BINDING", 0, 1, 2},
	OpClearBindings:    {"CLEAR_BINDINGS", 0, 0, 0},
	OpPushBindingFrame: {"PUSH_BINDING_FRAME", 0, 0, 0},
	OpPopBindingFrame:  {"POP_BINDING_FRAME", 0, 0, 0},
	OpLoadLocalWide:    {"LOAD_LOCAL_WIDE", 0, 1, 2},
	OpStoreLocalWide:   {"STORE_LOCAL_WIDE", 1, 0, 2},

	// Globals, spaces and state
	OpLoadGlobal:    {"LOAD_GLOBAL", 0, 1, 2},
	OpStoreGlobal:   {"STORE_GLOBAL", 1, 1, 2},
	OpDefineRule:    {"DEFINE_RULE", 2, 1, 2},
	OpLoadSpace:     {"LOAD_SPACE", 0, 1, 2},
	OpSpaceAdd:      {"SPACE_ADD", 2, 1, 0},
	OpSpaceRemove:   {"SPACE_REMOVE", 2, 1, 0},
	OpSpaceMatch:    {"SPACE_MATCH", 3, 1, 0},
	OpSpaceGetAtoms: {"SPACE_GET_ATOMS", 1, 1, 0},
	OpNewState:      {"NEW_STATE", 1, 1, 0},
	OpGetState:      {"GET_STATE", 1, 1, 0},
	OpChangeState:   {"CHANGE_STATE", 2, 1, 0},

	// Control flow
	OpJump:             {"JUMP", 0, 0, 2},
	OpJumpIfFalse:      {"JUMP_IF_FALSE", 1, 0, 2},
	OpJumpIfTrue:       {"JUMP_IF_TRUE", 1, 0, 2},
	OpJumpIfNil:        {"JUMP_IF_NIL", 1, 0, 2},
	OpJumpIfError:      {"JUMP_IF_ERROR", 0, 0, 2},
	OpJumpTable:        {"JUMP_TABLE", 1, 0, 2},
	OpJumpShort:        {"JUMP_SHORT", 0, 0, 1},
	OpJumpIfFalseShort: {"JUMP_IF_FALSE_SHORT", 1, 0, 1},
	OpJumpIfTrueShort:  {"JUMP_IF_TRUE_SHORT", 1, 0, 1},

	// Calls
	OpCall:         {"CALL", -1, 1, 3},
	OpTailCall:     {"TAIL_CALL", -1, 1, 3},
	OpReturn:       {"RETURN", 1, 0, 0},
	OpReturnMulti:  {"RETURN_MULTI", -1, 0, 0},
	OpCallN:        {"CALL_N", -1, 1, 1},
	OpTailCallN:    {"TAIL_CALL_N", -1, 1, 1},
	OpCallNative:   {"CALL_NATIVE", -1, 1, 3},
	OpCallExternal: {"CALL_EXTERNAL", -1, 1, 3},
	OpCallCached:   {"CALL_CACHED", -1, 1, 3},
	OpAmb:          {"AMB", -1, 1, 1},
	OpGuard:        {"GUARD", 1, 0, 0},
	OpCommit:       {"COMMIT", 0, 0, 1},
	OpBacktrack:    {"BACKTRACK", 0, 0, 0},

	// Pattern matching and atom inspection
	OpMatch:      {"MATCH", 2, 1, 0},
	OpMatchBind:  {"MATCH_BIND", 2, 1, 0},
	OpMatchHead:  {"MATCH_HEAD", 1, 1, 1},
	OpMatchArity: {"MATCH_ARITY", 1, 1, 1},
	OpMatchGuard: {"MATCH_GUARD", 1, 1, 2},
	OpUnify:      {"UNIFY", 2, 1, 0},
	OpUnifyBind:  {"UNIFY_BIND", 2, 1, 0},
	OpIsVariable: {"IS_VARIABLE", 1, 1, 0},
	OpIsSExpr:    {"IS_SEXPR", 1, 1, 0},
	OpIsSymbol:   {"IS_SYMBOL", 1, 1, 0},
	OpGetHead:    {"GET_HEAD", 1, 1, 0},
	OpGetTail:    {"GET_TAIL", 1, 1, 0},
	OpGetArity:   {"GET_ARITY", 1, 1, 0},
	OpGetElement: {"GET_ELEMENT", 1, 1, 1},
	OpDeconAtom:  {"DECON_ATOM", 1, 1, 0},
	OpRepr:       {"REPR", 1, 1, 0},
	OpMapAtom:    {"MAP_ATOM", 1, 1, 2},
	OpFilterAtom: {"FILTER_ATOM", 1, 1, 2},
	OpFoldlAtom:  {"FOLDL_ATOM", 2, 1, 2},

	// Rule dispatch
	OpDispatchRules: {"DISPATCH_RULES", 1, 1, 0},
	OpTryRule:       {"TRY_RULE", 1, 1, 2},
	OpNextRule:      {"NEXT_RULE", 0, 0, 0},
	OpCommitRule:    {"COMMIT_RULE", 0, 0, 0},
	OpFailRule:      {"FAIL_RULE", 0, 0, 0},
	OpLookupRules:   {"LOOKUP_RULES", 0, 1, 2},
	OpApplySubst:    {"APPLY_SUBST", 1, 1, 0},

	// Special forms
	OpEvalIf:        {"EVAL_IF", 3, 1, 0},
	OpEvalLet:       {"EVAL_LET", 2, 1, 0},
	OpEvalLetStar:   {"EVAL_LET_STAR", 1, 1, 0},
	OpEvalMatch:     {"EVAL_MATCH", 2, 1, 0},
	OpEvalCase:      {"EVAL_CASE", 2, 1, 0},
	OpEvalChain:     {"EVAL_CHAIN", 2, 1, 0},
	OpEvalQuote:     {"EVAL_QUOTE", 1, 1, 0},
	OpEvalUnquote:   {"EVAL_UNQUOTE", 1, 1, 0},
	OpEvalEval:      {"EVAL_EVAL", 1, 1, 0},
	OpEvalBind:      {"EVAL_BIND", 2, 1, 0},
	OpEvalNew:       {"EVAL_NEW", 0, 1, 0},
	OpEvalCollapse:  {"EVAL_COLLAPSE", 1, 1, 0},
	OpEvalSuperpose: {"EVAL_SUPERPOSE", 1, 1, 0},
	OpEvalMemo:      {"EVAL_MEMO", 1, 1, 0},
	OpEvalMemoFirst: {"EVAL_MEMO_FIRST", 1, 1, 0},
	OpEvalPragma:    {"EVAL_PRAGMA", 1, 1, 0},
	OpEvalFunction:  {"EVAL_FUNCTION", 3, 1, 0},
	OpEvalLambda:    {"EVAL_LAMBDA", 2, 1, 0},
	OpEvalApply:     {"EVAL_APPLY", 2, 1, 0},

	// Floating-point math
	OpSqrt:      {"SQRT", 1, 1, 0},
	OpLog:       {"LOG", 2, 1, 0},
	OpTrunc:     {"TRUNC", 1, 1, 0},
	OpCeil:      {"CEIL", 1, 1, 0},
	OpFloorMath: {"FLOOR_MATH", 1, 1, 0},
	OpRound:     {"ROUND", 1, 1, 0},
	OpSin:       {"SIN", 1, 1, 0},
	OpCos:       {"COS", 1, 1, 0},
	OpTan:       {"TAN", 1, 1, 0},
	OpAsin:      {"ASIN", 1, 1, 0},
	OpAcos:      {"ACOS", 1, 1, 0},
	OpAtan:      {"ATAN", 1, 1, 0},
	OpIsNan:     {"IS_NAN", 1, 1, 0},
	OpIsInf:     {"IS_INF", 1, 1, 0},

	// Arithmetic
	OpAdd:      {"ADD", 2, 1, 0},
	OpSub:      {"SUB", 2, 1, 0},
	OpMul:      {"MUL", 2, 1, 0},
	OpDiv:      {"DIV", 2, 1, 0},
	OpMod:      {"MOD", 2, 1, 0},
	OpNeg:      {"NEG", 1, 1, 0},
	OpAbs:      {"ABS", 1, 1, 0},
	OpFloorDiv: {"FLOOR_DIV", 2, 1, 0},
	OpPow:      {"POW", 2, 1, 0},

	// Comparison
	OpLt:       {"LT", 2, 1, 0},
	OpLe:       {"LE", 2, 1, 0},
	OpGt:       {"GT", 2, 1, 0},
	OpGe:       {"GE", 2, 1, 0},
	OpEq:       {"EQ", 2, 1, 0},
	OpNe:       {"NE", 2, 1, 0},
	OpStructEq: {"STRUCT_EQ", 2, 1, 0},

	// Logic and types
	OpAnd:         {"AND", 2, 1, 0},
	OpOr:          {"OR", 2, 1, 0},
	OpNot:         {"NOT", 1, 1, 0},
	OpXor:         {"XOR", 2, 1, 0},
	OpGetType:     {"GET_TYPE", 1, 1, 0},
	OpCheckType:   {"CHECK_TYPE", 2, 1, 0},
	OpIsType:      {"IS_TYPE", 2, 1, 0},
	OpAssertType:  {"ASSERT_TYPE", 2, 1, 0},
	OpGetMetaType: {"GET_META_TYPE", 1, 1, 0},

	// Nondeterminism, MORK bridge and debug
	OpFork:        {"FORK", 0, 1, 2}, // plus count * 2 index bytes
	OpFail:        {"FAIL", 0, 0, 0},
	OpCut:         {"CUT", 0, 0, 0},
	OpCollect:     {"COLLECT", 0, 1, 2},
	OpCollectN:    {"COLLECT_N", 0, 1, 1},
	OpYield:       {"YIELD", 1, 0, 0},
	OpBeginNondet: {"BEGIN_NONDET", 0, 0, 0},
	OpEndNondet:   {"END_NONDET", 0, 0, 0},
	OpMorkLookup:  {"MORK_LOOKUP", 1, 1, 0},
	OpMorkMatch:   {"MORK_MATCH", 2, 1, 0},
	OpMorkInsert:  {"MORK_INSERT", 2, 1, 0},
	OpMorkDelete:  {"MORK_DELETE", 1, 1, 0},
	OpBloomCheck:  {"BLOOM_CHECK", 1, 1, 0},
	OpBreakpoint:  {"BREAKPOINT", 0, 0, 0},
	OpTrace:       {"TRACE", 1, 1, 0},
	OpHalt:        {"HALT", 0, 0, 0},
}

var opcodeByName map[string]Opcode

func init() {
	opcodeByName = make(map[string]Opcode, 2*len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		opcodeByName[info.Name] = op
		opcodeByName[strings.ReplaceAll(info.Name, "_", "")] = op
	}
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op)), StackPop: 0, StackPush: 0, OperandLen: 0}
}

// LookupOpcode finds an opcode by name. Matching ignores case and
// underscores, so "PUSH_LONG_SMALL", "PushLongSmall" and "pushlongsmall"
// all name the same opcode.
func LookupOpcode(name string) (Opcode, bool) {
	key := strings.ToUpper(name)
	if op, ok := opcodeByName[key]; ok {
		return op, true
	}
	op, ok := opcodeByName[strings.ReplaceAll(key, "_", "")]
	return op, ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether the byte is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// OperandLen returns the number of fixed operand bytes for this opcode.
// OpFork is followed by a variable-length index list; see Chunk.InstructionLen.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode transfers control to a relative offset.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpIfTrueShort && op != OpJumpTable
}

// IsConditionalJump returns true for jumps that may fall through.
func (op Opcode) IsConditionalJump() bool {
	switch op {
	case OpJumpIfFalse, OpJumpIfTrue, OpJumpIfNil, OpJumpIfError,
		OpJumpIfFalseShort, OpJumpIfTrueShort:
		return true
	}
	return false
}

// IsReturn returns true if this opcode terminates execution.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnMulti || op == OpHalt
}

// IsTerminator returns true if control never falls through to the next
// instruction.
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpJump, OpJumpShort, OpJumpTable, OpReturn, OpReturnMulti, OpHalt,
		OpFail, OpBacktrack, OpYield:
		return true
	}
	return false
}

// IsNondeterministic returns true for opcodes that create, consume or prune
// choice points.
func (op Opcode) IsNondeterministic() bool {
	switch op {
	case OpFork, OpYield, OpCollect, OpCollectN, OpAmb, OpCut, OpGuard,
		OpCommit, OpBacktrack, OpFail, OpBeginNondet, OpEndNondet:
		return true
	}
	return false
}

// AllOpcodes returns a slice of all defined opcodes in byte order.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	sort.Slice(opcodes, func(i, j int) bool { return opcodes[i] < opcodes[j] })
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
