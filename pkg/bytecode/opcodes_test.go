package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	// Ensure every defined opcode has metadata
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeNamesUnique(t *testing.T) {
	seen := map[string]Opcode{}
	for _, op := range AllOpcodes() {
		name := op.String()
		if prev, dup := seen[name]; dup {
			t.Errorf("%s used by 0x%02X and 0x%02X", name, byte(prev), byte(op))
		}
		seen[name] = op
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpPushLongSmall, "PUSH_LONG_SMALL"},
		{OpAdd, "ADD"},
		{OpJumpIfFalse, "JUMP_IF_FALSE"},
		{OpFork, "FORK"},
		{OpYield, "YIELD"},
		{OpEvalIf, "EVAL_IF"},
		{OpHalt, "HALT"},
	}

	for _, tt := range tests {
		got := tt.op.String()
		if got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0x21) // Not defined
	got := op.String()
	if !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
	if op.Valid() {
		t.Error("0x21 should not be valid")
	}
}

func TestOpcodeOperandLen(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpNop, 0},
		{OpPushLongSmall, 1},
		{OpPushLong, 2},
		{OpLoadLocal, 1},
		{OpJump, 2},
		{OpJumpShort, 1},
		{OpCall, 3},
		{OpFork, 2},
		{OpJumpTable, 2},
	}

	for _, tt := range tests {
		got := tt.op.OperandLen()
		if got != tt.want {
			t.Errorf("%s.OperandLen() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestLookupOpcode(t *testing.T) {
	for _, name := range []string{"PUSH_LONG_SMALL", "PushLongSmall", "pushlongsmall", "push_long_small"} {
		op, ok := LookupOpcode(name)
		if !ok || op != OpPushLongSmall {
			t.Errorf("LookupOpcode(%q) = %v, %v", name, op, ok)
		}
	}
	if _, ok := LookupOpcode("frobnicate"); ok {
		t.Error("expected unknown mnemonic")
	}
}

func TestNondeterministicSet(t *testing.T) {
	want := []Opcode{OpFork, OpYield, OpCollect, OpCollectN, OpAmb, OpCut,
		OpGuard, OpCommit, OpBacktrack, OpFail, OpBeginNondet, OpEndNondet}
	count := 0
	for _, op := range AllOpcodes() {
		if op.IsNondeterministic() {
			count++
		}
	}
	if count != len(want) {
		t.Errorf("got %d nondeterministic opcodes, want %d", count, len(want))
	}
	for _, op := range want {
		if !op.IsNondeterministic() {
			t.Errorf("%s should be nondeterministic", op)
		}
	}
}
