package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName(c.Name)
}

// DisassembleWithName returns a human-readable bytecode listing with a name header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; MeTTa Bytecode v%d id=%s\n", BytecodeVersion, c.ID()))
	if c.HasNondeterminism() {
		sb.WriteString("; Flags: [NONDET]\n")
	}
	if c.LocalCount > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", c.LocalCount))
	}
	sb.WriteString("\n")

	// Constants
	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, k := range c.Constants {
			display := k.String()
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			display = strings.ReplaceAll(display, "\n", "\\n")
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, display))
		}
		sb.WriteString("\n")
	}

	// Jump tables
	if len(c.JumpTables) > 0 {
		sb.WriteString("; Jump tables:\n")
		for i, t := range c.JumpTables {
			sb.WriteString(fmt.Sprintf(";   [%3d]", i))
			for _, e := range t.Entries {
				sb.WriteString(fmt.Sprintf(" %016x->%04X", e.Hash, e.Target))
			}
			sb.WriteString(fmt.Sprintf(" default->%04X\n", t.Default))
		}
		sb.WriteString("\n")
	}

	// Code section
	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.DisassembleInstruction(offset)
		sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		if instrLen == 0 {
			break
		}
		offset += instrLen
	}

	return sb.String()
}

// DisassembleInstruction disassembles a single instruction at the given offset.
// Returns the formatted string and the instruction length.
func (c *Chunk) DisassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}
	in, err := c.Decode(offset)
	if err != nil {
		return fmt.Sprintf("<%v>", err), 1
	}
	name := in.Op.String()

	switch {
	case in.Op == OpFork:
		parts := make([]string, len(in.Fork))
		for i, idx := range in.Fork {
			parts[i] = c.constantString(int(idx))
		}
		return fmt.Sprintf("%-20s %d [%s]", name, in.A, strings.Join(parts, ", ")), in.Len

	case in.Op.IsJump():
		return fmt.Sprintf("%-20s %+d -> %04X", name, in.A, in.Target), in.Len

	case in.Op == OpJumpTable:
		return fmt.Sprintf("%-20s %d", name, in.A), in.Len
	}

	switch operandShape(in.Op) {
	case shapeNone:
		return name, in.Len
	case shapeU16U8:
		return fmt.Sprintf("%-20s %d (%s) argc=%d", name, in.A, c.constantString(in.A), in.B), in.Len
	case shapeU8U8:
		return fmt.Sprintf("%-20s %d %d", name, in.A, in.B), in.Len
	}
	if UsesConstant(in.Op) {
		return fmt.Sprintf("%-20s %d (%s)", name, in.A, c.constantString(in.A)), in.Len
	}
	return fmt.Sprintf("%-20s %d", name, in.A), in.Len
}

func (c *Chunk) constantString(idx int) string {
	if idx < 0 || idx >= len(c.Constants) {
		return "<invalid>"
	}
	return c.Constants[idx].String()
}
