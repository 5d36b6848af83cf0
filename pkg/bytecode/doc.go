// Package bytecode provides the compiled form of MeTTa programs and the
// stack-based virtual machine that executes it.
//
// The bytecode format is designed for:
//   - Compact representation (one opcode byte plus a fixed-size immediate)
//   - Fast decoding (big-endian immediates, jumps relative to the next instruction)
//   - Easy serialization (CBOR, see MarshalChunk)
//
// # Architecture Overview
//
//   - Opcodes: the full instruction set, grouped by range (stack, values,
//     bindings, spaces, control flow, calls, matching, rules, special forms,
//     math, comparison, types, nondeterminism).
//
//   - Chunk: code, constant pool, jump tables and local count. A chunk knows
//     whether it is nondeterministic, carries a content hash (ChunkID) and a
//     JitProfile used by the tiered compiler.
//
//   - Builder and Assemble: construct chunks from Go or from assembly text.
//
//   - VM: executes every opcode. Locals live at the bottom of the value
//     stack. Opcodes that need the rule and space engine go through the
//     Bridge. Resume continues a run from any instruction with a supplied
//     stack, which is how the native tier hands work back on a bailout.
//
// # Nondeterminism
//
// Fork, Amb, Superpose and multi-result calls push choice points that
// snapshot the stack and bindings. Yield records a result and backtracks;
// Fail and Backtrack resume the most recent choice point; a run ends when
// none remain. Return and running off the end of the code end the run
// immediately, whatever choice points are pending.
package bytecode
