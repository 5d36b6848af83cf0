// Package jit compiles bytecode chunks into native Go closures.
//
// A chunk is split into basic blocks at jump targets, fall-through points
// and resume offsets. Each instruction becomes one step closure operating
// on a Context: an operand stack of NaN-boxed Words with locals at the
// bottom, a heap arena for compound values, choice points, results and
// binding frames.
//
// # Eligibility
//
// The analysis in CanCompile rejects chunks that use opcodes without a
// native form or a registered runtime entry, and chunks whose stack depth
// differs between paths meeting at a block. Nondeterministic chunks are
// admitted only with Options.AllowNondet.
//
// # Signals
//
// Code.Run returns a Signal. OK and End finish the run; Yield and Fail ask
// the caller to backtrack; Bailout hands the current instruction and stack
// to the bytecode VM; Error and Halt stop with ctx.Err or ctx.HaltIP.
// Bailout state is written once per run and cleared by the caller before
// native code is entered again.
package jit
