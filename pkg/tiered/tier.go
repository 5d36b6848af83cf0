// Package tiered decides which execution tier a chunk runs on and caches
// the native code of chunks that reached the JIT tiers.
//
// A chunk climbs a fixed ladder as it executes:
//
//	Interpreter  first executions
//	Bytecode     Warm executions and up
//	JitStage1    Hot executions and up; compiled to native code
//	JitStage2    Stage2 executions and up; same code, counted separately
//
// Profiles and the cache are keyed by chunk identity, so a second Chunk
// value holding the same program shares both.
package tiered

import "fmt"

// Tier is a rung of the promotion ladder.
type Tier uint8

const (
	Interpreter Tier = iota
	Bytecode
	JitStage1
	JitStage2
)

var tierNames = [...]string{"interpreter", "bytecode", "jit-stage1", "jit-stage2"}

func (t Tier) String() string {
	if int(t) < len(tierNames) {
		return tierNames[t]
	}
	return fmt.Sprintf("Tier(%d)", uint8(t))
}

// IsJit reports whether the tier runs native code.
func (t Tier) IsJit() bool { return t >= JitStage1 }

// Thresholds are the execution counts at which a chunk enters each tier.
type Thresholds struct {
	Warm   uint64
	Hot    uint64
	Stage2 uint64
}

// DefaultThresholds returns 10 / 100 / 500.
func DefaultThresholds() Thresholds {
	return Thresholds{Warm: 10, Hot: 100, Stage2: 500}
}

// Normalize replaces zero fields with defaults and orders the ladder.
func (th Thresholds) Normalize() Thresholds {
	def := DefaultThresholds()
	if th.Warm == 0 {
		th.Warm = def.Warm
	}
	if th.Hot == 0 {
		th.Hot = def.Hot
	}
	if th.Stage2 == 0 {
		th.Stage2 = def.Stage2
	}
	if th.Hot < th.Warm {
		th.Hot = th.Warm
	}
	if th.Stage2 < th.Hot {
		th.Stage2 = th.Hot
	}
	return th
}

// TierAt returns the tier for an execution count.
func (th Thresholds) TierAt(count uint64) Tier {
	switch {
	case count >= th.Stage2:
		return JitStage2
	case count >= th.Hot:
		return JitStage1
	case count >= th.Warm:
		return Bytecode
	default:
		return Interpreter
	}
}

// Threshold returns the minimum count of tier t.
func (th Thresholds) Threshold(t Tier) uint64 {
	switch t {
	case Bytecode:
		return th.Warm
	case JitStage1:
		return th.Hot
	case JitStage2:
		return th.Stage2
	}
	return 0
}
