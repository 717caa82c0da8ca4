// Package jit defines the boundary between the interpreter and an optional
// native code-generation backend. The interpreter in internal/rv64 is the
// complete semantic reference; a Backend is purely an accelerator and may
// fall back to the interpreter for any instruction it does not translate.
package jit

import "fmt"

// RegisterFile is the subset of CPU state a generated translation unit
// reads and writes directly. It mirrors the hart's integer/FP register
// files and PC so a backend can be handed a raw pointer to them without
// depending on internal/rv64's CPU type.
type RegisterFile struct {
	X  [32]uint64
	F  [32]uint64
	PC uint64
}

// Fallback is invoked from generated native code for any instruction a
// translation unit does not implement directly: ECALL, MRET/SRET, CSR
// access, atomics, FP, and compressed FP per the boundary contract. It
// executes exactly one instruction against regs and returns the PC the
// generated code should resume at.
type Fallback func(regs *RegisterFile, insn uint32) (nextPC uint64, err error)

// Backend compiles a linear run of instructions starting at startPC into
// a native function and executes it. A translation unit ends at the first
// control-transfer instruction (branch, jump, trap, or a CSR write that
// could change dispatch); Run returns the PC the interpreter should resume
// fetching from next.
type Backend interface {
	// Translate compiles the instruction stream beginning at startPC,
	// reading guest memory through fetch. It may translate as few or as
	// many instructions as it likes before ending the unit.
	Translate(startPC uint64, fetch func(pc uint64) (uint32, error)) (TranslationUnit, error)

	// Close releases any resources held by the backend (loaded library
	// handles, generated code buffers).
	Close() error
}

// TranslationUnit is one compiled run of guest instructions.
type TranslationUnit interface {
	// Run executes the compiled unit against regs, calling fallback for
	// any instruction it could not translate, and returns the PC to
	// resume interpretation at.
	Run(regs *RegisterFile, fallback Fallback) (nextPC uint64, err error)

	// Invalidate marks the unit as stale, e.g. because the underlying
	// guest memory it was compiled from changed.
	Invalidate()
}

// ErrNoBackend is returned by NullBackend.Translate: there is no default
// JIT backend, so a machine runs purely interpreted unless one is loaded.
var ErrNoBackend = fmt.Errorf("jit: no backend configured")

// NullBackend is the zero-value Backend: it refuses to translate anything,
// keeping a Machine running as a pure interpreter. Useful as an explicit
// default so callers don't need a nil check at every call site.
type NullBackend struct{}

func (NullBackend) Translate(uint64, func(uint64) (uint32, error)) (TranslationUnit, error) {
	return nil, ErrNoBackend
}

func (NullBackend) Close() error { return nil }

var _ Backend = NullBackend{}
