package jit

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// dynamicBackend loads a code-generation backend from a shared library by
// path, exposing four well-known symbols: rv64jit_translate, rv64jit_run,
// rv64jit_invalidate, and rv64jit_close. No backend ships by default; this exists
// so a user can point at one without the interpreter depending on cgo.
type dynamicBackend struct {
	handle uintptr

	translate func(startPC uint64, fetch uintptr) uintptr
	run       func(unit uintptr, regs *RegisterFile, fallback uintptr) uint64
	invalidate func(unit uintptr)
	closeLib  func()

	mu sync.Mutex
}

// LoadDynamicBackend dlopens the shared library at path and binds the
// translate/run/invalidate/close symbols a backend is expected to export.
func LoadDynamicBackend(path string) (Backend, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_GLOBAL|purego.RTLD_NOW)
	if err != nil {
		return nil, fmt.Errorf("jit: dlopen %s: %w", path, err)
	}

	b := &dynamicBackend{handle: handle}
	purego.RegisterLibFunc(&b.translate, handle, "rv64jit_translate")
	purego.RegisterLibFunc(&b.run, handle, "rv64jit_run")
	purego.RegisterLibFunc(&b.invalidate, handle, "rv64jit_invalidate")
	purego.RegisterLibFunc(&b.closeLib, handle, "rv64jit_close")

	return b, nil
}

func (b *dynamicBackend) Translate(startPC uint64, fetch func(uint64) (uint32, error)) (TranslationUnit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The backend calls back into fetch through a cgo-free trampoline;
	// a fetch error is reported to the backend as the instruction word 0.
	trampoline := purego.NewCallback(func(pc uint64) uint32 {
		word, err := fetch(pc)
		if err != nil {
			return 0
		}
		return word
	})

	unit := b.translate(startPC, trampoline)
	if unit == 0 {
		return nil, fmt.Errorf("jit: backend declined to translate PC=0x%x", startPC)
	}
	return &dynamicUnit{backend: b, handle: unit}, nil
}

func (b *dynamicBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeLib != nil {
		b.closeLib()
	}
	return nil
}

type dynamicUnit struct {
	backend *dynamicBackend
	handle  uintptr
}

func (u *dynamicUnit) Run(regs *RegisterFile, fallback Fallback) (uint64, error) {
	var fallbackErr error

	trampoline := purego.NewCallback(func(insn uint32) uint64 {
		nextPC, err := fallback(regs, insn)
		if err != nil {
			fallbackErr = err
		}
		return nextPC
	})

	nextPC := u.backend.run(u.handle, (*RegisterFile)(unsafe.Pointer(regs)), trampoline)
	if fallbackErr != nil {
		return 0, fallbackErr
	}
	return nextPC, nil
}

func (u *dynamicUnit) Invalidate() {
	if u.backend.invalidate != nil {
		u.backend.invalidate(u.handle)
	}
}

var _ Backend = (*dynamicBackend)(nil)
var _ TranslationUnit = (*dynamicUnit)(nil)
