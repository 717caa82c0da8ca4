package rv64

// interruptSource describes one of the six standard interrupt causes in
// the fixed priority order required by the privileged spec: M external,
// M software, M timer, S external, S software, S timer.
type interruptSource struct {
	cause      uint64
	bit        uint64 // shared bit position in mip/mie
	midelegBit uint64 // 0 for M-level interrupts, which are never delegable
}

var interruptPriority = [...]interruptSource{
	{CauseMExternalInt, MipMEIP, 0},
	{CauseMSoftwareInt, MipMSIP, 0},
	{CauseMTimerInt, MipMTIP, 0},
	{CauseSExternalInt, MipSEIP, MipSEIP},
	{CauseSSoftwareInt, MipSSIP, MipSSIP},
	{CauseSTimerInt, MipSTIP, MipSTIP},
}

// CheckInterrupt reports the highest-priority pending, enabled interrupt
// that is globally unmasked for the CPU's current privilege level, if any.
// Delegation never lowers the destination below the current privilege: a
// delegated S-level interrupt is still taken in M-mode if we're already
// executing in M-mode.
func (cpu *CPU) CheckInterrupt() (uint64, bool) {
	pending := cpu.Mip & cpu.Mie
	if pending == 0 {
		return 0, false
	}

	for _, src := range interruptPriority {
		if pending&src.bit == 0 {
			continue
		}
		delegated := src.midelegBit != 0 && cpu.Mideleg&src.midelegBit != 0 && cpu.Priv != PrivMachine
		if cpu.trapGloballyEnabled(delegated) {
			return src.cause, true
		}
	}
	return 0, false
}

// trapGloballyEnabled applies the xIE/current-privilege enable rule that
// gates both interrupts (against mstatus.SIE/MIE) common to every
// destination mode.
func (cpu *CPU) trapGloballyEnabled(delegated bool) bool {
	if delegated {
		if cpu.Priv == PrivSupervisor {
			return cpu.Mstatus&MstatusSIE != 0
		}
		return cpu.Priv == PrivUser
	}
	if cpu.Priv == PrivMachine {
		return cpu.Mstatus&MstatusMIE != 0
	}
	return true
}

// normalizeTval forces the zero-tval causes (interrupts and ECALL) to
// zero; every other cause carries whatever the caller already computed
// (faulting address for misaligned/access/page faults, the raw
// instruction bits for an illegal instruction, the faulting PC for a
// breakpoint).
func normalizeTval(cause, tval uint64) uint64 {
	if cause&(1<<63) != 0 {
		return 0
	}
	switch cause {
	case CauseEcallFromU, CauseEcallFromS, CauseEcallFromM:
		return 0
	default:
		return tval
	}
}

// trapTarget computes the destination PC from a tvec CSR. Vectored mode
// only applies to interrupts; exceptions always land at the base address
// even when the vectored bit is set.
func trapTarget(tvec, code uint64, isInterrupt bool) uint64 {
	base := tvec &^ 3
	mode := tvec & 3
	if mode == 1 && isInterrupt {
		return base + 4*code
	}
	return base
}

// HandleTrap delivers a trap (synchronous exception or interrupt),
// choosing M-mode or S-mode as destination per medeleg/mideleg, saving
// the precise PC/cause/tval and privilege state, and redirecting the PC
// to the destination mode's trap vector.
func (cpu *CPU) HandleTrap(cause uint64, tval uint64) {
	cpu.clearReservation()

	isInterrupt := cause&(1<<63) != 0
	code := cause &^ (1 << 63)

	var delegated bool
	if isInterrupt {
		delegated = cpu.Mideleg&(1<<code) != 0 && cpu.Priv != PrivMachine
	} else {
		delegated = cpu.Medeleg&(1<<code) != 0 && cpu.Priv != PrivMachine
	}

	normTval := normalizeTval(cause, tval)

	if delegated {
		cpu.Sepc = cpu.PC
		cpu.Scause = cause
		cpu.Stval = normTval

		if cpu.Mstatus&MstatusSIE != 0 {
			cpu.Mstatus |= MstatusSPIE
		} else {
			cpu.Mstatus &^= MstatusSPIE
		}
		cpu.Mstatus &^= MstatusSIE

		if cpu.Priv == PrivSupervisor {
			cpu.Mstatus |= MstatusSPP
		} else {
			cpu.Mstatus &^= MstatusSPP
		}

		cpu.Priv = PrivSupervisor
		cpu.PC = trapTarget(cpu.Stvec, code, isInterrupt)
		return
	}

	cpu.Mepc = cpu.PC
	cpu.Mcause = cause
	cpu.Mtval = normTval

	if cpu.Mstatus&MstatusMIE != 0 {
		cpu.Mstatus |= MstatusMPIE
	} else {
		cpu.Mstatus &^= MstatusMPIE
	}
	cpu.Mstatus &^= MstatusMIE

	cpu.Mstatus = (cpu.Mstatus &^ MstatusMPP) | (uint64(cpu.Priv) << MstatusMPPShift)

	cpu.Priv = PrivMachine
	cpu.PC = trapTarget(cpu.Mtvec, code, isInterrupt)
}
