package rv64

// csrReadOnly reports whether a CSR address is marked read-only by its
// top two address bits (11 = read-only).
func csrReadOnly(csr uint16) bool {
	return (csr >> 10) == 3
}

// csrMinPriv extracts the minimum privilege required to access a CSR from
// bits 8-9 of its address.
func csrMinPriv(csr uint16) uint8 {
	return uint8((csr >> 8) & 3)
}

func isDebugCSR(csr uint16) bool {
	return csr >= CSRDebugRangeLo && csr <= CSRDebugRangeHi
}

// isPmpcfgCSR accepts only the even-numbered pmpcfg registers, as on RV64;
// pmpcfgN holds the eight entries starting at N*4.
func isPmpcfgCSR(csr uint16) (idx int, ok bool) {
	if csr >= CSRPmpcfg0 && csr < CSRPmpcfg0+16 && (csr-CSRPmpcfg0)%2 == 0 {
		return int(csr - CSRPmpcfg0), true
	}
	return 0, false
}

func isPmpaddrCSR(csr uint16) (idx int, ok bool) {
	if csr >= CSRPmpaddr0 && csr < CSRPmpaddr0+64 {
		return int(csr - CSRPmpaddr0), true
	}
	return 0, false
}

// csrRead reads a CSR value, applying privilege gating and counter-enable
// gating per §4.3/§3 of the CSR table.
func (cpu *CPU) csrRead(csr uint16) (uint64, error) {
	if cpu.Priv < csrMinPriv(csr) || isDebugCSR(csr) {
		return 0, Exception(CauseIllegalInsn, 0)
	}

	switch csr {
	case CSRFflags:
		return uint64(cpu.Fflags), nil
	case CSRFrm:
		return uint64(cpu.Frm), nil
	case CSRFcsr:
		return uint64(cpu.Fflags) | (uint64(cpu.Frm) << 5), nil

	case CSRCycle:
		if !cpu.counterVisible(0) {
			return 0, Exception(CauseIllegalInsn, 0)
		}
		return cpu.Cycle, nil
	case CSRTime:
		if !cpu.counterVisible(1) {
			return 0, Exception(CauseIllegalInsn, 0)
		}
		return cpu.Cycle, nil
	case CSRInstret:
		if !cpu.counterVisible(2) {
			return 0, Exception(CauseIllegalInsn, 0)
		}
		return cpu.Instret, nil
	case CSRMcycle:
		return cpu.Cycle, nil
	case CSRMinstret:
		return cpu.Instret, nil

	case CSRSstatus:
		return cpu.readSstatus(), nil
	case CSRSie:
		return cpu.Mie & cpu.Mideleg, nil
	case CSRStvec:
		return cpu.Stvec, nil
	case CSRScounteren:
		return cpu.Scounteren, nil
	case CSRSscratch:
		return cpu.Sscratch, nil
	case CSRSepc:
		return cpu.Sepc, nil
	case CSRScause:
		return cpu.Scause, nil
	case CSRStval:
		return cpu.Stval, nil
	case CSRSip:
		return cpu.Mip & cpu.Mideleg, nil
	case CSRSatp:
		if cpu.Priv == PrivSupervisor && cpu.Mstatus&MstatusTVM != 0 {
			return 0, Exception(CauseIllegalInsn, 0)
		}
		return cpu.Satp, nil

	case CSRMstatus:
		return cpu.Mstatus, nil
	case CSRMisa:
		return cpu.Misa, nil
	case CSRMedeleg:
		return cpu.Medeleg, nil
	case CSRMideleg:
		return cpu.Mideleg, nil
	case CSRMie:
		return cpu.Mie, nil
	case CSRMtvec:
		return cpu.Mtvec, nil
	case CSRMcounteren:
		return cpu.Mcounteren, nil
	case CSRMscratch:
		return cpu.Mscratch, nil
	case CSRMepc:
		return cpu.Mepc, nil
	case CSRMcause:
		return cpu.Mcause, nil
	case CSRMtval:
		return cpu.Mtval, nil
	case CSRMip:
		return cpu.Mip, nil
	case CSRMhartid:
		return cpu.Mhartid, nil
	}

	if idx, ok := isPmpcfgCSR(csr); ok {
		return cpu.readPmpcfgWord(idx), nil
	}
	if idx, ok := isPmpaddrCSR(csr); ok {
		return cpu.Pmpaddr[idx], nil
	}

	return 0, Exception(CauseIllegalInsn, 0)
}

// csrWrite writes a CSR value, legalizing WARL/WPRI fields per §4.3.
func (cpu *CPU) csrWrite(csr uint16, val uint64) error {
	if cpu.Priv < csrMinPriv(csr) || isDebugCSR(csr) {
		return Exception(CauseIllegalInsn, 0)
	}
	if csrReadOnly(csr) {
		return Exception(CauseIllegalInsn, 0)
	}

	switch csr {
	case CSRFflags:
		cpu.Fflags = uint8(val & 0x1f)
	case CSRFrm:
		cpu.Frm = uint8(val & 0x7)
	case CSRFcsr:
		cpu.Fflags = uint8(val & 0x1f)
		cpu.Frm = uint8((val >> 5) & 0x7)

	case CSRSstatus:
		cpu.writeSstatus(val)
	case CSRSie:
		cpu.Mie = (cpu.Mie &^ cpu.Mideleg) | (val & cpu.Mideleg)
	case CSRStvec:
		cpu.Stvec = legalizeTvec(val)
	case CSRScounteren:
		cpu.Scounteren = val & 0x7
	case CSRSscratch:
		cpu.Sscratch = val
	case CSRSepc:
		cpu.Sepc = val &^ 1
	case CSRScause:
		cpu.Scause = val
	case CSRStval:
		cpu.Stval = val
	case CSRSip:
		cpu.Mip = (cpu.Mip &^ MipSSIP) | (val & MipSSIP)
	case CSRSatp:
		if cpu.Priv == PrivSupervisor && cpu.Mstatus&MstatusTVM != 0 {
			return Exception(CauseIllegalInsn, 0)
		}
		cpu.writeSatp(val)

	case CSRMstatus:
		cpu.writeMstatus(val)
	case CSRMisa:
		// WARL: the write is accepted (no trap) but discarded; this
		// implementation's extension set is fixed.
	case CSRMedeleg:
		cpu.Medeleg = val & delegableExceptions
	case CSRMideleg:
		cpu.Mideleg = val & (MipSSIP | MipSTIP | MipSEIP)
	case CSRMie:
		cpu.Mie = val & (MipSSIP | MipMSIP | MipSTIP | MipMTIP | MipSEIP | MipMEIP)
	case CSRMtvec:
		cpu.Mtvec = legalizeTvec(val)
	case CSRMcounteren:
		cpu.Mcounteren = val & 0x7
	case CSRMscratch:
		cpu.Mscratch = val
	case CSRMepc:
		cpu.Mepc = val &^ 1
	case CSRMcause:
		cpu.Mcause = val
	case CSRMtval:
		cpu.Mtval = val
	case CSRMip:
		mask := uint64(MipSSIP | MipSTIP | MipSEIP)
		cpu.Mip = (cpu.Mip &^ mask) | (val & mask)
	case CSRMcycle:
		cpu.Cycle = val
	case CSRMinstret:
		cpu.Instret = val
	case CSRMhartid:
		// unreachable: 0xF14 is read-only by its address bits, so the
		// csrReadOnly check above already rejects the write
	default:
		if idx, ok := isPmpcfgCSR(csr); ok {
			cpu.writePmpcfgWord(idx, val)
			return nil
		}
		if idx, ok := isPmpaddrCSR(csr); ok {
			cpu.Pmpaddr[idx] = val
			return nil
		}
		return Exception(CauseIllegalInsn, 0)
	}

	return nil
}

// delegableExceptions masks medeleg to the causes that are legal to delegate;
// ECALL-from-M may never be delegated to S-mode.
const delegableExceptions = (1 << CauseInsnAddrMisaligned) | (1 << CauseInsnAccessFault) |
	(1 << CauseIllegalInsn) | (1 << CauseBreakpoint) | (1 << CauseLoadAddrMisaligned) |
	(1 << CauseLoadAccessFault) | (1 << CauseStoreAddrMisaligned) | (1 << CauseStoreAccessFault) |
	(1 << CauseEcallFromU) | (1 << CauseEcallFromS) |
	(1 << CauseInsnPageFault) | (1 << CauseLoadPageFault) | (1 << CauseStorePageFault)

// legalizeTvec enforces the mtvec/stvec WARL rule: mode values 2 and above
// collapse to direct (0).
func legalizeTvec(val uint64) uint64 {
	mode := val & 3
	if mode >= 2 {
		mode = 0
	}
	return (val &^ 3) | mode
}

// satp legal modes.
const (
	SatpModeBare uint64 = 0
	SatpModeSv39 uint64 = 8
)

// writeSatp legalizes the satp WARL mode field: an unsupported mode
// discards the entire write, leaving satp unchanged.
func (cpu *CPU) writeSatp(val uint64) {
	mode := (val >> 60) & 0xf
	if mode != SatpModeBare && mode != SatpModeSv39 {
		return
	}
	cpu.Satp = val
	cpu.MMU.Invalidate()
}

// counterVisible reports whether the current (non-machine) privilege level
// may read the given counter (0=cycle, 1=time, 2=instret) per mcounteren/
// scounteren gating.
func (cpu *CPU) counterVisible(bit uint) bool {
	if cpu.Priv == PrivMachine {
		return true
	}
	if cpu.Mcounteren&(1<<bit) == 0 {
		return false
	}
	if cpu.Priv == PrivUser && cpu.Scounteren&(1<<bit) == 0 {
		return false
	}
	return true
}

func (cpu *CPU) readPmpcfgWord(idx int) uint64 {
	var w uint64
	for i := 0; i < 8; i++ {
		w |= uint64(cpu.Pmpcfg[idx*4+i]) << (8 * i)
	}
	return w
}

func (cpu *CPU) writePmpcfgWord(idx int, val uint64) {
	for i := 0; i < 8; i++ {
		cpu.Pmpcfg[idx*4+i] = uint8(val >> (8 * i))
	}
}

// Sstatus mask - bits visible in sstatus
const sstatusMask = MstatusSIE | MstatusSPIE | MstatusSPP | MstatusFS |
	MstatusSUM | MstatusMXR | MstatusSD

// readSstatus reads the sstatus view of mstatus
func (cpu *CPU) readSstatus() uint64 {
	return cpu.Mstatus & sstatusMask
}

// writeSstatus writes the sstatus view of mstatus
func (cpu *CPU) writeSstatus(val uint64) {
	cpu.Mstatus = (cpu.Mstatus &^ sstatusMask) | (val & sstatusMask)
}

// writableMstatusBits are the mstatus fields this implementation lets
// software change directly; WPRI bits are left untouched (read as zero
// since they are never set).
const writableMstatusBits = MstatusSIE | MstatusMIE | MstatusSPIE | MstatusMPIE |
	MstatusSPP | MstatusMPP | MstatusFS | MstatusMPRV | MstatusSUM |
	MstatusMXR | MstatusTVM | MstatusTW | MstatusTSR

// writeMstatus writes mstatus with proper masking and derives SD from FS.
func (cpu *CPU) writeMstatus(val uint64) {
	cpu.Mstatus = (cpu.Mstatus &^ writableMstatusBits) | (val & writableMstatusBits)

	if (cpu.Mstatus & MstatusFS) == MstatusFS {
		cpu.Mstatus |= MstatusSD
	} else {
		cpu.Mstatus &^= MstatusSD
	}
}
