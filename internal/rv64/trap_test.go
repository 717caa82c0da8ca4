package rv64

import "testing"

func TestInterruptPriorityOrder(t *testing.T) {
	cpu := newTestCPU()
	cpu.Priv = PrivMachine
	cpu.Mstatus |= MstatusMIE

	// Raise both MEI and MTI; MEI must win (higher priority).
	cpu.Mie = MipMEIP | MipMTIP
	cpu.Mip = MipMEIP | MipMTIP

	cause, pending := cpu.CheckInterrupt()
	if !pending {
		t.Fatalf("expected a pending interrupt")
	}
	if cause != CauseMExternalInt {
		t.Errorf("expected MEI (cause 0x%x) to take priority, got 0x%x", CauseMExternalInt, cause)
	}
}

func TestDelegatedInterruptNeverLowersPrivilege(t *testing.T) {
	cpu := newTestCPU()
	cpu.Priv = PrivMachine
	cpu.Mstatus |= MstatusMIE
	cpu.Mideleg |= MipSEIP
	cpu.Mie = MipSEIP
	cpu.Mip = MipSEIP

	cause, pending := cpu.CheckInterrupt()
	if !pending {
		t.Fatalf("expected a pending interrupt")
	}

	cpu.HandleTrap(cause, 0)

	if cpu.Priv != PrivMachine {
		t.Errorf("a delegated interrupt taken while already in M-mode must stay in M-mode, got priv=%d", cpu.Priv)
	}
	if cpu.Mcause != cause {
		t.Errorf("expected mcause=0x%x, got 0x%x", cause, cpu.Mcause)
	}
}

func TestDelegatedInterruptGoesToSupervisor(t *testing.T) {
	cpu := newTestCPU()
	cpu.Priv = PrivSupervisor
	cpu.Mstatus |= MstatusSIE
	cpu.Mideleg |= MipSEIP
	cpu.Mie = MipSEIP
	cpu.Mip = MipSEIP

	cause, pending := cpu.CheckInterrupt()
	if !pending {
		t.Fatalf("expected a pending interrupt")
	}

	cpu.HandleTrap(cause, 0)

	if cpu.Priv != PrivSupervisor {
		t.Errorf("expected delegated interrupt to land in S-mode, got priv=%d", cpu.Priv)
	}
	if cpu.Scause != cause {
		t.Errorf("expected scause=0x%x, got 0x%x", cause, cpu.Scause)
	}
}

func TestVectoredModeOnlyAppliesToInterrupts(t *testing.T) {
	cpu := newTestCPU()
	cpu.Priv = PrivMachine
	cpu.Mtvec = 0x8000_0000 | 1 // vectored mode

	// An exception (illegal instruction) must land at the base, not base+4*code.
	cpu.HandleTrap(CauseIllegalInsn, 0)
	if cpu.PC != 0x8000_0000 {
		t.Errorf("exception in vectored mode should land at base, got 0x%x", cpu.PC)
	}

	cpu.Mcause = 0
	cpu.Mstatus |= MstatusMIE
	cpu.Mie = MipMTIP
	cpu.Mip = MipMTIP
	cause, pending := cpu.CheckInterrupt()
	if !pending {
		t.Fatalf("expected pending interrupt")
	}
	cpu.HandleTrap(cause, 0)

	want := uint64(0x8000_0000) + 4*7 // MTI code is 7
	if cpu.PC != want {
		t.Errorf("vectored interrupt should land at base+4*code=0x%x, got 0x%x", want, cpu.PC)
	}
}

func TestTvalNormalization(t *testing.T) {
	cpu := newTestCPU()
	cpu.Priv = PrivMachine

	cpu.HandleTrap(CauseEcallFromM, 0xdeadbeef)
	if cpu.Mtval != 0 {
		t.Errorf("ECALL must always carry tval=0, got 0x%x", cpu.Mtval)
	}

	cpu.HandleTrap(CauseLoadAccessFault, 0x1234)
	if cpu.Mtval != 0x1234 {
		t.Errorf("expected fault address preserved in mtval, got 0x%x", cpu.Mtval)
	}
}
