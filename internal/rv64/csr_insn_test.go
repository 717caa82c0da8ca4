package rv64

import "testing"

const (
	testCSRRWMscratch  = 0x34059573 // csrrw x10, mscratch, x11
	testCSRRSReadOnly  = 0x34002673 // csrrs x12, mscratch, x0
	testCSRRCMscratch  = 0x3405b6f3 // csrrc x13, mscratch, x11
	testCSRRWCycleFault = 0xc0059773 // csrrw x14, cycle, x11 (cycle is read-only)
	testCSRRWIMscratch = 0x3402d7f3 // csrrwi x15, mscratch, 5
)

func TestCSRRWSwapsOldValue(t *testing.T) {
	cpu := newTestCPU()
	cpu.WriteReg(11, 0xdead)

	if err := cpu.Execute(testCSRRWMscratch); err != nil {
		t.Fatalf("csrrw: %v", err)
	}
	if cpu.X[10] != 0 {
		t.Errorf("expected rd to receive the prior mscratch value 0, got 0x%x", cpu.X[10])
	}
	if cpu.Mscratch != 0xdead {
		t.Errorf("expected mscratch to be written to 0xdead, got 0x%x", cpu.Mscratch)
	}
}

func TestCSRRSWithX0SourceIsReadOnly(t *testing.T) {
	cpu := newTestCPU()
	cpu.Mscratch = 0xbeef

	if err := cpu.Execute(testCSRRSReadOnly); err != nil {
		t.Fatalf("csrrs: %v", err)
	}
	if cpu.X[12] != 0xbeef {
		t.Errorf("expected rd to read 0xbeef, got 0x%x", cpu.X[12])
	}
	if cpu.Mscratch != 0xbeef {
		t.Errorf("csrrs x0 as source must not modify the CSR, got 0x%x", cpu.Mscratch)
	}
}

func TestCSRRCClearsBits(t *testing.T) {
	cpu := newTestCPU()
	cpu.Mscratch = 0xff
	cpu.WriteReg(11, 0x0f)

	if err := cpu.Execute(testCSRRCMscratch); err != nil {
		t.Fatalf("csrrc: %v", err)
	}
	if cpu.Mscratch != 0xf0 {
		t.Errorf("expected csrrc to clear the low nibble, got 0x%x", cpu.Mscratch)
	}
}

func TestCSRRWImmediateForm(t *testing.T) {
	cpu := newTestCPU()

	if err := cpu.Execute(testCSRRWIMscratch); err != nil {
		t.Fatalf("csrrwi: %v", err)
	}
	if cpu.Mscratch != 5 {
		t.Errorf("expected csrrwi to write the 5-bit immediate 5, got 0x%x", cpu.Mscratch)
	}
}

// A faulting CSR access (write to a read-only CSR) must abort atomically:
// neither the CSR nor the destination register is modified.
func TestCSRFaultLeavesStateUnmodified(t *testing.T) {
	cpu := newTestCPU()
	cpu.WriteReg(14, 0x1234)
	cpu.WriteReg(11, 0x1234)
	wantCycle := cpu.Cycle

	err := cpu.Execute(testCSRRWCycleFault)
	if err == nil {
		t.Fatalf("expected a write to the read-only cycle CSR to trap")
	}
	if cpu.X[14] != 0x1234 {
		t.Errorf("rd must be unmodified on a trapping CSR access, got 0x%x", cpu.X[14])
	}
	if cpu.Cycle != wantCycle {
		t.Errorf("cycle must be unmodified on a trapping CSR access, got 0x%x", cpu.Cycle)
	}
}
