package rv64

import "testing"

const (
	testLRW    = 0x1005a52f // lr.w x10, (x11)
	testSCWx13 = 0x18c5a6af // sc.w x13, x12, (x11)
)

func TestLRSCSuccess(t *testing.T) {
	cpu := newTestCPU()
	addr := RAMBase
	cpu.WriteReg(11, addr)
	cpu.Bus.Write32(addr, 0)

	if err := cpu.Execute(testLRW); err != nil {
		t.Fatalf("lr.w: %v", err)
	}
	if !cpu.ReservationValid || cpu.Reservation != addr {
		t.Fatalf("expected a valid reservation at 0x%x", addr)
	}

	cpu.WriteReg(12, 77)
	if err := cpu.Execute(testSCWx13); err != nil {
		t.Fatalf("sc.w: %v", err)
	}
	if cpu.X[13] != 0 {
		t.Errorf("expected sc.w to succeed (rd=0), got %d", cpu.X[13])
	}
	val, _ := cpu.Bus.Read32(addr)
	if val != 77 {
		t.Errorf("expected memory to be updated to 77, got %d", val)
	}
	if cpu.ReservationValid {
		t.Errorf("expected reservation to be cleared after a successful sc.w")
	}
}

func TestSCWithoutReservationFails(t *testing.T) {
	cpu := newTestCPU()
	addr := RAMBase
	cpu.WriteReg(11, addr)
	cpu.Bus.Write32(addr, 55)

	cpu.WriteReg(12, 99)
	if err := cpu.Execute(testSCWx13); err != nil {
		t.Fatalf("sc.w: %v", err)
	}
	if cpu.X[13] != 1 {
		t.Errorf("expected sc.w without a prior lr.w to fail (rd=1), got %d", cpu.X[13])
	}
	val, _ := cpu.Bus.Read32(addr)
	if val != 55 {
		t.Errorf("expected memory unchanged on failed sc.w, got %d", val)
	}
}

func TestInterveningStoreClearsReservation(t *testing.T) {
	cpu := newTestCPU()
	addr := RAMBase
	cpu.WriteReg(11, addr)
	cpu.Bus.Write32(addr, 0)

	if err := cpu.Execute(testLRW); err != nil {
		t.Fatalf("lr.w: %v", err)
	}
	if !cpu.ReservationValid {
		t.Fatalf("expected a reservation after lr.w")
	}

	// An intervening store to any address clears the reservation; sc.w
	// must then fail even though it targets the originally reserved word.
	cpu.WriteReg(13, 0xff)
	cpu.WriteReg(14, addr+64)
	if err := cpu.Execute(0x00d72023); err != nil { // sw x13, 0(x14)
		t.Fatalf("sw: %v", err)
	}
	if cpu.ReservationValid {
		t.Fatalf("expected intervening store to clear the reservation")
	}

	cpu.WriteReg(12, 77)
	if err := cpu.Execute(testSCWx13); err != nil {
		t.Fatalf("sc.w: %v", err)
	}
	if cpu.X[13] != 1 {
		t.Errorf("expected sc.w to fail after an intervening store, got rd=%d", cpu.X[13])
	}
}

func TestTrapClearsReservation(t *testing.T) {
	cpu := newTestCPU()
	addr := RAMBase
	cpu.WriteReg(11, addr)
	cpu.Bus.Write32(addr, 0)

	if err := cpu.Execute(testLRW); err != nil {
		t.Fatalf("lr.w: %v", err)
	}

	cpu.HandleTrap(CauseIllegalInsn, 0)

	if cpu.ReservationValid {
		t.Errorf("expected a trap to clear any outstanding reservation")
	}
}
