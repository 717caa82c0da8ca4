package rv64

import (
	"os"
	"testing"
)

// makeBackingImage creates a temporary sector-aligned disk image, one
// sector, filled with a recognizable byte pattern.
func makeBackingImage(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "rv64emu-blk-*.img")
	if err != nil {
		t.Fatalf("create temp image: %v", err)
	}
	defer f.Close()

	buf := make([]byte, sectorSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatalf("write temp image: %v", err)
	}
	return f.Name()
}

const (
	vtDescTable = RAMBase + 0x1000
	vtAvail     = RAMBase + 0x2000
	vtUsed      = RAMBase + 0x3000
	vtHeader    = RAMBase + 0x4000
	vtData      = RAMBase + 0x5000
	vtFooter    = RAMBase + 0x6000
)

func newTestVirtioMMIO(t *testing.T) (*Bus, *VirtioMMIO, func()) {
	t.Helper()
	path := makeBackingImage(t)
	blk, err := NewVirtioBlock(path)
	if err != nil {
		t.Fatalf("NewVirtioBlock: %v", err)
	}

	bus := NewBus(0x10000)
	mmio := NewVirtioMMIO(bus, blk)

	writeDesc := func(idx uint16, addr uint64, length uint32, flags uint16, next uint16) {
		base := vtDescTable + uint64(idx)*16
		bus.Write64(base, addr)
		bus.Write32(base+8, length)
		bus.Write16(base+12, flags)
		bus.Write16(base+14, next)
	}
	writeDesc(0, vtHeader, 16, vringDescFNext, 1)
	writeDesc(1, vtData, sectorSize, vringDescFNext|vringDescFWrite, 2)
	writeDesc(2, vtFooter, 1, 0, 0)

	// Request header: type=READ (0), reserved=0, sector=0.
	bus.Write32(vtHeader, blkReqRead)
	bus.Write32(vtHeader+4, 0)
	bus.Write64(vtHeader+8, 0)

	// Available ring: flags=0, idx=1, ring[0]=0 (head descriptor index).
	bus.Write16(vtAvail, 0)
	bus.Write16(vtAvail+2, 1)
	bus.Write16(vtAvail+4, 0)

	mmio.Write(VirtioQueueSel, 4, 0)
	mmio.Write(VirtioQueueNum, 4, 1)
	mmio.Write(VirtioQueueDescLow, 4, uint64(uint32(vtDescTable)))
	mmio.Write(VirtioQueueDescHigh, 4, vtDescTable>>32)
	mmio.Write(VirtioQueueDriverLow, 4, uint64(uint32(vtAvail)))
	mmio.Write(VirtioQueueDriverHigh, 4, vtAvail>>32)
	mmio.Write(VirtioQueueDeviceLow, 4, uint64(uint32(vtUsed)))
	mmio.Write(VirtioQueueDeviceHigh, 4, vtUsed>>32)
	mmio.Write(VirtioQueueReady, 4, 1)

	cleanup := func() { blk.Close() }
	return bus, mmio, cleanup
}

func TestVirtioBlkReadRequest(t *testing.T) {
	bus, mmio, cleanup := newTestVirtioMMIO(t)
	defer cleanup()

	var interruptRaised bool
	mmio.OnInterrupt = func(pending bool) { interruptRaised = pending }

	if err := mmio.Write(VirtioQueueNotify, 4, 0); err != nil {
		t.Fatalf("notify: %v", err)
	}

	for i := 0; i < sectorSize; i++ {
		b, err := bus.Read8(vtData + uint64(i))
		if err != nil {
			t.Fatalf("read data byte %d: %v", i, err)
		}
		if b != byte(i) {
			t.Fatalf("data byte %d: expected %d, got %d", i, byte(i), b)
		}
	}

	status, err := bus.Read8(vtFooter)
	if err != nil {
		t.Fatalf("read footer: %v", err)
	}
	if status != blkStatusOK {
		t.Errorf("expected OK status, got %d", status)
	}

	if !interruptRaised {
		t.Errorf("expected an interrupt to be raised after a completed request")
	}

	usedIdx, err := bus.Read16(vtUsed + 2)
	if err != nil {
		t.Fatalf("read used idx: %v", err)
	}
	if usedIdx != 1 {
		t.Errorf("expected used ring idx to advance to 1, got %d", usedIdx)
	}
}

func TestVirtioBlkConfigReportsSectorCount(t *testing.T) {
	_, mmio, cleanup := newTestVirtioMMIO(t)
	defer cleanup()

	got, err := mmio.Read(VirtioConfig, 8)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if got != 1 {
		t.Errorf("expected a 1-sector image to report capacity 1, got %d", got)
	}
}
