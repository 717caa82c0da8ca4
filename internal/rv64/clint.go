package rv64

import "sync/atomic"

// CLINT register offsets
const (
	CLINTMsip     = 0x0000 // Machine Software Interrupt Pending (per hart)
	CLINTMtimecmp = 0x4000 // Machine Timer Compare (per hart)
	CLINTMtime    = 0xbff8 // Machine Time
)

// CLINT implements the Core Local Interruptor. mtime advances by exactly
// one per call to Tick (one per emulated cycle), not by wall-clock time --
// this keeps timer-interrupt scenarios reproducible independent of host
// scheduling jitter.
type CLINT struct {
	cpu *CPU

	msip     uint32
	mtime    uint64
	mtimecmp uint64
}

func NewCLINT(cpu *CPU) *CLINT {
	return &CLINT{
		cpu:      cpu,
		mtimecmp: ^uint64(0), // no interrupt until software sets a compare value
	}
}

func (c *CLINT) Size() uint64 { return CLINTSize }

func (c *CLINT) Read(offset uint64, size int) (uint64, error) {
	switch {
	case offset >= CLINTMsip && offset < CLINTMsip+4:
		return uint64(atomic.LoadUint32(&c.msip)), nil
	case offset >= CLINTMtimecmp && offset < CLINTMtimecmp+8:
		return c.mtimecmp, nil
	case offset >= CLINTMtime && offset < CLINTMtime+8:
		return c.mtime, nil
	}
	return 0, nil
}

func (c *CLINT) Write(offset uint64, size int, value uint64) error {
	switch {
	case offset >= CLINTMsip && offset < CLINTMsip+4:
		if value&1 != 0 {
			atomic.StoreUint32(&c.msip, 1)
			c.cpu.Mip |= MipMSIP
		} else {
			atomic.StoreUint32(&c.msip, 0)
			c.cpu.Mip &^= MipMSIP
		}

	case offset >= CLINTMtimecmp && offset < CLINTMtimecmp+8:
		if size == 4 {
			if offset == CLINTMtimecmp {
				c.mtimecmp = (c.mtimecmp &^ 0xffffffff) | (value & 0xffffffff)
			} else {
				c.mtimecmp = (c.mtimecmp &^ 0xffffffff00000000) | ((value & 0xffffffff) << 32)
			}
		} else {
			c.mtimecmp = value
		}
		if c.mtimecmp > c.mtime {
			c.cpu.Mip &^= MipMTIP
		}

	case offset >= CLINTMtime && offset < CLINTMtime+8:
		if size == 4 {
			if offset == CLINTMtime {
				c.mtime = (c.mtime &^ 0xffffffff) | (value & 0xffffffff)
			} else {
				c.mtime = (c.mtime &^ 0xffffffff00000000) | ((value & 0xffffffff) << 32)
			}
		} else {
			c.mtime = value
		}
	}

	return nil
}

// Tick advances mtime by one and updates MTIP/MSIP. Called once per
// emulated cycle, including while the hart idles in WFI.
func (c *CLINT) Tick() {
	c.mtime++
	if c.mtime >= c.mtimecmp {
		c.cpu.Mip |= MipMTIP
	} else {
		c.cpu.Mip &^= MipMTIP
	}
	if atomic.LoadUint32(&c.msip)&1 != 0 {
		c.cpu.Mip |= MipMSIP
	} else {
		c.cpu.Mip &^= MipMSIP
	}
}

var _ Device = (*CLINT)(nil)
