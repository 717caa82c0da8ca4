package rv64

import (
	"fmt"
	"io"

	"github.com/google/btree"
)

// Device represents a memory-mapped device.
type Device interface {
	Read(offset uint64, size int) (uint64, error)
	Write(offset uint64, size int, value uint64) error
	Size() uint64
}

// MemoryRegion represents a contiguous region of RAM.
type MemoryRegion struct {
	Data []byte
}

func NewMemoryRegion(size uint64) *MemoryRegion {
	return &MemoryRegion{Data: make([]byte, size)}
}

func (m *MemoryRegion) Read(offset uint64, size int) (uint64, error) {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return 0, fmt.Errorf("memory read out of bounds: offset=0x%x size=%d len=%d", offset, size, len(m.Data))
	}
	switch size {
	case 1:
		return uint64(m.Data[offset]), nil
	case 2:
		return uint64(cpuEndian.Uint16(m.Data[offset:])), nil
	case 4:
		return uint64(cpuEndian.Uint32(m.Data[offset:])), nil
	case 8:
		return cpuEndian.Uint64(m.Data[offset:]), nil
	default:
		return 0, fmt.Errorf("invalid read size: %d", size)
	}
}

func (m *MemoryRegion) Write(offset uint64, size int, value uint64) error {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return fmt.Errorf("memory write out of bounds: offset=0x%x size=%d len=%d", offset, size, len(m.Data))
	}
	switch size {
	case 1:
		m.Data[offset] = byte(value)
	case 2:
		cpuEndian.PutUint16(m.Data[offset:], uint16(value))
	case 4:
		cpuEndian.PutUint32(m.Data[offset:], uint32(value))
	case 8:
		cpuEndian.PutUint64(m.Data[offset:], value)
	default:
		return fmt.Errorf("invalid write size: %d", size)
	}
	return nil
}

func (m *MemoryRegion) Size() uint64 { return uint64(len(m.Data)) }

func (m *MemoryRegion) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.Data)) {
		return 0, io.EOF
	}
	n := copy(p, m.Data[off:])
	return n, nil
}

func (m *MemoryRegion) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.Data)) {
		return 0, fmt.Errorf("write offset out of bounds")
	}
	n := copy(m.Data[off:], p)
	return n, nil
}

func (m *MemoryRegion) Slice(offset, length uint64) []byte {
	if offset+length > uint64(len(m.Data)) {
		return nil
	}
	return m.Data[offset : offset+length]
}

// DeviceMapping maps a device to an address range, ordered by Base so the
// bus can index it in a btree.
type DeviceMapping struct {
	Base   uint64
	Size   uint64
	Device Device
}

func deviceMappingLess(a, b DeviceMapping) bool {
	return a.Base < b.Base
}

// BusInterface defines the interface for memory bus operations.
type BusInterface interface {
	Read(addr uint64, size int) (uint64, error)
	Write(addr uint64, size int, value uint64) error
	Read8(addr uint64) (uint8, error)
	Read16(addr uint64) (uint16, error)
	Read32(addr uint64) (uint32, error)
	Read64(addr uint64) (uint64, error)
	Write8(addr uint64, value uint8) error
	Write16(addr uint64, value uint16) error
	Write32(addr uint64, value uint32) error
	Write64(addr uint64, value uint64) error
}

// Bus connects the CPU to RAM and memory-mapped devices. Device lookup is
// an ordered predecessor search over a btree rather than a linear scan,
// since a machine here maps CLINT, PLIC, UART, and virtio-blk in addition
// to RAM.
type Bus struct {
	RAM     *MemoryRegion
	RAMBase uint64
	devices *btree.BTreeG[DeviceMapping]

	UARTOutput io.Writer
}

func NewBus(ramSize uint64) *Bus {
	return &Bus{
		RAM:     NewMemoryRegion(ramSize),
		RAMBase: RAMBase,
		devices: btree.NewG(32, deviceMappingLess),
	}
}

// AddDevice adds a device mapping to the bus.
func (bus *Bus) AddDevice(base uint64, dev Device) {
	bus.devices.ReplaceOrInsert(DeviceMapping{Base: base, Size: dev.Size(), Device: dev})
}

// findDevice finds the device whose range contains addr. RAM is checked
// first as the hot path; everything else goes through an ordered
// predecessor lookup (the mapping with the largest Base <= addr).
func (bus *Bus) findDevice(addr uint64) (Device, uint64, error) {
	if addr >= bus.RAMBase && addr < bus.RAMBase+bus.RAM.Size() {
		return bus.RAM, addr - bus.RAMBase, nil
	}

	var found *DeviceMapping
	bus.devices.DescendLessOrEqual(DeviceMapping{Base: addr}, func(m DeviceMapping) bool {
		found = &m
		return false
	})
	if found != nil && addr < found.Base+found.Size {
		return found.Device, addr - found.Base, nil
	}

	return nil, 0, fmt.Errorf("no device at address 0x%x", addr)
}

func (bus *Bus) Read(addr uint64, size int) (uint64, error) {
	dev, offset, err := bus.findDevice(addr)
	if err != nil {
		return 0, err
	}
	return dev.Read(offset, size)
}

func (bus *Bus) Write(addr uint64, size int, value uint64) error {
	dev, offset, err := bus.findDevice(addr)
	if err != nil {
		return err
	}
	return dev.Write(offset, size, value)
}

func (bus *Bus) Read8(addr uint64) (uint8, error) {
	val, err := bus.Read(addr, 1)
	return uint8(val), err
}

func (bus *Bus) Read16(addr uint64) (uint16, error) {
	val, err := bus.Read(addr, 2)
	return uint16(val), err
}

func (bus *Bus) Read32(addr uint64) (uint32, error) {
	val, err := bus.Read(addr, 4)
	return uint32(val), err
}

func (bus *Bus) Read64(addr uint64) (uint64, error) {
	return bus.Read(addr, 8)
}

func (bus *Bus) Write8(addr uint64, value uint8) error {
	return bus.Write(addr, 1, uint64(value))
}

func (bus *Bus) Write16(addr uint64, value uint16) error {
	return bus.Write(addr, 2, uint64(value))
}

func (bus *Bus) Write32(addr uint64, value uint32) error {
	return bus.Write(addr, 4, uint64(value))
}

func (bus *Bus) Write64(addr uint64, value uint64) error {
	return bus.Write(addr, 8, value)
}

// LoadBytes loads bytes into the bus at the given address.
func (bus *Bus) LoadBytes(addr uint64, data []byte) error {
	if addr >= bus.RAMBase && addr+uint64(len(data)) <= bus.RAMBase+bus.RAM.Size() {
		copy(bus.RAM.Data[addr-bus.RAMBase:], data)
		return nil
	}
	for i, b := range data {
		if err := bus.Write8(addr+uint64(i), b); err != nil {
			return err
		}
	}
	return nil
}

// Fetch fetches an instruction (2 or 4 bytes) from memory.
func (bus *Bus) Fetch(addr uint64) (uint32, error) {
	lo, err := bus.Read16(addr)
	if err != nil {
		return 0, err
	}
	if lo&0x3 != 0x3 {
		return uint32(lo), nil
	}
	hi, err := bus.Read16(addr + 2)
	if err != nil {
		return 0, err
	}
	return uint32(lo) | (uint32(hi) << 16), nil
}
