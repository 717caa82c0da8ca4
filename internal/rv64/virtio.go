package rv64

import "fmt"

// Virtio-MMIO v2 (legacy-free) register offsets.
const (
	VirtioMagicValue        = 0x000
	VirtioVersion           = 0x004
	VirtioDeviceID          = 0x008
	VirtioVendorID          = 0x00c
	VirtioDeviceFeatures    = 0x010
	VirtioDeviceFeaturesSel = 0x014
	VirtioDriverFeatures    = 0x020
	VirtioDriverFeaturesSel = 0x024
	VirtioQueueSel          = 0x030
	VirtioQueueNumMax       = 0x034
	VirtioQueueNum          = 0x038
	VirtioQueueReady        = 0x044
	VirtioQueueNotify       = 0x050
	VirtioInterruptStatus   = 0x060
	VirtioInterruptACK      = 0x064
	VirtioStatus            = 0x070
	VirtioQueueDescLow      = 0x080
	VirtioQueueDescHigh     = 0x084
	VirtioQueueDriverLow    = 0x090 // available ring
	VirtioQueueDriverHigh   = 0x094
	VirtioQueueDeviceLow    = 0x0a0 // used ring
	VirtioQueueDeviceHigh   = 0x0a4
	VirtioConfigGeneration  = 0x0fc
	VirtioConfig            = 0x100
)

const (
	virtioMagic      = 0x74726976 // "virt"
	virtioMMIOVerion = 2
	virtioQueueCount = 1 // a single request virtqueue, per spec
	virtioQueueMax   = 16
)

// Descriptor flag bits.
const (
	vringDescFNext  = 1 << 0
	vringDescFWrite = 1 << 1
)

type virtioDesc struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

type virtioQueue struct {
	num          uint32
	ready        uint32
	descAddr     uint64
	availAddr    uint64
	usedAddr     uint64
	lastAvailIdx uint16
}

// virtioBackend is implemented by the device-specific half (block device);
// VirtioMMIO owns the generic queue/register machinery and calls back into
// the backend once a request's descriptor chain has been located.
type virtioBackend interface {
	deviceID() uint32
	configRead(offset uint64, size int) uint64
	handleRequest(mmio *VirtioMMIO, q *virtioQueue, headDesc uint16) (writtenLen uint32, err error)
}

// VirtioMMIO implements the generic virtio-mmio v2 register file: feature
// negotiation, queue setup, notify/interrupt handling. Device-specific
// request processing is delegated to a virtioBackend (virtioBlock).
type VirtioMMIO struct {
	bus     BusInterface
	backend virtioBackend

	featuresSel       uint32
	driverFeaturesSel uint32
	queueSel          uint32
	queues            [virtioQueueCount]virtioQueue
	status            uint32
	interruptStatus   uint32
	interrupt         bool

	// OnInterrupt is wired to the PLIC's source-11 pending line.
	OnInterrupt func(pending bool)
}

func NewVirtioMMIO(bus BusInterface, backend virtioBackend) *VirtioMMIO {
	return &VirtioMMIO{bus: bus, backend: backend}
}

func (v *VirtioMMIO) Size() uint64 { return VirtIOSize }

func (v *VirtioMMIO) Read(offset uint64, size int) (uint64, error) {
	if offset >= VirtioConfig {
		return v.backend.configRead(offset-VirtioConfig, size), nil
	}

	switch offset {
	case VirtioMagicValue:
		return virtioMagic, nil
	case VirtioVersion:
		return virtioMMIOVerion, nil
	case VirtioDeviceID:
		return uint64(v.backend.deviceID()), nil
	case VirtioVendorID:
		return 0xffff, nil
	case VirtioDeviceFeatures:
		if v.featuresSel == 1 {
			return 1, nil // feature bit 32 (VIRTIO_F_VERSION_1)
		}
		return 0, nil
	case VirtioQueueNumMax:
		return virtioQueueMax, nil
	case VirtioQueueReady:
		return uint64(v.currentQueue().ready), nil
	case VirtioInterruptStatus:
		return uint64(v.interruptStatus), nil
	case VirtioStatus:
		return uint64(v.status), nil
	case VirtioConfigGeneration:
		return 0, nil
	}
	return 0, nil
}

func (v *VirtioMMIO) Write(offset uint64, size int, value uint64) error {
	val := uint32(value)

	switch offset {
	case VirtioDeviceFeaturesSel:
		v.featuresSel = val
	case VirtioDriverFeatures:
		// driver feature acknowledgement: nothing negotiable is rejected.
	case VirtioDriverFeaturesSel:
		v.driverFeaturesSel = val
	case VirtioQueueSel:
		if val < virtioQueueCount {
			v.queueSel = val
		}
	case VirtioQueueNum:
		if val != 0 && val&(val-1) == 0 {
			v.currentQueue().num = val
		}
	case VirtioQueueReady:
		v.currentQueue().ready = val & 1
	case VirtioQueueNotify:
		if val < virtioQueueCount {
			return v.processQueue(int(val))
		}
	case VirtioInterruptACK:
		v.interruptStatus &^= val
		if v.interruptStatus == 0 {
			v.setInterrupt(false)
		}
	case VirtioStatus:
		v.status = val
		if val == 0 {
			v.reset()
		}
	case VirtioQueueDescLow:
		q := v.currentQueue()
		q.descAddr = (q.descAddr &^ 0xffffffff) | uint64(val)
	case VirtioQueueDescHigh:
		q := v.currentQueue()
		q.descAddr = (q.descAddr &^ (0xffffffff << 32)) | (uint64(val) << 32)
	case VirtioQueueDriverLow:
		q := v.currentQueue()
		q.availAddr = (q.availAddr &^ 0xffffffff) | uint64(val)
	case VirtioQueueDriverHigh:
		q := v.currentQueue()
		q.availAddr = (q.availAddr &^ (0xffffffff << 32)) | (uint64(val) << 32)
	case VirtioQueueDeviceLow:
		q := v.currentQueue()
		q.usedAddr = (q.usedAddr &^ 0xffffffff) | uint64(val)
	case VirtioQueueDeviceHigh:
		q := v.currentQueue()
		q.usedAddr = (q.usedAddr &^ (0xffffffff << 32)) | (uint64(val) << 32)
	default:
		if offset >= VirtioConfig {
			return nil // config space is read-only from the driver's side
		}
		return fmt.Errorf("virtio-mmio: write to unsupported register 0x%x", offset)
	}
	return nil
}

func (v *VirtioMMIO) currentQueue() *virtioQueue {
	return &v.queues[v.queueSel]
}

func (v *VirtioMMIO) reset() {
	for i := range v.queues {
		v.queues[i] = virtioQueue{}
	}
	v.interruptStatus = 0
	v.setInterrupt(false)
}

func (v *VirtioMMIO) setInterrupt(pending bool) {
	if pending == v.interrupt {
		return
	}
	v.interrupt = pending
	if v.OnInterrupt != nil {
		v.OnInterrupt(pending)
	}
}

func (v *VirtioMMIO) readDesc(descTableAddr uint64, idx uint16) (virtioDesc, error) {
	base := descTableAddr + uint64(idx)*16
	addr, err := v.bus.Read64(base)
	if err != nil {
		return virtioDesc{}, err
	}
	length, err := v.bus.Read32(base + 8)
	if err != nil {
		return virtioDesc{}, err
	}
	flags, err := v.bus.Read16(base + 12)
	if err != nil {
		return virtioDesc{}, err
	}
	next, err := v.bus.Read16(base + 14)
	if err != nil {
		return virtioDesc{}, err
	}
	return virtioDesc{addr: addr, len: length, flags: flags, next: next}, nil
}

func (v *VirtioMMIO) readRAM(addr uint64, buf []byte) error {
	for i := range buf {
		b, err := v.bus.Read8(addr + uint64(i))
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

func (v *VirtioMMIO) writeRAM(addr uint64, buf []byte) error {
	for i, b := range buf {
		if err := v.bus.Write8(addr+uint64(i), b); err != nil {
			return err
		}
	}
	return nil
}

// processQueue drains the available ring from lastAvailIdx to the driver's
// published avail.idx, dispatching each descriptor chain's head to the
// backend and publishing the result to the used ring.
func (v *VirtioMMIO) processQueue(queueIdx int) error {
	q := &v.queues[queueIdx]
	if q.ready == 0 || q.num == 0 {
		return nil
	}

	availIdx, err := v.bus.Read16(q.availAddr + 2)
	if err != nil {
		return err
	}
	availFlags, err := v.bus.Read16(q.availAddr)
	if err != nil {
		return err
	}

	for q.lastAvailIdx != availIdx {
		ringSlot := uint64(q.lastAvailIdx) & uint64(q.num-1)
		headDesc, err := v.bus.Read16(q.availAddr + 4 + ringSlot*2)
		if err != nil {
			return err
		}

		written, err := v.backend.handleRequest(v, q, headDesc)
		if err != nil {
			return fmt.Errorf("virtio-blk: request failed: %w", err)
		}

		if err := v.publishUsed(q, headDesc, written); err != nil {
			return err
		}

		q.lastAvailIdx++
	}

	if availFlags&1 == 0 { // VRING_AVAIL_F_NO_INTERRUPT not set
		v.interruptStatus |= 1
		v.setInterrupt(true)
	}
	return nil
}

func (v *VirtioMMIO) publishUsed(q *virtioQueue, headDesc uint16, length uint32) error {
	usedIdx, err := v.bus.Read16(q.usedAddr + 2)
	if err != nil {
		return err
	}
	slot := uint64(usedIdx) & uint64(q.num-1)
	entryAddr := q.usedAddr + 4 + slot*8
	if err := v.bus.Write32(entryAddr, uint32(headDesc)); err != nil {
		return err
	}
	if err := v.bus.Write32(entryAddr+4, length); err != nil {
		return err
	}
	return v.bus.Write16(q.usedAddr+2, usedIdx+1)
}

var _ Device = (*VirtioMMIO)(nil)
