package rv64

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const sectorSize = 512

// Request types from the request header's type field.
const (
	blkReqRead  = 0
	blkReqWrite = 1
	blkReqFlush = 2
	blkReqGetID = 8
)

// Status byte values written into the request footer.
const (
	blkStatusOK     = 0
	blkStatusIOErr  = 1
	blkStatusUnsupp = 2
)

// virtioBlock is the virtio-blk device backend: a disk image mapped into
// host memory so FLUSH can msync it directly rather than staging a copy.
type virtioBlock struct {
	file     *os.File
	contents []byte // mmap-backed
}

// NewVirtioBlock maps path read/write and returns a device ready to be
// wrapped in a VirtioMMIO. Closing the Machine should call Close to unmap
// and sync the image.
func NewVirtioBlock(path string) (*virtioBlock, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open block image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat block image: %w", err)
	}
	size := info.Size()
	if size == 0 || size%sectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf("block image size %d is not sector-aligned", size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap block image: %w", err)
	}

	return &virtioBlock{file: f, contents: data}, nil
}

// Close flushes and unmaps the backing image.
func (b *virtioBlock) Close() error {
	if b.contents != nil {
		if err := unix.Msync(b.contents, unix.MS_SYNC); err != nil {
			return err
		}
		if err := unix.Munmap(b.contents); err != nil {
			return err
		}
		b.contents = nil
	}
	return b.file.Close()
}

func (b *virtioBlock) sectors() uint64 { return uint64(len(b.contents)) / sectorSize }

func (b *virtioBlock) deviceID() uint32 { return 2 } // VIRTIO_ID_BLOCK

// configRead serves the block device config space; only the capacity
// field (sector count, at offset 0) is implemented.
func (b *virtioBlock) configRead(offset uint64, size int) uint64 {
	if offset != 0 {
		return 0
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], b.sectors())
	switch size {
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf[:4]))
	default:
		return binary.LittleEndian.Uint64(buf[:])
	}
}

// handleRequest walks the fixed three-descriptor chain {header, data,
// footer} required by the protocol and performs the requested operation
// against the mmap-backed image.
func (b *virtioBlock) handleRequest(mmio *VirtioMMIO, q *virtioQueue, headDesc uint16) (uint32, error) {
	header, err := mmio.readDesc(q.descAddr, headDesc)
	if err != nil {
		return 0, err
	}
	if header.flags&vringDescFNext == 0 {
		return 0, fmt.Errorf("request header has no next descriptor")
	}

	var hdrBuf [16]byte
	if err := mmio.readRAM(header.addr, hdrBuf[:]); err != nil {
		return 0, err
	}
	reqType := binary.LittleEndian.Uint32(hdrBuf[0:4])
	sector := binary.LittleEndian.Uint64(hdrBuf[8:16])

	data, err := mmio.readDesc(q.descAddr, header.next)
	if err != nil {
		return 0, err
	}
	if data.flags&vringDescFNext == 0 {
		return 0, fmt.Errorf("request data descriptor has no next (footer) descriptor")
	}
	footer, err := mmio.readDesc(q.descAddr, data.next)
	if err != nil {
		return 0, err
	}

	status := uint8(blkStatusOK)
	var writtenLen uint32

	switch reqType {
	case blkReqRead:
		if data.flags&vringDescFWrite == 0 {
			return 0, fmt.Errorf("read request's data descriptor is not device-writable")
		}
		off := sector * sectorSize
		if off+uint64(data.len) > uint64(len(b.contents)) {
			status = blkStatusIOErr
		} else {
			if err := mmio.writeRAM(data.addr, b.contents[off:off+uint64(data.len)]); err != nil {
				return 0, err
			}
			writtenLen = data.len
		}

	case blkReqWrite:
		buf := make([]byte, data.len)
		if err := mmio.readRAM(data.addr, buf); err != nil {
			return 0, err
		}
		off := sector * sectorSize
		if off+uint64(len(buf)) > uint64(len(b.contents)) {
			status = blkStatusIOErr
		} else {
			copy(b.contents[off:], buf)
		}

	case blkReqFlush:
		if err := unix.Msync(b.contents, unix.MS_SYNC); err != nil {
			status = blkStatusIOErr
		}

	case blkReqGetID:
		id := []byte("rv64emu-blk0")
		if uint32(len(id)) > data.len {
			id = id[:data.len]
		}
		if err := mmio.writeRAM(data.addr, id); err != nil {
			return 0, err
		}
		writtenLen = uint32(len(id))

	default:
		status = blkStatusUnsupp
	}

	if err := mmio.writeRAM(footer.addr, []byte{status}); err != nil {
		return 0, err
	}

	return writtenLen, nil
}

var _ virtioBackend = (*virtioBlock)(nil)
