package rv64

import (
	"context"
	"io"
	"sync"
)

// UART register offsets: a minimal two-register console, not a 16550.
const (
	UARTRegData   = 0 // TX (write) / RX (read) data byte
	UARTRegStatus = 1 // status byte
)

// Status bits.
const (
	UARTStatusRXEmpty    = 1 << 0
	UARTStatusRXIRQEn    = 1 << 1
	UARTStatusTXEmpty    = 1 << 2
	UARTStatusTXIRQEn    = 1 << 3
)

// ringBufferSize bounds both the RX and TX rings.
const ringBufferSize = 64

// txDrainThreshold is how full the TX ring must be before Tick drains it
// to stdout; rxIRQThreshold is the matching RX fill level for raising the
// receive interrupt.
const (
	txDrainThreshold = 1
	rxIRQThreshold   = 1
)

// byteRing is a small fixed-capacity FIFO of bytes.
type byteRing struct {
	buf   [ringBufferSize]byte
	head  int
	count int
}

func (r *byteRing) push(b byte) bool {
	if r.count == ringBufferSize {
		return false
	}
	r.buf[(r.head+r.count)%ringBufferSize] = b
	r.count++
	return true
}

func (r *byteRing) pop() (byte, bool) {
	if r.count == 0 {
		return 0, false
	}
	b := r.buf[r.head]
	r.head = (r.head + 1) % ringBufferSize
	r.count--
	return b, true
}

func (r *byteRing) len() int { return r.count }

// UART implements the spec's minimal console: a single data register and
// a single status register, backed by bounded TX/RX rings. A background
// goroutine blocks on raw stdin reads and feeds the RX ring; the main
// interpreter loop only ever touches the rings under mu.
type UART struct {
	Output io.Writer

	mu        sync.Mutex
	rx, tx    byteRing
	rxIRQEn   bool
	txIRQEn   bool
	interrupt bool

	// OnInterrupt is wired to the PLIC's source-10 pending line.
	OnInterrupt func(pending bool)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewUART creates a UART with output wired to output. A non-nil input is
// handed to StartInput, which launches the background reader; a nil input
// leaves the UART with no input source, a valid headless configuration.
func NewUART(output io.Writer, input io.Reader) *UART {
	u := &UART{Output: output}
	if input != nil {
		u.StartInput(input)
	}
	return u
}

// StartInput launches the background goroutine that reads raw bytes from r
// into the RX ring, one byte at a time, until Close is called or the read
// returns an error. This is the concurrency model's "auxiliary thread":
// its only shared state with the interpreter is the mutex-guarded rx ring.
func (u *UART) StartInput(r io.Reader) {
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.done = make(chan struct{})

	go func() {
		defer close(u.done)
		buf := make([]byte, 1)
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := r.Read(buf)
			if n > 0 {
				u.mu.Lock()
				u.rx.push(buf[0])
				u.recomputeInterruptLocked()
				u.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
}

// Close cancels the background input goroutine and waits for it to exit.
func (u *UART) Close() {
	if u.cancel != nil {
		u.cancel()
		<-u.done
	}
}

func (u *UART) Size() uint64 { return UARTSize }

func (u *UART) Read(offset uint64, size int) (uint64, error) {
	if size != 1 {
		return 0, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case UARTRegData:
		b, ok := u.rx.pop()
		if !ok {
			b = 0
		}
		u.recomputeInterruptLocked()
		return uint64(b), nil
	case UARTRegStatus:
		return uint64(u.statusLocked()), nil
	}
	return 0, nil
}

func (u *UART) Write(offset uint64, size int, value uint64) error {
	if size != 1 {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case UARTRegData:
		u.tx.push(byte(value))
	case UARTRegStatus:
		u.rxIRQEn = value&UARTStatusRXIRQEn != 0
		u.txIRQEn = value&UARTStatusTXIRQEn != 0
		u.recomputeInterruptLocked()
	}
	return nil
}

func (u *UART) statusLocked() uint8 {
	var s uint8
	if u.rx.len() == 0 {
		s |= UARTStatusRXEmpty
	}
	if u.rxIRQEn {
		s |= UARTStatusRXIRQEn
	}
	if u.tx.len() == 0 {
		s |= UARTStatusTXEmpty
	}
	if u.txIRQEn {
		s |= UARTStatusTXIRQEn
	}
	return s
}

// Tick drains the TX ring to stdout once it reaches the drain threshold
// and recomputes the PLIC interrupt line. Called once per emulated cycle.
func (u *UART) Tick() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.tx.len() >= txDrainThreshold && u.Output != nil {
		for {
			b, ok := u.tx.pop()
			if !ok {
				break
			}
			u.Output.Write([]byte{b})
		}
	}
	u.recomputeInterruptLocked()
}

func (u *UART) recomputeInterruptLocked() {
	pending := (u.rxIRQEn && u.rx.len() >= rxIRQThreshold) ||
		(u.txIRQEn && u.tx.len() == 0)

	if pending != u.interrupt {
		u.interrupt = pending
		if u.OnInterrupt != nil {
			u.OnInterrupt(pending)
		}
	}
}

// EnqueueInput adds input bytes directly to the RX ring, bypassing the
// background stdin reader; used by tests and by a non-interactive driver.
func (u *UART) EnqueueInput(data []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, b := range data {
		if !u.rx.push(b) {
			break
		}
	}
	u.recomputeInterruptLocked()
}

var _ Device = (*UART)(nil)
