package rv64

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var abiRegNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

const (
	traceHeaderColor = "\x1b[1;31m" // bold red
	traceRegColor    = "\x1b[36m"   // cyan
	traceReset       = "\x1b[0m"
)

// DumpTrace writes a register/PC snapshot to w, used when a run ends in an
// error that isn't an architectural trap. Colorized with ANSI SGR codes
// when colorize is true; otherwise the codes are stripped via ansi.Strip.
func (cpu *CPU) DumpTrace(w io.Writer, colorize bool, reason string) {
	var b strings.Builder

	fmt.Fprintf(&b, "%sfatal: %s%s\n", traceHeaderColor, reason, traceReset)
	fmt.Fprintf(&b, "  pc=0x%016x priv=%d cycle=%d instret=%d\n", cpu.PC, cpu.Priv, cpu.Cycle, cpu.Instret)

	for i := 0; i < 32; i += 4 {
		for j := 0; j < 4; j++ {
			reg := i + j
			fmt.Fprintf(&b, "%sx%-2d(%-4s)%s=0x%016x  ", traceRegColor, reg, abiRegNames[reg], traceReset, cpu.X[reg])
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "  mstatus=0x%016x mcause=0x%016x mepc=0x%016x mtval=0x%016x\n",
		cpu.Mstatus, cpu.Mcause, cpu.Mepc, cpu.Mtval)
	fmt.Fprintf(&b, "  scause=0x%016x sepc=0x%016x stval=0x%016x satp=0x%016x\n",
		cpu.Scause, cpu.Sepc, cpu.Stval, cpu.Satp)

	out := b.String()
	if !colorize {
		out = ansi.Strip(out)
	}
	io.WriteString(w, out)
}
