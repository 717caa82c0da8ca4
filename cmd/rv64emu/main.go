// Command rv64emu boots a raw kernel image against the RV64GC emulator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/rv64emu/rv64emu/internal/config"
	"github.com/rv64emu/rv64emu/internal/rv64"
)

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	configPath := fs.String("config", "", "path to a YAML machine descriptor (overrides the flags below)")
	kernel := fs.String("kernel", "", "path to a raw kernel image to load at RAM base")
	blockFile := fs.String("block", "", "path to a virtio-blk backing image")
	memoryMB := fs.Int("memory-mb", config.DefaultMemoryMB, "RAM size in megabytes")
	entryPC := fs.Uint64("entry", config.DefaultEntryPC, "initial program counter")
	testMode := fs.Bool("test-mode", false, "terminate on ECALL, exit status 0 iff x10==0")
	trace := fs.Bool("trace", false, "set the log level to debug")
	verbose := fs.Bool("v", false, "show a progress bar while loading the kernel image")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	level := slog.LevelInfo
	if *trace {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	m := config.Machine{
		MemoryMB:  *memoryMB,
		Kernel:    *kernel,
		BlockFile: *blockFile,
		EntryPC:   *entryPC,
		TestMode:  *testMode,
		Trace:     *trace,
	}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		m = loaded
	}
	if m.Kernel == "" {
		return fmt.Errorf("no kernel image specified (use -kernel or -config)")
	}

	opts := []rv64.Option{rv64.WithLogger(logger)}
	if m.TestMode {
		opts = append(opts, rv64.WithTestMode())
	}
	if m.BlockFile != "" {
		opts = append(opts, rv64.WithBlockDevice(m.BlockFile))
	}

	machine := rv64.NewMachine(uint64(m.MemoryMB)*1024*1024, os.Stdout, os.Stdin, opts...)
	defer machine.Close()

	machine.Reset()
	machine.SetPC(m.EntryPC)

	if err := loadKernel(machine, m.Kernel, *verbose); err != nil {
		return err
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("enable raw mode: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := machine.Run(ctx, 0)
	if errors.Is(err, rv64.ErrHalt) {
		if m.TestMode && machine.ExitCode() != 0 {
			return fmt.Errorf("test failed: x10=%d", machine.ExitCode())
		}
		return nil
	}
	if err != nil {
		machine.CPU.DumpTrace(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), err.Error())
		return err
	}
	return nil
}

func loadKernel(m *rv64.Machine, path string, verbose bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read kernel image %s: %w", path, err)
	}

	if !verbose {
		return m.LoadBytes(m.MemoryBase(), data)
	}

	bar := progressbar.DefaultBytes(int64(len(data)), "loading kernel")
	defer bar.Close()

	const chunkSize = 1 << 20
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := m.LoadBytes(m.MemoryBase()+uint64(off), data[off:end]); err != nil {
			return fmt.Errorf("load kernel image: %w", err)
		}
		bar.Add(end - off)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rv64emu: %v\n", err)
		os.Exit(1)
	}
}
