// Package config loads the optional YAML machine descriptor: memory size,
// kernel/block image paths, and run-mode flags that would otherwise be a
// long list of CLI flags.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Machine describes one emulated system.
type Machine struct {
	MemoryMB  int    `yaml:"memory_mb"`
	Kernel    string `yaml:"kernel"`
	BlockFile string `yaml:"block_file"`
	EntryPC   uint64 `yaml:"entry_pc"`
	TestMode  bool   `yaml:"test_mode"`
	Trace     bool   `yaml:"trace"`
}

// Default values applied when a field is left unset in the descriptor.
const (
	DefaultMemoryMB = 128
	DefaultEntryPC  = 0x8000_0000
)

// Load reads and parses a machine descriptor from path.
func Load(path string) (Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Machine{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	m := Machine{MemoryMB: DefaultMemoryMB, EntryPC: DefaultEntryPC}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Machine{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if m.Kernel == "" {
		return Machine{}, fmt.Errorf("config: %s: kernel is required", path)
	}
	if m.MemoryMB <= 0 {
		return Machine{}, fmt.Errorf("config: %s: memory_mb must be positive", path)
	}

	slog.Debug("loaded machine config", "path", path, "memory_mb", m.MemoryMB, "kernel", m.Kernel)
	return m, nil
}
