// Package config holds the parameter bundle a rvcore engine is
// initialized with: widths, structure sizes, and functional-unit
// latencies. Nothing in this package is mutated after Validate succeeds.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// IssueParams sizes one issue queue: its slot count and how many
// uops it can grant per cycle.
type IssueParams struct {
	Entries int `yaml:"entries"`
	Width   int `yaml:"width"`
}

// Params is the engine configuration bundle described in spec §6.
type Params struct {
	CoreWidth  int `yaml:"core_width"`
	FetchWidth int `yaml:"fetch_width"`
	MemWidth   int `yaml:"mem_width"`
	IntWidth   int `yaml:"int_width"`

	NumIntPhysRegs int `yaml:"num_int_phys_regs"`
	NumFpPhysRegs  int `yaml:"num_fp_phys_regs"`

	NumRobEntries int `yaml:"num_rob_entries"`
	NumLdqEntries int `yaml:"num_ldq_entries"`
	NumStqEntries int `yaml:"num_stq_entries"`

	MaxBrCount   int `yaml:"max_br_count"`
	DFMALatency  int `yaml:"dfma_latency"`
	NumRasEntries int `yaml:"num_ras_entries"`
	DivLatency   int `yaml:"div_latency"`

	IntIssue IssueParams `yaml:"int_issue"`
	MemIssue IssueParams `yaml:"mem_issue"`
	FpIssue  IssueParams `yaml:"fp_issue"`

	// TLBEntries sizes the abstracted one-cycle TLB's LRU cache.
	TLBEntries int `yaml:"tlb_entries"`

	// HangCycles is the number of consecutive cycles with no commit
	// before the watchdog raises a FatalError (spec §5).
	HangCycles uint64 `yaml:"hang_cycles"`
}

// Default returns a BOOM-like baseline configuration: a 4-wide core
// with 96 ROB entries, 96 int and 64 fp physical registers (64 and 32
// beyond the architectural 32), and 16 in-flight branches.
func Default() Params {
	return Params{
		CoreWidth:  4,
		FetchWidth: 4,
		MemWidth:   2,
		IntWidth:   2,

		NumIntPhysRegs: 96,
		NumFpPhysRegs:  64,

		NumRobEntries: 96,
		NumLdqEntries: 16,
		NumStqEntries: 16,

		MaxBrCount:    16,
		DFMALatency:   4,
		NumRasEntries: 16,
		DivLatency:    32,

		IntIssue: IssueParams{Entries: 16, Width: 2},
		MemIssue: IssueParams{Entries: 16, Width: 2},
		FpIssue:  IssueParams{Entries: 16, Width: 1},

		TLBEntries: 32,

		HangCycles: 8192,
	}
}

// Load reads a YAML configuration file and overlays it on Default().
// Fields the file does not mention keep their default; a field the file
// sets, even to zero, replaces the default.
func Load(path string) (Params, error) {
	p := Default()
	buf, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(buf, &p); err != nil {
		return p, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate checks the structural invariants a running engine depends on.
func (p Params) Validate() error {
	switch {
	case p.CoreWidth <= 0:
		return fmt.Errorf("config: core_width must be positive")
	case p.NumRobEntries%p.CoreWidth != 0:
		return fmt.Errorf("config: num_rob_entries must be a multiple of core_width")
	case p.MaxBrCount <= 0 || p.MaxBrCount > 64:
		return fmt.Errorf("config: max_br_count must be in (0,64]")
	case p.NumStqEntries <= 0 || p.NumStqEntries > 64:
		return fmt.Errorf("config: num_stq_entries must be in (0,64]")
	case p.NumLdqEntries <= 0:
		return fmt.Errorf("config: num_ldq_entries must be positive")
	case p.NumIntPhysRegs < 32 || p.NumFpPhysRegs < 32:
		return fmt.Errorf("config: phys reg files must cover the 32 architectural registers")
	case p.DivLatency <= 0:
		return fmt.Errorf("config: div_latency must be positive")
	}
	return nil
}
