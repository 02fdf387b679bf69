// Command rvsim drives engine.Engine over a raw RV64 instruction image
// from the command line, in the idiom of the teacher's CPU.Step-driven
// test runners (sst_runner_test.go) promoted to a standalone binary.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rv-ooo/rvcore"
	"github.com/rv-ooo/rvcore/config"
	"github.com/rv-ooo/rvcore/engine"
	"github.com/rv-ooo/rvcore/lsu"
	"github.com/rv-ooo/rvcore/trace"
)

var (
	configPath string
	maxCycles  uint64
	memSize    int
	memLatency int
	memMSHR    int
	commitLog  bool
	branchLog  bool
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "rvsim",
		Short: "Cycle-stepped out-of-order RISC-V execution-core simulator",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML engine configuration (config.Params); defaults to config.Default()")
	root.PersistentFlags().Uint64Var(&maxCycles, "max-cycles", 1_000_000, "cycle budget before the run is aborted")
	root.PersistentFlags().IntVar(&memSize, "mem-size", 1<<20, "flat D-cache/memory size in bytes")
	root.PersistentFlags().IntVar(&memLatency, "mem-latency", 4, "D-cache response latency in cycles")
	root.PersistentFlags().IntVar(&memMSHR, "mem-mshr", 4, "D-cache outstanding-request limit")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug-level logging")

	root.AddCommand(runCmd(), traceCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <image>",
		Short: "Run an instruction image to completion and dump architectural state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// trace's flag defaults are written into these shared
			// variables when its flags are defined; run emits no logs.
			commitLog, branchLog = false, false
			return simulate(args[0])
		},
	}
}

func traceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <image>",
		Short: "Run an instruction image, emitting the commit and branch-resolution logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(args[0])
		},
	}
	cmd.Flags().BoolVar(&commitLog, "commit-log", true, "emit one trace line per retired MicroOp")
	cmd.Flags().BoolVar(&branchLog, "branch-log", false, "emit one line per branch resolution")
	return cmd
}

func simulate(imagePath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	image, err := loadImage(imagePath)
	if err != nil {
		return fmt.Errorf("rvsim: %w", err)
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	var tr *trace.Sink
	if commitLog || branchLog {
		tr = trace.New(os.Stdout, commitLog, branchLog)
	} else {
		tr = trace.Disabled()
	}

	m := engine.NewMetrics(prometheus.NewRegistry())
	mem := lsu.NewSimpleMem(memSize, memLatency, memMSHR)
	e := engine.New(cfg, image, mem, tr, m, log)

	for cycles := uint64(0); cycles < maxCycles; cycles++ {
		if err := e.Step(); err != nil {
			return dumpAndReturn(e, err)
		}
	}
	return dumpAndReturn(e, rvcore.ErrPipelineHang)
}

// loadImage reads a flat little-endian RV64 instruction image, one
// 32-bit word per instruction slot.
func loadImage(path string) ([]uint32, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("image %s: size %d is not a multiple of 4", path, len(buf))
	}
	words := make([]uint32, len(buf)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return words, nil
}

func dumpAndReturn(e *engine.Engine, cause error) error {
	fmt.Fprintf(os.Stderr, "rvsim: stopped after %d cycles: %v\n", e.Cycle, cause)
	for r := 1; r < 32; r++ {
		preg := e.Ren.CommitInt.Get(uint8(r))
		fmt.Printf("x%-2d = %#016x\n", r, e.PrfInt.Read(preg))
	}
	if _, ok := cause.(*rvcore.FatalError); ok {
		return cause
	}
	return nil
}
