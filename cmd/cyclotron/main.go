// Package main provides the entry point for cyclotron, a cycle-level
// SIMT core timing model driven by synthetic traffic patterns.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/hansungk/cyclotron/config"
	"github.com/hansungk/cyclotron/timing/core"
	"github.com/hansungk/cyclotron/traffic"
)

var (
	configPath   = flag.String("config", "", "Path to run configuration JSON file")
	pattern      = flag.String("pattern", "strided", "Traffic pattern: strided, same_bank, random")
	global       = flag.Bool("global", false, "Drive global memory instead of shared memory")
	numOps       = flag.Int("ops", 64, "Memory operations per warp")
	storeRatio   = flag.Float64("store-ratio", 0.25, "Fraction of stores")
	computeEvery = flag.Int("compute-every", 0, "Insert a compute op after every n memory ops (0 = off)")
	barrierEvery = flag.Int("barrier-every", 0, "Insert a barrier after every n memory ops (0 = off)")
	seed         = flag.Uint64("seed", 0, "Traffic seed")
	maxCycles    = flag.Uint64("max-cycles", 0, "Override the configured cycle bound (0 = keep)")
	reportPath   = flag.String("o", "", "Write the report JSON to a file instead of stdout")
	verbose      = flag.Bool("v", false, "Verbose output")
)

// coreRun is one core's slice of the printed summary.
type coreRun struct {
	Core   int            `json:"core"`
	Result core.RunResult `json:"result"`
	Report core.Report    `json:"report"`
}

// output is the printed run summary. Cores share no state, so TotalCycles
// is the slowest core's cycle count.
type output struct {
	TotalCycles uint64    `json:"total_cycles"`
	TimedOut    bool      `json:"timed_out"`
	Cores       []coreRun `json:"cores"`
}

// stderrRecorder routes run-loop diagnostics to standard error.
type stderrRecorder struct{}

func (stderrRecorder) Logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func main() {
	flag.Parse()

	runCfg, err := loadRunConfig()
	if err != nil {
		fatal(err)
	}
	if *maxCycles > 0 {
		runCfg.MaxCycles = *maxCycles
	}

	trafCfg := trafficConfig(runCfg)
	if err := trafCfg.Validate(); err != nil {
		fatal(fmt.Errorf("traffic: %w", err))
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "pattern=%s cores=%d warps=%d lanes=%d ops/warp=%d\n",
			trafCfg.Pattern, runCfg.NumCores, runCfg.NumWarps,
			runCfg.NumLanes, trafCfg.NumOps)
	}

	var out output
	for coreID := 0; coreID < runCfg.NumCores; coreID++ {
		c, err := core.New(runCfg)
		if err != nil {
			fatal(err)
		}
		if *verbose {
			c.SetRecorder(stderrRecorder{})
		}
		coreTraf := trafCfg
		coreTraf.Seed = trafCfg.Seed ^ uint64(coreID)<<24
		for w := 0; w < runCfg.NumWarps; w++ {
			if err := c.LoadProgram(w, coreTraf.Program(w)); err != nil {
				fatal(err)
			}
		}

		result := c.Run(runCfg.MaxCycles)
		if result.Cycles > out.TotalCycles {
			out.TotalCycles = result.Cycles
		}
		out.TimedOut = out.TimedOut || result.TimedOut
		out.Cores = append(out.Cores, coreRun{
			Core:   coreID,
			Result: result,
			Report: c.Report(),
		})
	}

	if err := emit(out); err != nil {
		fatal(err)
	}
}

func loadRunConfig() (*config.RunConfig, error) {
	if *configPath == "" {
		return config.DefaultRunConfig(), nil
	}
	return config.Load(*configPath)
}

func trafficConfig(runCfg *config.RunConfig) traffic.Config {
	cfg := traffic.DefaultConfig()
	cfg.Pattern = traffic.Pattern(*pattern)
	cfg.Shared = !*global
	cfg.NumOps = *numOps
	cfg.NumLanes = runCfg.NumLanes
	cfg.NumBanks = runCfg.Smem.NumBanks
	cfg.StoreRatio = *storeRatio
	cfg.ComputeEvery = *computeEvery
	cfg.BarrierEvery = *barrierEvery
	cfg.Seed = *seed
	return cfg
}

func emit(out output) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}
	data = append(data, '\n')

	if *reportPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*reportPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
