// Command memstress runs randomized allocate/free workloads against the
// memkit allocators and verifies them against shadow models.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pavanmanishd/memkit/internal/config"
	"github.com/pavanmanishd/memkit/internal/logutil"
)

var (
	ConfigFile = pflag.StringP("config", "c", "", "path to a TOML config file")
	Seed       = pflag.Int64P("seed", "s", 0, "base random seed (overrides config)")
	Rounds     = pflag.IntP("rounds", "r", 0, "number of rounds (overrides config)")
	Workers    = pflag.IntP("workers", "w", 0, "rounds run concurrently (overrides config)")
	Backing    = pflag.String("heap-backing", "", "heap backing allocator: go or mmap (overrides config)")
	LogLevel   = pflag.StringP("log-level", "L", "", "log level (overrides config)")
	LogFile    = pflag.String("log-file", "", "write logs to a rotated file instead of stderr")
	LogJSON    = pflag.Bool("log-json", false, "use json logs")
	Help       = pflag.BoolP("help", "h", false, "show this help text")
)

func main() {
	pflag.Parse()

	if *Help || pflag.NArg() != 0 {
		fmt.Printf("usage: %s [options]\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if *Help {
			return
		}
		os.Exit(2)
	}

	cfg := config.Default()
	if *ConfigFile != "" {
		var err error
		if cfg, err = config.Load(*ConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
	}
	applyFlags(pflag.CommandLine, &cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	logger, err := logutil.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("memstress failed", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("seed") {
		cfg.Seed = *Seed
	}
	if fs.Changed("rounds") {
		cfg.Rounds = *Rounds
	}
	if fs.Changed("workers") {
		cfg.Workers = *Workers
	}
	if fs.Changed("heap-backing") {
		cfg.Heap.Backing = *Backing
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *LogLevel
	}
	if fs.Changed("log-file") {
		cfg.Log.File = *LogFile
	}
	if *LogJSON {
		cfg.Log.Format = "json"
	}
}
