// Package config loads the memstress configuration.
package config

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/pavanmanishd/memkit/internal/sysmem"
)

// Config is the top-level memstress configuration.
type Config struct {
	Seed    int64 `toml:"seed"`
	Rounds  int   `toml:"rounds"`
	Workers int   `toml:"workers"`

	Log   LogConfig   `toml:"log"`
	Arena ArenaConfig `toml:"arena"`
	Pool  PoolConfig  `toml:"pool"`
	Heap  HeapConfig  `toml:"heap"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"` // console or json
	File      string `toml:"file"`   // empty means stderr
	MaxSizeMB int    `toml:"max-size-mb"`
	MaxDays   int    `toml:"max-days"`
}

// ArenaConfig drives the single-arena workload.
type ArenaConfig struct {
	Capacity int `toml:"capacity"`
	Ops      int `toml:"ops"`
}

// PoolConfig drives the arena pool workload.
type PoolConfig struct {
	ArenaCapacity   int  `toml:"arena-capacity"`
	KeepEmptyArenas bool `toml:"keep-empty-arenas"`
	Ops             int  `toml:"ops"`
}

// HeapConfig drives the heap workload.
type HeapConfig struct {
	Backing      string `toml:"backing"`
	MinChunkSize int    `toml:"min-chunk-size"`
	MaxAlloc     int    `toml:"max-alloc"`
	MaxAlign     int    `toml:"max-align"`
	Ops          int    `toml:"ops"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Seed:    1,
		Rounds:  8,
		Workers: 4,
		Log: LogConfig{
			Level:     "info",
			Format:    "console",
			MaxSizeMB: 64,
			MaxDays:   7,
		},
		Arena: ArenaConfig{
			Capacity: 1000,
			Ops:      100000,
		},
		Pool: PoolConfig{
			ArenaCapacity: 64,
			Ops:           100000,
		},
		Heap: HeapConfig{
			Backing:      sysmem.KindGo,
			MinChunkSize: 1 << 16,
			MaxAlloc:     4096,
			MaxAlign:     256,
			Ops:          50000,
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: decoding %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, errors.Newf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate reports the first out-of-range setting.
func (c Config) Validate() error {
	switch {
	case c.Rounds <= 0:
		return errors.Newf("config: rounds must be positive, got %d", c.Rounds)
	case c.Workers <= 0:
		return errors.Newf("config: workers must be positive, got %d", c.Workers)
	case c.Arena.Capacity <= 0:
		return errors.Newf("config: arena.capacity must be positive, got %d", c.Arena.Capacity)
	case c.Pool.ArenaCapacity <= 0:
		return errors.Newf("config: pool.arena-capacity must be positive, got %d", c.Pool.ArenaCapacity)
	case c.Heap.MaxAlloc <= 0:
		return errors.Newf("config: heap.max-alloc must be positive, got %d", c.Heap.MaxAlloc)
	case c.Heap.MaxAlign <= 0 || c.Heap.MaxAlign&(c.Heap.MaxAlign-1) != 0:
		return errors.Newf("config: heap.max-align must be a power of two, got %d", c.Heap.MaxAlign)
	case c.Arena.Ops < 0 || c.Pool.Ops < 0 || c.Heap.Ops < 0:
		return errors.New("config: ops must not be negative")
	}
	switch c.Heap.Backing {
	case sysmem.KindGo, sysmem.KindMmap:
	default:
		return errors.Newf("config: heap.backing must be %q or %q, got %q", sysmem.KindGo, sysmem.KindMmap, c.Heap.Backing)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Newf("config: log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}
