package main

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/pavanmanishd/memkit/internal/config"
	"github.com/pavanmanishd/memkit/internal/workload"
)

// run executes cfg.Rounds rounds on a pool of cfg.Workers goroutines. Every
// round builds its own allocators, so rounds share no state.
func run(cfg config.Config, logger *zap.Logger) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, err)
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithPreAlloc(true))
	if err != nil {
		return errors.Wrap(err, "creating worker pool")
	}
	defer pool.Release()

	start := time.Now()
	for round := 0; round < cfg.Rounds; round++ {
		seed := cfg.Seed + int64(round)
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if v := recover(); v != nil {
					logger.Error("round panicked", zap.Int("round", round), zap.Any("panic", v))
					fail(errors.Newf("round %d panicked: %v", round, v))
				}
			}()
			if err := runRound(cfg, round, seed, logger); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			return errors.Wrapf(err, "submitting round %d", round)
		}
	}
	wg.Wait()

	logger.Info("memstress finished",
		zap.Int("rounds", cfg.Rounds),
		zap.Int("failed", len(failed)),
		zap.Duration("elapsed", time.Since(start)),
	)
	if len(failed) > 0 {
		return errors.Wrapf(failed[0], "%d of %d rounds failed", len(failed), cfg.Rounds)
	}
	return nil
}

// runRound runs the arena, pool and heap workloads with one seed.
func runRound(cfg config.Config, round int, seed int64, logger *zap.Logger) error {
	logger = logger.With(zap.Int("round", round), zap.Int64("seed", seed))

	steps := []func() (workload.Report, error){
		func() (workload.Report, error) { return workload.RunArena(cfg.Arena, seed) },
		func() (workload.Report, error) { return workload.RunPool(cfg.Pool, seed, logger) },
		func() (workload.Report, error) { return workload.RunHeap(cfg.Heap, seed, logger) },
	}
	for _, step := range steps {
		r, err := step()
		if err != nil {
			logger.Error("workload failed", append(r.Fields(), zap.Error(err))...)
			return errors.Wrapf(err, "round %d (seed %d) %s", round, seed, r.Name)
		}
		logger.Info("workload passed", r.Fields()...)
	}
	return nil
}
