// Package main provides pagecache-bench, a throughput/latency benchmark
// driver for the pager.
package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/pagecache/pager"
)

var errMissingPath = errors.New("pagecache-bench: --file is required")

// benchConfig holds all benchmark configuration.
type benchConfig struct {
	Path        string
	SelfSoftMiB int
	SelfHardMiB int
	Workers     int
	Duration    time.Duration
	Random      bool
}

// benchResult holds a single run's aggregate numbers.
type benchResult struct {
	Gets      int64
	Hits      int64
	Errors    int64
	Evictions uint64
	BytesRead int64
	WallClock time.Duration
}

func main() {
	cfg := benchConfig{}

	flag.StringVar(&cfg.Path, "file", "", "Path to the backing file to benchmark against (required)")
	flag.IntVar(&cfg.SelfSoftMiB, "self-soft-mib", 64, "Self soft memory limit, in MiB")
	flag.IntVar(&cfg.SelfHardMiB, "self-hard-mib", 128, "Self hard memory limit, in MiB")
	flag.IntVar(&cfg.Workers, "workers", 4, "Concurrent goroutines issuing get_page/let_go")
	flag.DurationVar(&cfg.Duration, "duration", 3*time.Second, "How long to run the benchmark")
	flag.BoolVar(&cfg.Random, "random", true, "Pick pages at random instead of sequentially")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: pagecache-bench --file=<path> [flags]\n\n")
		fmt.Fprint(os.Stderr, "Drives concurrent get_page/let_go load against a pager over the given file.\n\n")
		fmt.Fprint(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if err := run(cfg, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "pagecache-bench: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg benchConfig, out, errOut *os.File) error {
	if cfg.Path == "" {
		return errMissingPath
	}

	fi, err := os.Stat(cfg.Path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", cfg.Path, err)
	}

	p, err := pager.Open(cfg.Path, pager.Options{
		Limits: pager.Limits{
			SelfSoft: uint64(cfg.SelfSoftMiB) * 1024 * 1024,
			SelfHard: uint64(cfg.SelfHardMiB) * 1024 * 1024,
		},
	})
	if err != nil {
		return fmt.Errorf("open pager: %w", err)
	}

	defer func() { _ = p.Close() }()

	maxPage := fi.Size() / pager.PageSize
	if maxPage == 0 {
		maxPage = 1
	}

	result := &benchResult{}

	deadline := time.Now().Add(cfg.Duration)

	var wg sync.WaitGroup

	for w := 0; w < cfg.Workers; w++ {
		w := w

		wg.Add(1)

		go func() {
			defer wg.Done()
			worker(p, cfg, maxPage, deadline, w, result)
		}()
	}

	start := time.Now()
	wg.Wait()
	result.WallClock = time.Since(start)

	printReport(out, cfg, result, p.Stats())

	return nil
}

func worker(p *pager.Pager, cfg benchConfig, maxPage int64, deadline time.Time, seed int, result *benchResult) {
	rng := rand.New(rand.NewSource(int64(seed) + 1)) //nolint:gosec // benchmark tool, not security-sensitive

	var next int64

	for time.Now().Before(deadline) {
		var page int64
		if cfg.Random {
			page = rng.Int63n(maxPage)
		} else {
			page = next % maxPage
			next++
		}

		view, err := p.GetPage(uint64(page), 1)

		atomic.AddInt64(&result.Gets, 1)

		if err != nil {
			atomic.AddInt64(&result.Errors, 1)

			continue
		}

		atomic.AddInt64(&result.Hits, 1)
		atomic.AddInt64(&result.BytesRead, int64(len(view)))

		p.LetGo(uint64(page), 1)
	}
}

func printReport(out *os.File, cfg benchConfig, result *benchResult, stats pager.Stats) {
	fmt.Fprintf(out, "workers:        %d\n", cfg.Workers)
	fmt.Fprintf(out, "wall clock:     %s\n", result.WallClock)
	fmt.Fprintf(out, "get_page calls: %d\n", result.Gets)
	fmt.Fprintf(out, "successes:      %d\n", result.Hits)
	fmt.Fprintf(out, "errors:         %d\n", result.Errors)
	fmt.Fprintf(out, "bytes read:     %d\n", result.BytesRead)

	if result.WallClock > 0 {
		perSec := float64(result.Gets) / result.WallClock.Seconds()
		fmt.Fprintf(out, "get_page/sec:   %.0f\n", perSec)
	}

	fmt.Fprintf(out, "blocks loaded:  %d\n", stats.BlocksLoaded)
	fmt.Fprintf(out, "evictions:      %d\n", stats.EvictionCount)
	fmt.Fprintf(out, "bytes evicted:  %d\n", stats.BytesEvicted)
	fmt.Fprintf(out, "size used:      %d\n", stats.SizeUsed)
}
