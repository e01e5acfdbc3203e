package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/binalloc/heap"
	"github.com/vkngwrapper/binalloc/memutils/metadata"
	"github.com/vkngwrapper/binalloc/pagesource"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	pageUnit     int
	strategyName string
	sourceName   string
	jsonOut      bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "binalloc",
	Short: "Exercise a binned free-list allocator",
	Long: `binalloc drives a binned free-list heap with reproducible random workloads
and reports how well it packed the regions it acquired.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&pageUnit, "page-unit", heap.DefaultPageUnit, "Size of each region acquired from the page source")
	rootCmd.PersistentFlags().StringVar(&strategyName, "strategy", metadata.AllocationStrategyMinMemory.String(), "Free block selection strategy (MinMemory or MinTime)")
	rootCmd.PersistentFlags().StringVar(&sourceName, "source", "go", "Page source backing the heap (go or mmap)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every heap operation to stderr")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newPageSource() (pagesource.PageSource, error) {
	switch sourceName {
	case "go":
		return pagesource.NewGo(pageUnit)
	case "mmap":
		return pagesource.NewMmap(pageUnit)
	default:
		return nil, errors.Newf("unknown page source %q: expected go or mmap", sourceName)
	}
}

// newHeap builds a heap from the global flags
func newHeap(cmd *cobra.Command, maxRequestSize int) (*heap.Heap, error) {
	strategy, ok := metadata.ParseAllocationStrategy(strategyName)
	if !ok {
		return nil, errors.Newf("unknown strategy %q: expected %s or %s", strategyName,
			metadata.AllocationStrategyMinMemory, metadata.AllocationStrategyMinTime)
	}

	source, err := newPageSource()
	if err != nil {
		return nil, err
	}

	return heap.New(newLogger(cmd.ErrOrStderr()), heap.Options{
		PageSource:     source,
		PageUnit:       pageUnit,
		MaxRequestSize: maxRequestSize,
		Strategy:       strategy,
	})
}
