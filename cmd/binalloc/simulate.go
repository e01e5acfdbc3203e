package main

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/binalloc/heap"
	"github.com/vkngwrapper/binalloc/internal/workload"
)

var (
	simulateOps     int
	simulateSeed    int64
	simulateMinSize int
	simulateMaxSize int
	simulateLive    int
	simulateMap     bool
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().IntVar(&simulateOps, "ops", 10000, "Number of allocate or release operations")
	cmd.Flags().Int64Var(&simulateSeed, "seed", 1, "Seed for the random trace")
	cmd.Flags().IntVar(&simulateMinSize, "min", heap.DefaultMinRequestSize, "Smallest allocation size")
	cmd.Flags().IntVar(&simulateMaxSize, "max", heap.DefaultMaxRequestSize, "Largest allocation size")
	cmd.Flags().IntVar(&simulateLive, "live", 256, "Most allocations live at once")
	cmd.Flags().BoolVar(&simulateMap, "map", false, "Include the detailed free list map (JSON output only)")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a random allocation workload",
		Long: `The simulate command runs a reproducible random trace of allocations and
releases against a fresh heap, checks every payload for corruption, and reports
peak utilization along with the final size of each free list.

Example:
  binalloc simulate --ops 50000 --seed 3
  binalloc simulate --strategy MinTime --max 1024 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd)
		},
	}
	return cmd
}

func runSimulate(cmd *cobra.Command) error {
	h, err := newHeap(cmd, simulateMaxSize)
	if err != nil {
		return err
	}

	result, err := workload.Run(h, workload.Config{
		Ops:       simulateOps,
		Seed:      simulateSeed,
		MinSize:   simulateMinSize,
		MaxSize:   simulateMaxSize,
		MaxLive:   simulateLive,
		Alignment: int(h.Alignment()),
	})
	if err != nil {
		return err
	}

	freeCounts := h.Finalize()
	out := cmd.OutOrStdout()

	if jsonOut {
		writer := jwriter.NewWriter()
		obj := writer.Object()
		obj.Name("Strategy").String(h.Strategy().String())
		obj.Name("Allocations").Int(result.Allocations)
		obj.Name("Releases").Int(result.Releases)
		obj.Name("PeakLiveBytes").Int(result.PeakLiveBytes)
		obj.Name("RegionBytes").Int(result.RegionBytes)
		obj.Name("Utilization").Float64(result.Utilization)

		arr := obj.Name("FreeListSizes").Array()
		for _, count := range freeCounts {
			arr.Int(count)
		}
		arr.End()

		if simulateMap {
			h.PrintDetailedMap(obj.Name("Heap"))
		}
		obj.End()

		if err := writer.Error(); err != nil {
			return err
		}
		fmt.Fprintln(out, string(writer.Bytes()))
		return nil
	}

	fmt.Fprintf(out, "strategy:        %s\n", h.Strategy())
	fmt.Fprintf(out, "allocations:     %d\n", result.Allocations)
	fmt.Fprintf(out, "releases:        %d\n", result.Releases)
	fmt.Fprintf(out, "peak live bytes: %d\n", result.PeakLiveBytes)
	fmt.Fprintf(out, "region bytes:    %d\n", result.RegionBytes)
	fmt.Fprintf(out, "utilization:     %.1f%%\n", result.Utilization*100)
	fmt.Fprintln(out, "free list sizes:")

	table := h.Bins()
	for bin, count := range freeCounts {
		fmt.Fprintf(out, "  bin %d [%d, %d): %d\n", bin, table.Lower(bin), table.Upper(bin), count)
	}
	return nil
}
