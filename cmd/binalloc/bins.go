package main

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/binalloc/memutils/bins"
)

func init() {
	rootCmd.AddCommand(newBinsCmd())
}

func newBinsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bins <size>...",
		Short: "Show the size class of each size",
		Long: `The bins command prints the size class that a block of each given payload
size is filed under.

Example:
  binalloc bins 16 64 1000 5000
  binalloc bins 16 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBins(cmd, args)
		},
	}
	return cmd
}

func runBins(cmd *cobra.Command, args []string) error {
	table := bins.Default()

	sizes := make([]int, 0, len(args))
	for _, arg := range args {
		size, err := strconv.Atoi(arg)
		if err != nil {
			return errors.Wrapf(err, "invalid size %q", arg)
		}
		sizes = append(sizes, size)
	}

	out := cmd.OutOrStdout()

	if jsonOut {
		writer := jwriter.NewWriter()
		arr := writer.Array()
		for _, size := range sizes {
			class := table.Index(size)
			obj := arr.Object()
			obj.Name("Size").Int(size)
			obj.Name("Bin").Int(class)
			obj.Name("Lower").Int(table.Lower(class))
			obj.Name("Upper").Int(table.Upper(class))
			obj.End()
		}
		arr.End()

		if err := writer.Error(); err != nil {
			return err
		}
		fmt.Fprintln(out, string(writer.Bytes()))
		return nil
	}

	for _, size := range sizes {
		class := table.Index(size)
		fmt.Fprintf(out, "%d\tbin %d [%d, %d)\n", size, class, table.Lower(class), table.Upper(class))
	}
	return nil
}
