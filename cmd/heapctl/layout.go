package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/blockgc/heap/alloc"
)

var (
	layoutBlockSize int
	layoutInitial   int
	layoutAlignment int
	layoutPages     int
)

func init() {
	cmd := newLayoutCmd()
	cmd.Flags().IntVar(&layoutBlockSize, "block-size", 0, "Slot size in bytes (default from config)")
	cmd.Flags().IntVar(&layoutInitial, "initial", 0, "Slots in page 0 (default from config)")
	cmd.Flags().IntVar(&layoutAlignment, "alignment", -1, "Slot alignment (default from config)")
	cmd.Flags().IntVar(&layoutPages, "pages", 8, "Number of generations to show")
	rootCmd.AddCommand(cmd)
}

func newLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Show the page geometry of an allocator",
		Long: `The layout command prints, for each page generation, the slot count,
the page size including its header, and the cumulative capacity.

Example:
  heapctl layout --block-size 48 --alignment 16
  heapctl layout --initial 64 --pages 12 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout()
		},
	}
	return cmd
}

// LayoutRow describes one page generation.
type LayoutRow struct {
	Page       int `json:"page"`
	Blocks     int `json:"blocks"`
	PageBytes  int `json:"page_bytes"`
	TotalSlots int `json:"total_slots"`
	TotalBytes int `json:"total_bytes"`
}

// LayoutReport is the layout command output.
type LayoutReport struct {
	BlockSize    int         `json:"block_size"`
	Alignment    int         `json:"alignment"`
	HeaderOffset int         `json:"header_offset"`
	Rows         []LayoutRow `json:"rows"`
}

func runLayout() error {
	opts := cfg.AllocOptions("layout")
	if layoutBlockSize > 0 {
		opts.BlockSize = layoutBlockSize
	}
	if layoutInitial > 0 {
		opts.InitialBlocks = layoutInitial
	}
	if layoutAlignment >= 0 {
		opts.Alignment = layoutAlignment
	}
	if layoutPages <= 0 || layoutPages > alloc.DefaultMaxPages {
		return fmt.Errorf("--pages must be between 1 and %d", alloc.DefaultMaxPages)
	}

	// Construct a real allocator so the options are normalized and validated
	// exactly as at runtime.
	a, err := alloc.New(opts)
	if err != nil {
		return fmt.Errorf("invalid allocator options: %w", err)
	}
	base := a.Layout()
	a.Destroy()

	report := LayoutReport{
		BlockSize:    base.BlockSize,
		Alignment:    base.Alignment,
		HeaderOffset: base.HeaderOffset,
	}
	slots, bytes := 0, 0
	for i := range layoutPages {
		l := base.Grow(i)
		slots += l.Blocks
		bytes += l.Size()
		report.Rows = append(report.Rows, LayoutRow{
			Page:       i,
			Blocks:     l.Blocks,
			PageBytes:  l.Size(),
			TotalSlots: slots,
			TotalBytes: bytes,
		})
	}

	if jsonOut {
		return printJSON(report)
	}

	printInfo("\n%s\n", render(titleStyle, "Allocator Layout"))
	printField("Block size", fmtInt(report.BlockSize)+" bytes")
	printField("Alignment", fmtInt(report.Alignment))
	printField("Header", fmtInt(report.HeaderOffset)+" bytes")
	printInfo("\n  %-6s %14s %12s %16s %12s\n", "PAGE", "SLOTS", "SIZE", "TOTAL SLOTS", "TOTAL")
	for _, r := range report.Rows {
		printInfo("  %-6d %14s %12s %16s %12s\n",
			r.Page, fmtInt(r.Blocks), fmtBytes(r.PageBytes), fmtInt(r.TotalSlots), fmtBytes(r.TotalBytes))
	}
	printInfo("\n")
	return nil
}
