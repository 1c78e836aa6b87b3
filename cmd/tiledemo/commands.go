package main

import (
	"github.com/spf13/cobra"

	"github.com/gogpu/tiled"
)

// =============================================================================
// Queue Command
// =============================================================================

// buildQueueCmd creates the "queue" command that floods the update queue.
func buildQueueCmd(g *globalFlags) *cobra.Command {
	var (
		layers  int
		updates int
		alpha   float64
	)
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue random layer updates and report scheduler statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(cmd, g, layers, updates, alpha)
		},
	}
	cmd.Flags().IntVar(&layers, "layers", 4, "Number of paint layers")
	cmd.Flags().IntVar(&updates, "updates", 100, "Number of update requests")
	cmd.Flags().Float64Var(&alpha, "merge-alpha", -1, "Override max_merge_alpha (negative keeps the config value)")
	return cmd
}

// =============================================================================
// Stroke Command
// =============================================================================

// buildStrokeCmd creates the "stroke" command that paints, undoes and
// redoes a stroke.
func buildStrokeCmd(g *globalFlags) *cobra.Command {
	var (
		dabs   int
		radius int
		cancel bool
	)
	cmd := &cobra.Command{
		Use:   "stroke",
		Short: "Paint a stroke of dabs, then undo and redo it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStroke(cmd, g, dabs, radius, cancel)
		},
	}
	cmd.Flags().IntVar(&dabs, "dabs", 32, "Number of dabs along the stroke")
	cmd.Flags().IntVar(&radius, "radius", 12, "Dab half-size in pixels")
	cmd.Flags().BoolVar(&cancel, "cancel", false, "Cancel the stroke halfway instead of ending it")
	return cmd
}

// =============================================================================
// Swap Command
// =============================================================================

// buildSwapCmd creates the "swap" command that evicts tiles to a backend.
func buildSwapCmd(g *globalFlags) *cobra.Command {
	var (
		backend     string
		path        string
		compression string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap tiles out to a backend and verify they read back",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwap(cmd, g, tiled.SwapConfig{Backend: backend, Path: path, Compression: compression}, limit)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", tiled.SwapSQLite, "Swap backend (file or sqlite)")
	cmd.Flags().StringVar(&path, "path", "", "Swap file or database (empty for a temporary one)")
	cmd.Flags().StringVar(&compression, "compression", "", "Tile compression (raw, rle or zstd)")
	cmd.Flags().IntVar(&limit, "limit", 1<<20, "Maximum number of tiles to swap out")
	return cmd
}

// =============================================================================
// Dump Command
// =============================================================================

// buildDumpCmd creates the "dump" command that renders a scene to disk.
func buildDumpCmd(g *globalFlags) *cobra.Command {
	var (
		output     string
		tilesPath  string
		thumbWidth int
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Render a layered scene to PNG and optionally save its tiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, g, output, tilesPath, thumbWidth)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "tiled.png", "PNG output file")
	cmd.Flags().StringVar(&tilesPath, "tiles", "", "Also save the projection as a tile stream")
	cmd.Flags().IntVar(&thumbWidth, "thumb-width", 0, "Scale the PNG to this width (0 keeps the image size)")
	return cmd
}
