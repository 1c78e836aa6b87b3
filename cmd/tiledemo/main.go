// Command tiledemo drives the tiled engine from the command line.
//
// # Basic Usage
//
// Run an update queue scenario and print queue statistics:
//
//	tiledemo queue --layers 8 --updates 200
//
// Paint a stroke, then undo and redo it:
//
//	tiledemo stroke --dabs 64
//
// Move tiles to a swap backend and read them back:
//
//	tiledemo swap --backend sqlite
//
// Render a scene to PNG and save its tiles:
//
//	tiledemo dump --output scene.png --tiles scene.tiles
//
// Every command accepts --config with a YAML engine configuration.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/tiled"
)

// Build information, set by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
	width      int
	height     int
	seed       uint64
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "tiledemo",
		Short: "Exercise the tiled raster engine",
		Long: `tiledemo builds layer trees on a tiled raster image and runs update,
stroke, swap and persistence scenarios against them.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if g.verbose {
				level = slog.LevelDebug
			}
			tiled.SetLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Path to YAML engine configuration")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Log engine diagnostics")
	pf.IntVar(&g.width, "width", 1024, "Image width in pixels")
	pf.IntVar(&g.height, "height", 768, "Image height in pixels")
	pf.Uint64Var(&g.seed, "seed", 1, "Random seed for generated scenes")

	rootCmd.AddCommand(
		buildQueueCmd(g),
		buildStrokeCmd(g),
		buildSwapCmd(g),
		buildDumpCmd(g),
	)
	return rootCmd
}

// loadConfig returns the configuration named by --config, or the defaults.
func (g *globalFlags) loadConfig() (tiled.Config, error) {
	if g.configPath == "" {
		return tiled.DefaultConfig(), nil
	}
	return tiled.LoadConfig(g.configPath)
}
