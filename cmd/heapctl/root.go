package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/blockgc/heap/alloc"
	"github.com/joshuapare/blockgc/internal/config"
	"github.com/joshuapare/blockgc/internal/logger"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	noColor    bool
	configPath string

	// cfg is loaded before every command runs.
	cfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "heapctl",
	Short: "Inspect block allocator layouts and simulate cycle collection",
	Long: `heapctl is a diagnostic tool for the slab block allocator and the
cycle-collecting garbage collector. It prints page geometry for a given
slot size and runs seeded object graph simulations that report what the
collector reclaimed.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "YAML configuration file")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and initializes logging.
func loadConfig(*cobra.Command, []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = c

	lopts, err := cfg.LoggerOptions()
	if err != nil {
		return err
	}
	if verbose && !lopts.Enabled {
		lopts.Enabled = true
		lopts.Writer = os.Stderr
	}
	if err := logger.Init(lopts); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	alloc.SetTracing(cfg.Log.AllocTrace)

	printVerbose("Configuration: %s\n", configSource())
	return nil
}

func configSource() string {
	if configPath == "" {
		return "defaults"
	}
	return configPath
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
