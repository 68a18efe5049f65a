package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Overridable with -ldflags "-X main.version=...". Unset values are filled
// from the module and VCS data the go command stamps into the binary.
var (
	version = ""
	commit  = ""
	date    = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		v, c, d := buildVersion()
		fmt.Printf("heapctl %s\n", v)
		fmt.Printf("  commit: %s\n", c)
		fmt.Printf("  built: %s\n", d)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version, _, _ = buildVersion()
}

// buildVersion returns version, commit and build date.
func buildVersion() (string, string, string) {
	v, c, d := version, commit, date
	if info, ok := debug.ReadBuildInfo(); ok {
		if v == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && c == "":
				c = s.Value
			case s.Key == "vcs.time" && d == "":
				d = s.Value
			}
		}
	}
	if v == "" {
		v = "dev"
	}
	if c == "" {
		c = "none"
	}
	if d == "" {
		d = "unknown"
	}
	return v, c, d
}
