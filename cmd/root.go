// Package cmd holds the weathernode command tree.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	binVersion = "dev"
	buildTime  time.Time
)

// minBuildTime is the floor for builds that carry neither ldflags nor VCS
// stamps. The hardware clock distrusts anything older than the build time.
var minBuildTime = time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// resolveBuildTime prefers the ldflags stamp, then the VCS commit time, then
// minBuildTime. It never returns the zero time.
func resolveBuildTime(built string) time.Time {
	if t, err := time.Parse(time.RFC3339, built); err == nil {
		return t
	}
	if info, ok := readBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key != "vcs.time" {
				continue
			}
			if t, err := time.Parse(time.RFC3339, s.Value); err == nil && t.After(minBuildTime) {
				return t
			}
		}
	}
	return minBuildTime
}

// rootContext ends on SIGINT or SIGTERM so a running node can stop between
// phases.
func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Execute builds the command tree and runs it. version and built come from
// the main package's ldflags; built is RFC 3339 and may be empty.
func Execute(version, built string) error {
	binVersion = version
	buildTime = resolveBuildTime(built)

	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "weathernode",
		Short:        "weathernode runs a battery powered weather sensor node",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file.")
	rootCmd.PersistentFlags().StringP("profile", "p", "", "Embedded device profile to start from.")

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewValidateCommand())
	rootCmd.AddCommand(NewScanCommand())
	rootCmd.AddCommand(NewVersionCommand())
	return rootCmd
}
