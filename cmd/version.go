package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewVersionCommand prints the version and build time set through ldflags,
// ie. go build -ldflags "-X 'main.version=1.2.3' -X 'main.buildTime=2026-01-02T15:04:05Z'"
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the node's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", binVersion)
			if !buildTime.IsZero() {
				fmt.Fprintf(cmd.OutOrStdout(), "Built: %s\n", buildTime.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}
