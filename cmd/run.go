package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"weatherstation-go/services/notify"
)

func handleRunCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	nd, err := buildNode(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer nd.closer()

	ctx, cancel := rootContext()
	defer cancel()

	err = nd.sched.Run(ctx)
	var fatal *notify.FatalError
	switch {
	case errors.As(err, &fatal):
		return fatal
	case ctx.Err() != nil:
		nd.n.Info("Weather Device stopped")
		return nil
	}
	return err
}

// NewRunCommand starts the duty cycle.
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sets the node up and runs its duty cycle until stopped.",
		RunE:  handleRunCmd,
	}
}
