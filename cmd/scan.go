package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"weatherstation-go/platform"
	"weatherstation-go/services/sensors"
)

func handleScanCmd(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("bus")
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path = cfg.I2C.Bus
	}
	bus, err := platform.OpenI2C(path)
	if err != nil {
		return err
	}
	defer bus.Close()

	found := sensors.Scan(bus)
	for _, addr := range found {
		fmt.Fprintf(cmd.OutOrStdout(), "0x%02x\n", addr)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d device(s) on %s\n", len(found), path)
	return nil
}

// NewScanCommand lists the addresses answering on the I2C bus.
func NewScanCommand() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Lists devices that acknowledge on the I2C bus.",
		RunE:  handleScanCmd,
	}
	scanCmd.Flags().String("bus", "", "I2C adapter, defaults to the configured one.")
	return scanCmd
}
