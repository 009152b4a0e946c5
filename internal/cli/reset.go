package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ResetCmd returns the reset command
func ResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Recover a hung brick back to an idle state",
		Long:  `Sends a graceful termination to the project's processes on the brick, escalates to a forced termination if they survive the grace period, then re-arms the controller. Resetting an idle brick is a no-op.`,
		Args:  cobra.NoArgs,
		RunE:  runReset,
	}
}

func runReset(cmd *cobra.Command, args []string) error {
	inv, err := begin(cmd)
	if err != nil {
		return err
	}
	defer inv.close()

	fmt.Printf("Resetting %s...\n", inv.session.Target().Host)
	if err := inv.controller.Reset(inv.ctx); err != nil {
		return err
	}

	fmt.Printf("✓ Brick is %s\n", inv.controller.State())
	return nil
}
