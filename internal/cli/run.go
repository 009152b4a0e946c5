package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RunCmd returns the run command (deploy and run)
func RunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Deploy the project and run its entry script on the brick",
		Long:  `Mirrors the local project tree to the brick, then starts the descriptor's entry script there, streaming its output. The program's own exit status is reported, not treated as a failure.`,
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	inv, err := begin(cmd)
	if err != nil {
		return err
	}
	defer inv.close()

	if _, err := inv.deploy(); err != nil {
		return err
	}

	entry := inv.descriptor.Entrypoint
	fmt.Printf("Running %s on %s...\n", entry, inv.session.Target().Host)
	if err := inv.controller.Run(inv.ctx, entry); err != nil {
		return err
	}

	fmt.Printf("✓ %s finished\n", entry)
	return nil
}
