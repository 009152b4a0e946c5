package cli

import (
	"github.com/spf13/cobra"
)

// DeployCmd returns the deploy command
func DeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Copy the project to the brick without running it",
		Long:  `Mirrors the local project tree to the brick over SSH, transferring only files whose content changed since the last deploy.`,
		Args:  cobra.NoArgs,
		RunE:  runDeploy,
	}
}

func runDeploy(cmd *cobra.Command, args []string) error {
	inv, err := begin(cmd)
	if err != nil {
		return err
	}
	defer inv.close()

	_, err = inv.deploy()
	return err
}
