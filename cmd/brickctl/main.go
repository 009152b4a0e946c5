// Package main provides the brickctl entry point.
//
// brickctl deploys a local project tree to an embedded controller over SSH,
// optionally runs its entry script there, and can reset a hung controller.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dpmlab/brickctl/internal/cli"
)

// Version information set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "brickctl",
		Short: "Deploy and control projects on a brick controller",
		Long: `brickctl pushes a local project to an embedded controller ("the brick")
over the network, runs its entry script there, and can reset a hung brick.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				log.SetLevel(log.DebugLevel)
				log.Debug("Debug logging enabled")
			}
		},
	}

	rootCmd.PersistentFlags().String("project", ".", "Project directory containing brick.yaml")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().Bool("trust-new-host", false, "Pin an unknown brick host identity on first use")
	rootCmd.PersistentFlags().Int("workers", 0, "Override the transfer worker pool size")

	rootCmd.AddCommand(cli.InitCmd())
	rootCmd.AddCommand(cli.DeployCmd())
	rootCmd.AddCommand(cli.RunCmd())
	rootCmd.AddCommand(cli.ResetCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("brickctl %s (%s)\n", version, commit)
		},
	}
}
