package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dpmlab/brickctl/internal/config"
)

// InitCmd returns the init command
func InitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter brick.yaml project descriptor",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
	cmd.Flags().Int("group", 0, "Numeric group identifier of the brick")
	cmd.Flags().String("entrypoint", "main.py", "Project-relative entry script")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	projectDir, _ := cmd.Flags().GetString("project")
	group, _ := cmd.Flags().GetInt("group")
	entrypoint, _ := cmd.Flags().GetString("entrypoint")

	if group < config.GroupMin || group > config.GroupMax {
		return &config.ConfigError{Field: "group", Reason: fmt.Sprintf("pass --group between %d and %d", config.GroupMin, config.GroupMax)}
	}

	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve project directory: %w", err)
	}
	descriptorPath := filepath.Join(abs, config.DescriptorName)
	if _, err := os.Stat(descriptorPath); err == nil {
		return fmt.Errorf("%s already exists; edit it instead", descriptorPath)
	}

	desc := config.Descriptor{
		Group:       group,
		Entrypoint:  entrypoint,
		Interpreter: config.DefaultInterpreter,
		Exclude:     []string{".git", "__pycache__", ".venv"},
	}
	data, err := yaml.Marshal(&desc)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	header := "# brickctl project descriptor\n# Generated by: brickctl init\n\n"
	if err := os.WriteFile(descriptorPath, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}

	fmt.Printf("✓ Descriptor written to %s\n", descriptorPath)
	fmt.Printf("\nRun 'brickctl run' to deploy and start %s on brick %d\n", entrypoint, group)
	return nil
}
