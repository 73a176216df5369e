package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dbihost/dbihost/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample dbihost configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dbihost/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  dbihost init

  # Initialize with custom path
  dbihost init --config /etc/dbihost/config.yaml

  # Force overwrite existing config
  dbihost init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your titles under the 'catalog' section")
	fmt.Println("  2. Plug in your Switch in bulk USB install mode")
	fmt.Printf("  3. Start the host with: dbihost start --config %s\n", configPath)

	return nil
}
