package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbihost/dbihost/pkg/config"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the configured catalog and exit",
	Long: `List the titles configured in the catalog section of the configuration
file, along with the path each name resolves to. Useful for checking a
configuration before plugging in a Switch.`,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(cfg.Catalog) == 0 {
		fmt.Println("Catalog is empty.")
		return nil
	}

	for _, entry := range cfg.Catalog {
		fmt.Printf("%s\t%s\n", entry.Name, entry.Path)
	}

	return nil
}
