package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cajuassist/router/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long:  `Writes a router.yml with the default configuration, ready to edit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgFile); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", cfgFile)
		}
		if err := config.DefaultConfig().Save(cfgFile); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Printf("Wrote %s\n", cfgFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
