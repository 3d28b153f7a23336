package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Work with the configuration file",
}

var configInitFlags struct {
	output string
	force  bool
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Print the effective configuration as YAML",
	Long: `Renders defaults merged with the current config file and environment as
YAML. Secrets (PGPASSWORD, LLM_API_KEY, EMBEDDING_API_KEY) are never written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}

		if configInitFlags.output == "" {
			_, err := cmd.OutOrStdout().Write(out)
			return err
		}

		flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
		if configInitFlags.force {
			flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		}
		f, err := os.OpenFile(configInitFlags.output, flags, 0o644)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", configInitFlags.output, err)
		}
		defer f.Close()

		if _, err := f.Write(out); err != nil {
			return fmt.Errorf("failed to write %s: %w", configInitFlags.output, err)
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&configInitFlags.output, "output", "o", "", "write to this file instead of stdout")
	configInitCmd.Flags().BoolVar(&configInitFlags.force, "force", false, "overwrite an existing output file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
