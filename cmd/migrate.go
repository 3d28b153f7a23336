package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Zeeeepa/ragforge-sub003/pkg/engine"
	"github.com/Zeeeepa/ragforge-sub003/pkg/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and create vector indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := logging.NewLogger(cfg.Env, cfg.Logging.Level)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if err := engine.Migrate(cmd.Context(), cfg, logger); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"migrated":             true,
			"embedding_dimensions": cfg.Embedding.Dimensions,
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
