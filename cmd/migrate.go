package cmd

import (
	"dripflow/config"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := bootstrap(); err != nil {
			return err
		}
		return config.MigrateDB(config.DB)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
