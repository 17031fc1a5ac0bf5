package cmd

import (
	"context"
	"fmt"

	"github.com/Azure/sap-automation-qa/internal/store/sqlite"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Long: `Apply pending database migrations to the scheduler database and exit.

serve migrates on startup as well; this command is for preparing a data
directory ahead of time.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		st, err := sqlite.New(context.Background(), cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		log.Info("running database migrations", "database", cfg.DatabasePath)
		if err := sqlite.Migrate(st.DB()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations completed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
