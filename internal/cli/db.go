package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/stagecoach/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the event log database",
}

func openDatabase() (*db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dsn := cfg.Orchestrator.Database.DSN
	if dsn == "" {
		return nil, fmt.Errorf("no database.dsn configured")
	}
	return db.Open(dsn)
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the event log schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDatabase()
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Migrate(); err != nil {
			return err
		}
		cmd.Println("schema is up to date")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all event log tables and re-apply the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		d, err := openDatabase()
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Reset(); err != nil {
			return err
		}
		cmd.Println("database reset")
		return nil
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm the reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
