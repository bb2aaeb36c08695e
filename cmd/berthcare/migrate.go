package main

import (
	"github.com/spf13/cobra"

	"github.com/berthcare/berthcare/pkg/config"
	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database schema migrations",
}

func init() {
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := migrateDB()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return db.MigrateUp()
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := migrateDB()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return db.MigrateDown()
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show per-migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := migrateDB()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return db.MigrateStatus()
		},
	})
}

// migrateDB opens a pool sized for migration work only.
func migrateDB() (*storage.DB, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	return storage.Open(cfg.DatabaseURL, 1, 2)
}
