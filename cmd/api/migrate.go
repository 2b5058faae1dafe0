package main

import (
	"github.com/geocoder89/userauth/internal/config"
	"github.com/geocoder89/userauth/internal/db"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *db.Migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("migrations applied")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all data)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *db.Migrator) error {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("migrations rolled back")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *db.Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				cmd.Printf("version %d (dirty=%t)\n", v, dirty)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(fn func(m *db.Migrator) error) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	m, err := db.NewMigrator(cfg.DBURL)
	if err != nil {
		return err
	}
	defer closeMigrator(m, &err)

	return fn(m)
}

func closeMigrator(m *db.Migrator, err *error) {
	if cerr := m.Close(); *err == nil {
		*err = cerr
	}
}
