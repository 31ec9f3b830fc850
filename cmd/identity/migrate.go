// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/identity/internal/config"
)

// NewMigrateCmd creates the migrate command and its subcommands.
func NewMigrateCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long: `Apply, roll back or inspect the embedded schema migrations for the
users table. Running migrate without a subcommand applies all pending migrations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, runMigrateUp)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, runMigrateUp)
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping the users table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("migrate down drops all data; pass --yes to confirm")
			}
			return withMigrator(cmd, deps, func(cmd *cobra.Command, m Migrator) error {
				cmd.Println("Rolling back all migrations...")
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	}
	down.Flags().Bool("yes", false, "confirm dropping all data")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "steps [--] N",
		Short: "Apply N migrations, or roll back N when negative (use -- before negative N)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseVersionArg(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, deps, func(cmd *cobra.Command, m Migrator) error {
				if err := m.Steps(n); err != nil {
					return err
				}
				return printStatus(cmd, m)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations, clearing the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVersionArg(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, deps, func(cmd *cobra.Command, m Migrator) error {
				if err := m.Force(v); err != nil {
					return err
				}
				cmd.Printf("Forced schema version to %d\n", v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, printStatus)
		},
	})

	return cmd
}

func runMigrateUp(cmd *cobra.Command, m Migrator) error {
	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

// withMigrator resolves the database URL, opens a migrator, runs fn and
// closes the migrator.
func withMigrator(cmd *cobra.Command, deps *Deps, fn func(*cobra.Command, Migrator) error) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("key", "database.url").
			Errorf("%s is required for migrations", config.EnvDatabaseURL)
	}

	m, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(cmd, m)
}

func printStatus(cmd *cobra.Command, m Migrator) error {
	st, err := m.Status()
	if err != nil {
		return err
	}

	if st.Version == 0 {
		cmd.Println("Schema version: none")
	} else {
		cmd.Printf("Schema version: %d (%s)\n", st.Version, st.Name)
	}
	if st.Dirty {
		cmd.Println("Schema is DIRTY: fix the failed migration, then run 'migrate force VERSION'")
	}
	if len(st.Pending) == 0 {
		cmd.Println("Pending: none")
		return nil
	}
	pending := make([]string, len(st.Pending))
	for i, v := range st.Pending {
		pending[i] = strconv.FormatUint(uint64(v), 10)
	}
	cmd.Printf("Pending: %s\n", strings.Join(pending, ", "))
	return nil
}

// parseVersionArg parses an integer migration argument.
func parseVersionArg(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return n, nil
}
