// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/identity/internal/config"
	"github.com/holomush/identity/internal/xdg"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect, validate and initialise configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for config files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Check a config file against the schema and value constraints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(args[0], nil); err != nil {
				if msg := config.FormatSchemaError(err); msg != "" {
					cmd.PrintErrln(msg)
				}
				return err
			}
			cmd.Printf("%s is valid\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return oops.Code("CONFIG_MARSHAL_FAILED").Wrap(err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file populated with defaults",
		Long: `Write a config file populated with defaults to the --config path, or to
the XDG config directory when --config is not set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configFile
			if path == "" {
				path = xdg.ConfigFile()
			}
			return writeDefaultConfig(cmd, path, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

func writeDefaultConfig(cmd *cobra.Command, path string, force bool) error {
	if fileExists(path) && !force {
		return oops.Code("CONFIG_EXISTS").With("path", path).Errorf("config file already exists; pass --force to overwrite")
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return oops.Code("CONFIG_MARSHAL_FAILED").Wrap(err)
	}
	header := "# yaml-language-server: $schema=" + config.SchemaID + "\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	cmd.Printf("Wrote %s\n", path)
	return nil
}

// fileExists reports whether path exists. Stat errors other than not-exist
// count as existing so we never overwrite files we can't read.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}
