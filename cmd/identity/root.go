// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/identity/internal/config"
	"github.com/holomush/identity/internal/logging"
)

// serviceName labels every log line the CLI emits.
const serviceName = "identity"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the identity CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&Deps{})
}

func newRootCmd(deps *Deps) *cobra.Command {
	deps.setDefaults()

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Identity - user credentials and single-purpose tokens",
		Long: `Identity manages user records: password validation and hashing,
email policy, and time-limited password reset and email verification tokens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewMigrateCmd(deps))
	cmd.AddCommand(NewRegisterCmd(deps))
	cmd.AddCommand(NewAuthenticateCmd(deps))
	cmd.AddCommand(NewPasswdCmd(deps))
	cmd.AddCommand(NewSetEmailCmd(deps))
	cmd.AddCommand(NewTokenCmd(deps))
	cmd.AddCommand(NewResetPasswordCmd(deps))
	cmd.AddCommand(NewVerifyEmailCmd(deps))
	cmd.AddCommand(NewServeCmd(deps))
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// loadConfig resolves the effective configuration for cmd and installs the
// configured logger as the slog default.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if _, err := logging.SetDefault(cfg.LoggingOptions(serviceName, version)); err != nil {
		return nil, err
	}
	return cfg, nil
}
