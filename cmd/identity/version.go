// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/holomush/identity/internal/identity"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build and library versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			_, err := fmt.Fprintf(out, "identity %s\n  commit:  %s\n  built:   %s\n  library: %s\n  go:      %s\n",
				version, commit, date, identity.Version, runtime.Version())
			return err
		},
	}
}
