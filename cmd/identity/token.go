// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/identity/internal/identity"
)

// NewTokenCmd creates the token command and its subcommands.
func NewTokenCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue, check and purge single-purpose tokens",
	}
	cmd.AddCommand(newTokenIssueCmd(deps))
	cmd.AddCommand(newTokenCheckCmd(deps))
	cmd.AddCommand(newTokenPurgeCmd(deps))
	return cmd
}

func newTokenIssueCmd(deps *Deps) *cobra.Command {
	var email, purpose string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a token for a user, replacing any pending one",
		Long: `Issue a token for a user, replacing any pending one. The token is
written to standard output for delivery.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := parsePurpose(purpose)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, deps)
			if err != nil {
				return err
			}
			defer s.close()

			u, err := findUser(ctx, s.service, email)
			if err != nil {
				return err
			}
			token, err := s.service.IssueToken(ctx, u, p)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			cmd.PrintErrf("Expires %s\n", u.TokenIssuedAt.Add(s.cfg.Tokens.TTL).Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&purpose, "purpose", "", purposeUsage())
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("purpose")

	return cmd
}

func newTokenCheckCmd(deps *Deps) *cobra.Command {
	var purpose string

	cmd := &cobra.Command{
		Use:   "check TOKEN",
		Short: "Report which user holds a valid token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePurpose(purpose)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, deps)
			if err != nil {
				return err
			}
			defer s.close()

			u, err := s.service.FindByToken(ctx, p, args[0])
			if err != nil {
				return err
			}
			if u == nil {
				return oops.Code(identity.CodeTokenInvalid).With("purpose", string(p)).Errorf("token is not valid")
			}

			if u.TokenIssuedAt == nil {
				// single-use tokens are cleared by the lookup
				cmd.Printf("Token redeemed for %s <%s>\n", u.ID, u.Email)
				return nil
			}
			cmd.Printf("Token is valid for %s <%s> until %s\n",
				u.ID, u.Email, u.TokenIssuedAt.Add(s.cfg.Tokens.TTL).Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&purpose, "purpose", "", purposeUsage())
	_ = cmd.MarkFlagRequired("purpose")

	return cmd
}

func newTokenPurgeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Clear expired tokens from every record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, deps)
			if err != nil {
				return err
			}
			defer s.close()

			n, err := s.service.PurgeExpiredTokens(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Purged %d expired tokens\n", n)
			return nil
		},
	}
}

// NewResetPasswordCmd creates the reset-password command.
func NewResetPasswordCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password TOKEN",
		Short: "Set a new password using a password reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, deps)
			if err != nil {
				return err
			}
			defer s.close()

			in, err := newPrompter(cmd).Credentials("New password")
			if err != nil {
				return err
			}
			u, err := s.service.ResetPassword(ctx, args[0], in)
			if err != nil {
				return reportFieldErrors(cmd, err)
			}
			cmd.Printf("Password reset for <%s>\n", u.Email)
			return nil
		},
	}
}

// NewVerifyEmailCmd creates the verify-email command.
func NewVerifyEmailCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email TOKEN",
		Short: "Mark an email address verified using a verification token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, deps)
			if err != nil {
				return err
			}
			defer s.close()

			u, err := s.service.VerifyEmail(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Verified <%s>\n", u.Email)
			return nil
		},
	}
}

func parsePurpose(s string) (identity.Purpose, error) {
	p := identity.Purpose(s)
	if !p.Valid() {
		return "", oops.Code("INVALID_PURPOSE").With("purpose", s).Errorf("unknown token purpose %q", s)
	}
	return p, nil
}

func purposeUsage() string {
	names := make([]string, 0, len(identity.Purposes()))
	for _, p := range identity.Purposes() {
		names = append(names, string(p))
	}
	return "token purpose (" + strings.Join(names, ", ") + ")"
}
