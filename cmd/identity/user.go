// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/identity/internal/identity"
)

// NewRegisterCmd creates the register command.
func NewRegisterCmd(deps *Deps) *cobra.Command {
	var email, role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a user record",
		Long: `Create a user record. The password and its confirmation are read from
the terminal, or one per line from standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, deps)
			if err != nil {
				return err
			}
			defer s.close()

			in, err := newPrompter(cmd).Credentials("Password")
			if err != nil {
				return err
			}
			u, err := s.service.Register(ctx, email, identity.Role(role), in)
			if err != nil {
				return reportFieldErrors(cmd, err)
			}
			cmd.Printf("Registered %s <%s> as %s\n", u.ID, u.Email, u.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", string(identity.DefaultRole), "role (user, admin)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// NewAuthenticateCmd creates the authenticate command.
func NewAuthenticateCmd(deps *Deps) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "authenticate",
		Short: "Check a password against a user record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, deps)
			if err != nil {
				return err
			}
			defer s.close()

			password, err := newPrompter(cmd).Secret("Password")
			if err != nil {
				return err
			}
			u, err := authenticate(ctx, s.service, email, password)
			if err != nil {
				return err
			}
			cmd.Printf("Authenticated %s <%s>\n", u.ID, u.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// NewPasswdCmd creates the passwd command.
func NewPasswdCmd(deps *Deps) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change a user's password",
		Long:  `Change a user's password after confirming the current one.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, deps)
			if err != nil {
				return err
			}
			defer s.close()

			p := newPrompter(cmd)
			current, err := p.Secret("Current password")
			if err != nil {
				return err
			}
			u, err := authenticate(ctx, s.service, email, current)
			if err != nil {
				return err
			}
			in, err := p.Credentials("New password")
			if err != nil {
				return err
			}
			if err := s.service.ChangePassword(ctx, u, in); err != nil {
				return reportFieldErrors(cmd, err)
			}
			cmd.Printf("Password changed for <%s>\n", u.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// NewSetEmailCmd creates the set-email command.
func NewSetEmailCmd(deps *Deps) *cobra.Command {
	var email, newEmail string

	cmd := &cobra.Command{
		Use:   "set-email",
		Short: "Change a user's email address",
		Long: `Change a user's email address. The record becomes unverified and any
pending email verification token is dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			if err := s.service.ChangeEmail(ctx, u, newEmail); err != nil {
				return reportFieldErrors(cmd, err)
			}
			cmd.Printf("Email changed to <%s>\n", u.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "current email address")
	cmd.Flags().StringVar(&newEmail, "new", "", "new email address")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("new")

	return cmd
}

// findUser looks a record up by email, turning a miss into USER_NOT_FOUND.
func findUser(ctx context.Context, svc *identity.Service, email string) (*identity.User, error) {
	u, err := svc.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, oops.Code(identity.CodeNotFound).With("email", email).Wrap(identity.ErrNotFound)
	}
	return u, nil
}

// authenticate resolves email and checks password. Unknown emails and wrong
// passwords fail identically.
func authenticate(ctx context.Context, svc *identity.Service, email, password string) (*identity.User, error) {
	u, err := svc.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, oops.Code("AUTHENTICATION_FAILED").Errorf("invalid email or password")
	}
	ok, err := svc.Authenticate(ctx, u, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oops.Code("AUTHENTICATION_FAILED").Errorf("invalid email or password")
	}
	return u, nil
}
