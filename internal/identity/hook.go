// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"

	"github.com/samber/oops"
)

// MsgRoleInvalid is reported for a role outside the enum.
const MsgRoleInvalid = "must be one of user, admin"

// Hook runs before every write of a User and decides whether it may commit.
type Hook struct {
	credentials *CredentialManager
	emails      *EmailPolicy
}

// NewHook creates a Hook.
func NewHook(credentials *CredentialManager, emails *EmailPolicy) *Hook {
	return &Hook{credentials: credentials, emails: emails}
}

// BeforeSave prepares u for a write, stopping at the first failing step:
//
//  1. record fields (email, role)
//  2. password policy for in
//  3. hashing of in.Password into u.CredentialHash, after which in is cleared
//  4. credential and token consistency
//
// prev is the record as currently stored, or nil when u is new. Address
// syntax is always checked; the domain policy applies only to new records
// and changed addresses.
//
// Field errors are aggregated within a step. When in is empty and the record
// is not new, steps 2 and 3 leave the record untouched.
func (h *Hook) BeforeSave(ctx context.Context, u *User, in *Credentials, prev *User) error {
	ctx, span := startSpan(ctx, "Hook.BeforeSave")
	var err error
	defer func() { endSpan(span, err) }()

	if in == nil {
		in = &Credentials{}
	}
	isNew := prev == nil

	var fe FieldErrors
	if isNew || prev.Email != u.Email {
		fe = append(fe, h.emails.Validate(u.Email)...)
	} else {
		fe = append(fe, h.emails.ValidateSyntax(u.Email)...)
	}
	if u.Role == "" {
		u.Role = DefaultRole
	} else if !u.Role.Valid() {
		fe.add(FieldNameRole, MsgRoleInvalid)
	}
	if err = ValidationError(fe); err != nil {
		return err
	}

	if err = ValidationError(h.credentials.Validate(*in, isNew)); err != nil {
		return err
	}

	if in.Password != "" {
		hash, hashErr := h.credentials.Hash(ctx, in.Password)
		if hashErr != nil {
			err = hashErr
			return err
		}
		u.CredentialHash = hash
		in.Clear()
	}

	if u.CredentialHash == "" {
		err = ValidationError(FieldErrors{{Field: FieldNamePassword, Message: MsgRequired}})
		return err
	}
	if !h.credentials.Recognizes(u.CredentialHash) {
		err = oops.Code(CodeInvalidHash).
			With("id", u.ID.String()).
			Errorf("credential hash is not in a configured hash encoding")
		return err
	}
	if !u.tokenPaired() {
		err = oops.Code(CodeTokenState).
			With("id", u.ID.String()).
			Errorf("token, purpose and issue time must be set together")
		return err
	}
	return nil
}
