// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/identity/internal/identity"
	"github.com/holomush/identity/pkg/errutil"
)

func newHook(t *testing.T, rec identity.Recorder) *identity.Hook {
	t.Helper()
	emails, err := identity.NewEmailPolicy(nil, nil)
	require.NoError(t, err)
	var opts []identity.CredentialOption
	if rec != nil {
		opts = append(opts, identity.WithCredentialRecorder(rec))
	}
	return identity.NewHook(newCredentialManager(t, opts...), emails)
}

func TestHook_BeforeSave_NewRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("hashes and clears the plaintext", func(t *testing.T) {
		h := newHook(t, nil)
		u := &identity.User{Email: "a@b.com"}
		in := identity.NewCredentials("Secret1", "Secret1")

		require.NoError(t, h.BeforeSave(ctx, u, &in, nil))
		assert.NotEmpty(t, u.CredentialHash)
		assert.NotEqual(t, "Secret1", u.CredentialHash)
		assert.True(t, in.Empty(), "plaintext must not outlive the hook")
		assert.Equal(t, identity.RoleUser, u.Role, "role defaults to user")
	})

	t.Run("mismatched confirmation stops before hashing", func(t *testing.T) {
		rec := &fakeRecorder{}
		h := newHook(t, rec)
		u := &identity.User{Email: "a@b.com"}
		in := identity.NewCredentials("Secret1", "Different")

		err := h.BeforeSave(ctx, u, &in, nil)
		require.Error(t, err)
		errutil.AssertFieldErrors(t, err, identity.FieldNamePasswordConfirm)
		assert.Empty(t, u.CredentialHash)
		assert.Equal(t, 0, rec.hashes(), "validation runs before the expensive hash")
		assert.Equal(t, "Secret1", in.Password, "failed input is left for the caller")
	})

	t.Run("bad email stops before password checks", func(t *testing.T) {
		rec := &fakeRecorder{}
		h := newHook(t, rec)
		u := &identity.User{Email: "not-an-email"}
		in := identity.NewCredentials("abc", "xyz")

		err := h.BeforeSave(ctx, u, &in, nil)
		errutil.AssertFieldErrors(t, err, identity.FieldNameEmail)
		assert.Equal(t, 0, rec.hashes())
	})

	t.Run("all password violations are reported together", func(t *testing.T) {
		h := newHook(t, nil)
		u := &identity.User{Email: "a@b.com"}
		in := identity.NewCredentials("abc", "xyz")

		err := h.BeforeSave(ctx, u, &in, nil)
		errutil.AssertFieldErrors(t, err, identity.FieldNamePassword, identity.FieldNamePasswordConfirm)
	})

	t.Run("email and role violations are reported together", func(t *testing.T) {
		h := newHook(t, nil)
		u := &identity.User{Email: "", Role: "root"}
		in := identity.NewCredentials("Secret1", "Secret1")

		err := h.BeforeSave(ctx, u, &in, nil)
		fe, ok := identity.FieldErrorsOf(err)
		require.True(t, ok)
		assert.Equal(t, []string{identity.MsgRequired}, fe.Messages(identity.FieldNameEmail))
		assert.Equal(t, []string{identity.MsgRoleInvalid}, fe.Messages(identity.FieldNameRole))
	})

	t.Run("missing password on new record", func(t *testing.T) {
		h := newHook(t, nil)
		u := &identity.User{Email: "a@b.com"}

		err := h.BeforeSave(ctx, u, nil, nil)
		fe, ok := identity.FieldErrorsOf(err)
		require.True(t, ok)
		assert.Equal(t, []string{identity.MsgRequired}, fe.Messages(identity.FieldNamePassword))
	})
}

func TestHook_BeforeSave_ExistingRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("no password input keeps the credential", func(t *testing.T) {
		h := newHook(t, nil)
		u := &identity.User{Email: "a@b.com", CredentialHash: "$2a$04$existing", Role: identity.RoleAdmin}

		require.NoError(t, h.BeforeSave(ctx, u, &identity.Credentials{}, u.Clone()))
		assert.Equal(t, "$2a$04$existing", u.CredentialHash)
		assert.Equal(t, identity.RoleAdmin, u.Role)
	})

	t.Run("new password replaces the credential", func(t *testing.T) {
		h := newHook(t, nil)
		u := &identity.User{Email: "a@b.com", CredentialHash: "$2a$04$existing"}
		in := identity.NewCredentials("Newpass1", "Newpass1")

		require.NoError(t, h.BeforeSave(ctx, u, &in, u.Clone()))
		assert.NotEqual(t, "$2a$04$existing", u.CredentialHash)
	})

	t.Run("record without any credential is rejected", func(t *testing.T) {
		h := newHook(t, nil)
		u := &identity.User{Email: "a@b.com"}

		err := h.BeforeSave(ctx, u, nil, u.Clone())
		fe, ok := identity.FieldErrorsOf(err)
		require.True(t, ok)
		assert.True(t, fe.Has(identity.FieldNamePassword))
	})

	t.Run("half-set token is rejected", func(t *testing.T) {
		h := newHook(t, nil)
		u := &identity.User{Email: "a@b.com", CredentialHash: "$2a$04$existing", Token: "tok"}

		err := h.BeforeSave(ctx, u, nil, u.Clone())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, identity.CodeTokenState)
	})

	t.Run("fully set token is accepted", func(t *testing.T) {
		h := newHook(t, nil)
		at := time.Now()
		u := &identity.User{
			Email:          "a@b.com",
			CredentialHash: "$2a$04$existing",
			Token:          "tok",
			TokenPurpose:   identity.PurposePasswordReset,
			TokenIssuedAt:  &at,
		}
		assert.NoError(t, h.BeforeSave(ctx, u, nil, u.Clone()))
	})
}

func TestHook_BeforeSave_CredentialEncoding(t *testing.T) {
	ctx := context.Background()

	t.Run("plaintext in the hash field is rejected", func(t *testing.T) {
		h := newHook(t, nil)
		u := &identity.User{ID: identity.NewULID(), Email: "a@b.com", CredentialHash: "Secret1"}

		err := h.BeforeSave(ctx, u, nil, u.Clone())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, identity.CodeInvalidHash)
		errutil.AssertErrorContext(t, err, "id", u.ID.String())
	})

	t.Run("hash from an unconfigured scheme is rejected", func(t *testing.T) {
		h := newHook(t, nil)
		legacy, err := identity.NewArgon2idHasher(testArgon2Params, nil).Hash("Secret1")
		require.NoError(t, err)
		u := &identity.User{Email: "a@b.com", CredentialHash: legacy}

		err = h.BeforeSave(ctx, u, nil, u.Clone())
		errutil.AssertErrorCode(t, err, identity.CodeInvalidHash)
	})

	t.Run("legacy hasher hashes are accepted", func(t *testing.T) {
		argon := identity.NewArgon2idHasher(testArgon2Params, nil)
		emails, err := identity.NewEmailPolicy(nil, nil)
		require.NoError(t, err)
		h := identity.NewHook(newCredentialManager(t, identity.WithLegacyHasher(argon)), emails)

		legacy, err := argon.Hash("Secret1")
		require.NoError(t, err)
		u := &identity.User{Email: "a@b.com", CredentialHash: legacy}
		assert.NoError(t, h.BeforeSave(ctx, u, nil, u.Clone()))
	})
}

func TestHook_BeforeSave_DomainPolicy(t *testing.T) {
	ctx := context.Background()
	emails, err := identity.NewEmailPolicy(nil, []string{"spam.test"})
	require.NoError(t, err)
	h := identity.NewHook(newCredentialManager(t), emails)

	t.Run("new record on a denied domain", func(t *testing.T) {
		u := &identity.User{Email: "a@spam.test"}
		in := identity.NewCredentials("Secret1", "Secret1")

		err := h.BeforeSave(ctx, u, &in, nil)
		errutil.AssertFieldErrors(t, err, identity.FieldNameEmail)
	})

	t.Run("existing address keeps working after the deny list grows", func(t *testing.T) {
		u := &identity.User{Email: "a@spam.test", CredentialHash: "$2a$04$existing"}
		assert.NoError(t, h.BeforeSave(ctx, u, nil, u.Clone()))
	})

	t.Run("existing address is still syntax checked", func(t *testing.T) {
		u := &identity.User{Email: "not-an-email", CredentialHash: "$2a$04$existing"}
		err := h.BeforeSave(ctx, u, nil, u.Clone())
		errutil.AssertFieldErrors(t, err, identity.FieldNameEmail)
	})

	t.Run("moving to a denied domain", func(t *testing.T) {
		prev := &identity.User{Email: "a@ok.test", CredentialHash: "$2a$04$existing"}
		u := prev.Clone()
		u.Email = "a@spam.test"

		err := h.BeforeSave(ctx, u, nil, prev)
		require.Error(t, err)
		fe, ok := identity.FieldErrorsOf(err)
		require.True(t, ok)
		assert.Equal(t, []string{identity.MsgEmailDomainBlocked}, fe.Messages(identity.FieldNameEmail))
	})
}
