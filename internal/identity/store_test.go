// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/identity/internal/identity"
	"github.com/holomush/identity/pkg/errutil"
)

func TestFilter(t *testing.T) {
	at := time.Now()
	u := &identity.User{
		ID:            identity.NewULID(),
		Email:         "a@b.com",
		Token:         "tok",
		TokenPurpose:  identity.PurposePasswordReset,
		TokenIssuedAt: &at,
	}

	tests := []struct {
		name   string
		filter identity.Filter
		match  bool
	}{
		{"empty matches everything", identity.Filter{}, true},
		{"by id", identity.ByID(u.ID.String()), true},
		{"by email", identity.ByEmail("a@b.com"), true},
		{"email is exact", identity.ByEmail("A@b.com"), false},
		{"by token", identity.ByToken(identity.PurposePasswordReset, "tok"), true},
		{"token with other purpose", identity.ByToken(identity.PurposeEmailVerification, "tok"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.filter.Validate())
			assert.Equal(t, tt.match, tt.filter.Match(u))
		})
	}
}

func TestFilter_Validate(t *testing.T) {
	err := identity.Filter{"password": "x"}.Validate()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, identity.CodeInvalidFilter)
	errutil.AssertErrorContext(t, err, "field", "password")
}

func TestFilter_Fields(t *testing.T) {
	f := identity.Filter{
		identity.FieldTokenPurpose: "password_reset",
		identity.FieldEmail:        "a@b.com",
		identity.FieldID:           "x",
	}
	assert.Equal(t, []identity.Field{identity.FieldEmail, identity.FieldID, identity.FieldTokenPurpose}, f.Fields())
	assert.Equal(t, "email=a@b.com,id=x,token_purpose=password_reset", f.String())
}

func TestUser_Clone(t *testing.T) {
	at := time.Now()
	u := &identity.User{Email: "a@b.com", Token: "tok", TokenPurpose: identity.PurposePasswordReset, TokenIssuedAt: &at}

	c := u.Clone()
	c.TokenIssuedAt = nil
	c.Email = "c@d.com"

	require.NotNil(t, u.TokenIssuedAt)
	assert.Equal(t, "a@b.com", u.Email)

	c = u.Clone()
	*c.TokenIssuedAt = at.Add(time.Hour)
	assert.Equal(t, at, *u.TokenIssuedAt, "issue time is deep-copied")
}

func TestParseULID(t *testing.T) {
	id := identity.NewULID()
	got, err := identity.ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = identity.ParseULID("nope")
	errutil.AssertErrorCode(t, err, identity.CodeInvalidID)
}

func TestNewULIDAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := identity.NewULIDAt(at)
	second := identity.NewULIDAt(at)
	assert.Equal(t, at, identity.IDTime(first))
	assert.Equal(t, -1, first.Compare(second), "same millisecond keeps generation order")

	later := identity.NewULIDAt(at.Add(time.Second))
	assert.Equal(t, -1, second.Compare(later))
}

func TestFilter_Validate_ID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"generated id", identity.NewULID().String(), true},
		{"empty", "", false},
		{"wrong length", "01ARZ3NDEKTSV4RRFFQ69G5FA", false},
		{"bad alphabet", "01ARZ3NDEKTSV4RRFFQ69G5FAU", false},
		{"email in id slot", "a@b.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := identity.ByID(tt.id).Validate()
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, identity.CodeInvalidFilter)
			errutil.AssertErrorContext(t, err, "field", "id")
		})
	}
}

func TestRoleAndPurpose(t *testing.T) {
	for _, r := range identity.Roles() {
		assert.True(t, r.Valid())
	}
	assert.False(t, identity.Role("root").Valid())

	for _, p := range identity.Purposes() {
		assert.True(t, p.Valid())
	}
	assert.False(t, identity.Purpose("login").Valid())
}
