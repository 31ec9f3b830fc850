// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Role is the authorization tier of a user.
type Role string

// Known roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// DefaultRole is assigned when a record has no role.
const DefaultRole = RoleUser

// Roles lists every valid role.
func Roles() []Role {
	return []Role{RoleUser, RoleAdmin}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// Purpose tags what a pending token may be used for.
type Purpose string

// Token purposes.
const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// Purposes lists every valid token purpose.
func Purposes() []Purpose {
	return []Purpose{PurposeEmailVerification, PurposePasswordReset}
}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposePasswordReset:
		return true
	default:
		return false
	}
}

// User is a persisted identity record.
//
// CredentialHash is only ever set by CredentialManager. Token, TokenPurpose and
// TokenIssuedAt describe at most one pending token and are set or cleared together.
type User struct {
	ID             ulid.ULID
	Email          string
	EmailVerified  bool
	CredentialHash string
	Role           Role
	Token          string
	TokenPurpose   Purpose
	TokenIssuedAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasPendingToken reports whether a token of purpose p is outstanding.
func (u *User) HasPendingToken(p Purpose) bool {
	return u.Token != "" && u.TokenPurpose == p && u.TokenIssuedAt != nil
}

// ClearToken removes any pending token.
func (u *User) ClearToken() {
	u.Token = ""
	u.TokenPurpose = ""
	u.TokenIssuedAt = nil
}

// tokenPaired reports whether the token fields are all set or all clear.
func (u *User) tokenPaired() bool {
	set := u.Token != ""
	return set == (u.TokenPurpose != "") && set == (u.TokenIssuedAt != nil)
}

func (u *User) setToken(value string, p Purpose, issuedAt time.Time) {
	u.Token = value
	u.TokenPurpose = p
	u.TokenIssuedAt = &issuedAt
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	if u.TokenIssuedAt != nil {
		t := *u.TokenIssuedAt
		c.TokenIssuedAt = &t
	}
	return &c
}

// Credentials carries the plaintext password input for one mutation.
// It is never persisted; the save path clears it once hashed.
type Credentials struct {
	Password        string
	PasswordConfirm string
}

// NewCredentials is shorthand for a password and its confirmation.
func NewCredentials(password, confirm string) Credentials {
	return Credentials{Password: password, PasswordConfirm: confirm}
}

// Empty reports whether neither field was supplied.
func (c *Credentials) Empty() bool {
	return c.Password == "" && c.PasswordConfirm == ""
}

// Clear drops the plaintext fields.
func (c *Credentials) Clear() {
	c.Password = ""
	c.PasswordConfirm = ""
}
