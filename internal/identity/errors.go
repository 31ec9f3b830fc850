// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"errors"
	"strings"

	"github.com/samber/oops"
)

// Error codes attached to oops errors returned by this package.
const (
	CodeFieldValidation  = "FIELD_VALIDATION"
	CodeUniqueConstraint = "UNIQUE_CONSTRAINT"
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeNotFound         = "USER_NOT_FOUND"
	CodeMissingPassword  = "MISSING_PASSWORD"
	CodeHashing          = "HASHING_FAILED"
	CodeEntropy          = "ENTROPY_FAILED"
	CodeInvalidHash      = "INVALID_HASH"
	CodeInvalidFilter    = "INVALID_FILTER"
	CodeTokenState       = "TOKEN_STATE_INVALID"
)

// Sentinel errors. Store and manager errors wrap these, so callers can match
// with errors.Is regardless of the oops context layered on top.
var (
	// ErrNotFound is returned by a Store when no record matches.
	ErrNotFound = errors.New("not found")

	// ErrUniqueConstraint is returned by a Store when a write would duplicate
	// a uniquely indexed field.
	ErrUniqueConstraint = errors.New("unique constraint violated")

	// ErrTokenExpired is returned when a token matched a record but its
	// validity window has elapsed.
	ErrTokenExpired = errors.New("token expired")

	// ErrMissingPassword is returned when verification is attempted without a
	// password. A wrong password is not an error.
	ErrMissingPassword = errors.New("must send password")

	// ErrHashing is returned when the password hash primitive fails.
	ErrHashing = errors.New("password hashing failed")

	// ErrEntropy is returned when the random source cannot be read.
	ErrEntropy = errors.New("entropy source unavailable")
)

// Field names used in FieldError.
const (
	FieldNameEmail           = "email"
	FieldNamePassword        = "password"
	FieldNamePasswordConfirm = "passwordConfirm"
	FieldNameRole            = "role"
)

// FieldError describes one validation failure on one field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Message
}

// FieldErrors is the aggregate of every violation found in one validation pass.
// A non-empty FieldErrors is used as an error value.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

// Fields returns the names of the fields that failed, in order.
func (fe FieldErrors) Fields() []string {
	fields := make([]string, len(fe))
	for i, e := range fe {
		fields[i] = e.Field
	}
	return fields
}

// Has reports whether any error was recorded for field.
func (fe FieldErrors) Has(field string) bool {
	for _, e := range fe {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Messages returns the messages recorded for field.
func (fe FieldErrors) Messages(field string) []string {
	var msgs []string
	for _, e := range fe {
		if e.Field == field {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

func (fe *FieldErrors) add(field, message string) {
	*fe = append(*fe, FieldError{Field: field, Message: message})
}

// ValidationError wraps field errors into a coded error. Returns nil when fe is empty.
func ValidationError(fe FieldErrors) error {
	if len(fe) == 0 {
		return nil
	}
	return oops.Code(CodeFieldValidation).
		With("fields", fe.Fields()).
		Wrap(fe)
}

// FieldErrorsOf extracts the field errors carried by err.
func FieldErrorsOf(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// UniqueConstraintError reports that a write collided on field.
func UniqueConstraintError(field string, cause error) error {
	b := oops.Code(CodeUniqueConstraint).With("field", field)
	if cause != nil {
		b = b.With("cause", cause.Error())
	}
	return b.Wrap(ErrUniqueConstraint)
}

// NotFoundError reports that no record matched filter.
func NotFoundError(f Filter) error {
	return oops.Code(CodeNotFound).
		With("filter", f.String()).
		Wrap(ErrNotFound)
}
