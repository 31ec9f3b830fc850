// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
)

// CodeFieldValidation is the code carried by field validation errors.
const CodeFieldValidation = "FIELD_VALIDATION"

// TB is the subset of testing.TB the assertions use.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
}

// AssertErrorCode asserts that err is an oops error with the given code.
func AssertErrorCode(t TB, err error, code string) bool {
	t.Helper()
	oopsErr, ok := asOops(t, err)
	if !ok {
		return false
	}
	return assert.Equal(t, code, oopsErr.Code(), "error: %v", err)
}

// AssertErrorContext asserts that err is an oops error with the given context key/value.
func AssertErrorContext(t TB, err error, key string, value any) bool {
	t.Helper()
	oopsErr, ok := asOops(t, err)
	if !ok {
		return false
	}
	ctx := oopsErr.Context()
	if !assert.Contains(t, ctx, key) {
		return false
	}
	return assert.Equal(t, value, ctx[key])
}

// AssertFieldErrors asserts that err is a field validation error naming
// exactly fields, in order.
func AssertFieldErrors(t TB, err error, fields ...string) bool {
	t.Helper()
	if !AssertErrorCode(t, err, CodeFieldValidation) {
		return false
	}
	return AssertErrorContext(t, err, "fields", fields)
}

func asOops(t TB, err error) (oops.OopsError, bool) {
	t.Helper()
	if err == nil {
		t.Errorf("expected an error, got nil")
		return oops.OopsError{}, false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		t.Errorf("expected oops error, got %T: %v", err, err)
		return oops.OopsError{}, false
	}
	return oopsErr, true
}
