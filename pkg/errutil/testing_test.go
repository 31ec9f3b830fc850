// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/identity/pkg/errutil"
)

// recordingT captures assertion failures instead of failing the test.
type recordingT struct {
	failures []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...any) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestAssertErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pass bool
	}{
		{"matching code", oops.Code("MY_CODE").Errorf("boom"), true},
		{"innermost code wins", oops.Code("OUTER").Wrap(oops.Code("MY_CODE").Errorf("boom")), true},
		{"other code", oops.Code("OTHER").Errorf("boom"), false},
		{"plain error", errors.New("boom"), false},
		{"nil error", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			assert.Equal(t, tt.pass, errutil.AssertErrorCode(rec, tt.err, "MY_CODE"))
			assert.Equal(t, tt.pass, len(rec.failures) == 0, rec.failures)
		})
	}
}

func TestAssertErrorContext(t *testing.T) {
	err := oops.With("user_id", "123").Errorf("boom")

	rec := &recordingT{}
	assert.True(t, errutil.AssertErrorContext(rec, err, "user_id", "123"))
	assert.Empty(t, rec.failures)

	assert.False(t, errutil.AssertErrorContext(rec, err, "user_id", "456"))
	assert.False(t, errutil.AssertErrorContext(rec, err, "email", "123"))
	assert.Len(t, rec.failures, 2)
}

func TestAssertFieldErrors(t *testing.T) {
	err := oops.Code(errutil.CodeFieldValidation).
		With("fields", []string{"email", "password"}).
		Errorf("email: invalid; password: required")

	rec := &recordingT{}
	assert.True(t, errutil.AssertFieldErrors(rec, err, "email", "password"))
	assert.Empty(t, rec.failures)

	assert.False(t, errutil.AssertFieldErrors(rec, err, "password", "email"), "order matters")
	assert.False(t, errutil.AssertFieldErrors(rec, err, "email"))
	assert.False(t, errutil.AssertFieldErrors(rec, oops.Code("OTHER").Errorf("boom"), "email"))
	assert.Len(t, rec.failures, 3)
}
