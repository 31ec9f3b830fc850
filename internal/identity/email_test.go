// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/identity/internal/identity"
	"github.com/holomush/identity/pkg/errutil"
)

func TestEmailPolicy_Syntax(t *testing.T) {
	p, err := identity.NewEmailPolicy(nil, nil)
	require.NoError(t, err)

	tests := []struct {
		email string
		want  []string
	}{
		{"a@b.com", nil},
		{"first.last+tag@sub.example.org", nil},
		{"", []string{identity.MsgRequired}},
		{"not-an-email", []string{identity.MsgEmailInvalid}},
		{"missing@", []string{identity.MsgEmailInvalid}},
		{"@missing.local", []string{identity.MsgEmailInvalid}},
		{"two@@signs.com", []string{identity.MsgEmailInvalid}},
		{strings.Repeat("a", 250) + "@b.com", []string{identity.MsgEmailInvalid}},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			got := p.Validate(tt.email)
			assert.Equal(t, tt.want, got.Messages(identity.FieldNameEmail))
			if tt.want == nil {
				assert.Empty(t, got)
			}
		})
	}
}

func TestEmailPolicy_Domains(t *testing.T) {
	p, err := identity.NewEmailPolicy(
		[]string{"example.com", "*.example.org", "**.corp.test"},
		[]string{"blocked.example.org"},
	)
	require.NoError(t, err)

	tests := []struct {
		email   string
		allowed bool
	}{
		{"a@example.com", true},
		{"a@EXAMPLE.COM", true},
		{"a@mail.example.org", true},
		{"a@deep.mail.example.org", false},
		{"a@example.org", false},
		{"a@blocked.example.org", false},
		{"a@x.y.corp.test", true},
		{"a@other.net", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			fe := p.Validate(tt.email)
			if tt.allowed {
				assert.Empty(t, fe)
				return
			}
			assert.Equal(t, []string{identity.MsgEmailDomainBlocked}, fe.Messages(identity.FieldNameEmail))
		})
	}
}

func TestEmailPolicy_DenyOnly(t *testing.T) {
	p, err := identity.NewEmailPolicy(nil, []string{"mailinator.com"})
	require.NoError(t, err)

	assert.Empty(t, p.Validate("a@b.com"))
	assert.True(t, p.Validate("a@mailinator.com").Has(identity.FieldNameEmail))
}

func TestNewEmailPolicy_BadPattern(t *testing.T) {
	_, err := identity.NewEmailPolicy([]string{"[unclosed"}, nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "INVALID_DOMAIN_PATTERN")
	errutil.AssertErrorContext(t, err, "list", "allow")
}
