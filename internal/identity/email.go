// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"strings"

	"github.com/go-playground/validator"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// MaxEmailLength is the longest address accepted (RFC 5321 path limit).
const MaxEmailLength = 254

// Email validation messages.
const (
	MsgEmailInvalid       = "invalid"
	MsgEmailDomainBlocked = "domain is not allowed"
)

// EmailPolicy validates address syntax and, optionally, restricts the
// domain with allow and deny glob lists.
//
// Patterns are matched case-insensitively against the domain part with '.'
// as separator, so "*.example.com" matches "mail.example.com" only and
// "**.example.com" matches any depth.
type EmailPolicy struct {
	validate *validator.Validate
	allow    []glob.Glob
	deny     []glob.Glob
}

// NewEmailPolicy compiles the allow and deny patterns. Empty lists impose no
// restriction.
func NewEmailPolicy(allow, deny []string) (*EmailPolicy, error) {
	p := &EmailPolicy{validate: validator.New()}

	var err error
	if p.allow, err = compileDomainGlobs(allow); err != nil {
		return nil, oops.With("list", "allow").Wrap(err)
	}
	if p.deny, err = compileDomainGlobs(deny); err != nil {
		return nil, oops.With("list", "deny").Wrap(err)
	}
	return p, nil
}

func compileDomainGlobs(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, oops.Code("INVALID_DOMAIN_PATTERN").
				With("pattern", pattern).
				Wrap(err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

// Validate returns the violations for email, domain policy included. An
// empty email is reported as required.
func (p *EmailPolicy) Validate(email string) FieldErrors {
	fe := p.ValidateSyntax(email)
	if len(fe) == 0 && !p.domainAllowed(email) {
		fe.add(FieldNameEmail, MsgEmailDomainBlocked)
	}
	return fe
}

// ValidateSyntax is Validate without the domain allow and deny lists.
func (p *EmailPolicy) ValidateSyntax(email string) FieldErrors {
	var fe FieldErrors

	if email == "" {
		fe.add(FieldNameEmail, MsgRequired)
		return fe
	}
	if len(email) > MaxEmailLength || p.validate.Var(email, "email") != nil {
		fe.add(FieldNameEmail, MsgEmailInvalid)
	}
	return fe
}

func (p *EmailPolicy) domainAllowed(email string) bool {
	at := strings.LastIndexByte(email, '@')
	domain := strings.ToLower(email[at+1:])

	for _, g := range p.deny {
		if g.Match(domain) {
			return false
		}
	}
	if len(p.allow) == 0 {
		return true
	}
	for _, g := range p.allow {
		if g.Match(domain) {
			return true
		}
	}
	return false
}
