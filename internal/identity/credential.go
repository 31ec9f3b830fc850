// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Password policy.
const (
	MinPasswordLength = 6
	MaxPasswordLength = 32
)

// Validation messages. The length message is the same for both bounds.
const (
	MsgPasswordLength   = "must be at least 6 characters"
	MsgPasswordBytes    = "must be at most 72 bytes"
	MsgPasswordMismatch = "must match password."
	MsgRequired         = "required"
)

// CredentialManager enforces password policy and owns the transform from
// plaintext to stored credential.
type CredentialManager struct {
	hasher   PasswordHasher
	legacy   []PasswordHasher
	recorder Recorder
}

// CredentialOption configures a CredentialManager.
type CredentialOption func(*CredentialManager)

// WithLegacyHasher lets Verify accept hashes from another scheme. Such hashes
// report NeedsRehash so they are replaced on the next successful login.
func WithLegacyHasher(h PasswordHasher) CredentialOption {
	return func(m *CredentialManager) {
		m.legacy = append(m.legacy, h)
	}
}

// WithCredentialRecorder sets the telemetry sink.
func WithCredentialRecorder(r Recorder) CredentialOption {
	return func(m *CredentialManager) {
		m.recorder = r
	}
}

// NewCredentialManager creates a CredentialManager that hashes with hasher.
func NewCredentialManager(hasher PasswordHasher, opts ...CredentialOption) *CredentialManager {
	m := &CredentialManager{
		hasher:   hasher,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Validate checks the password policy. Violations are returned, not raised;
// an empty result means the input is acceptable.
//
// A record that is not new may be saved with no password input at all.
func (m *CredentialManager) Validate(in Credentials, isNew bool) FieldErrors {
	var fe FieldErrors

	if !in.Empty() {
		n := utf8.RuneCountInString(in.Password)
		switch {
		case n < MinPasswordLength || n > MaxPasswordLength:
			fe.add(FieldNamePassword, MsgPasswordLength)
		case len(in.Password) > MaxPasswordBytes:
			fe.add(FieldNamePassword, MsgPasswordBytes)
		}
		if in.Password != in.PasswordConfirm {
			fe.add(FieldNamePasswordConfirm, MsgPasswordMismatch)
		}
	}

	if isNew && in.Password == "" {
		fe.add(FieldNamePassword, MsgRequired)
	}

	return fe
}

// Hash returns a salted, self-describing hash of password. It fails only
// when the underlying primitive or its entropy source fails.
func (m *CredentialManager) Hash(ctx context.Context, password string) (string, error) {
	ctx, span := startSpan(ctx, "CredentialManager.Hash")
	var err error
	defer func() { endSpan(span, err) }()

	if err = ctx.Err(); err != nil {
		return "", oops.Code(CodeHashing).Wrap(err)
	}

	start := time.Now()
	hash, err := m.hasher.Hash(password)
	m.recorder.ObserveHashDuration(time.Since(start))
	if err != nil {
		return "", err
	}
	return hash, nil
}

// Verify reports whether password produced hash. An empty password is a
// caller error and yields ErrMissingPassword; a wrong password is (false, nil).
func (m *CredentialManager) Verify(ctx context.Context, password, hash string) (bool, error) {
	ctx, span := startSpan(ctx, "CredentialManager.Verify")
	var err error
	defer func() { endSpan(span, err) }()

	if password == "" {
		err = oops.Code(CodeMissingPassword).Wrap(ErrMissingPassword)
		return false, err
	}
	if err = ctx.Err(); err != nil {
		return false, oops.Wrap(err)
	}

	h := m.hasherFor(hash)
	if h == nil {
		err = oops.Code(CodeInvalidHash).Errorf("unrecognized hash format")
		return false, err
	}

	ok, err := h.Verify(password, hash)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// NeedsRehash reports whether hash should be replaced with one from the
// primary hasher.
func (m *CredentialManager) NeedsRehash(hash string) bool {
	return m.hasher.NeedsUpgrade(hash)
}

// Recognizes reports whether hash is in the encoding of the primary or a
// legacy hasher. Anything else was not produced by this manager.
func (m *CredentialManager) Recognizes(hash string) bool {
	return m.hasherFor(hash) != nil
}

func (m *CredentialManager) hasherFor(hash string) PasswordHasher {
	if m.hasher.Recognizes(hash) {
		return m.hasher
	}
	for _, h := range m.legacy {
		if h.Recognizes(hash) {
			return h
		}
	}
	return nil
}
