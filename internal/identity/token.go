// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Token configuration.
const (
	TokenBytes      = 32            // 256 bits, 43 URL-safe characters
	DefaultTokenTTL = 2 * time.Hour // validity window from issuance
)

// TokenManager issues and validates tokens for one purpose.
type TokenManager struct {
	purpose Purpose
	finder  Finder
	ttl     time.Duration
	now     func() time.Time
	rand    io.Reader
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenTTL sets the validity window.
func WithTokenTTL(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		m.ttl = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// WithEntropy replaces crypto/rand as the token source.
func WithEntropy(r io.Reader) TokenOption {
	return func(m *TokenManager) {
		m.rand = r
	}
}

// NewTokenManager creates a TokenManager for purpose that looks tokens up through finder.
func NewTokenManager(purpose Purpose, finder Finder, opts ...TokenOption) (*TokenManager, error) {
	if !purpose.Valid() {
		return nil, oops.Code("INVALID_PURPOSE").
			With("purpose", string(purpose)).
			Errorf("unknown token purpose %q", purpose)
	}
	if finder == nil {
		return nil, oops.Code("INVALID_ARGUMENT").Errorf("finder is required")
	}

	m := &TokenManager{
		purpose: purpose,
		finder:  finder,
		ttl:     DefaultTokenTTL,
		now:     time.Now,
		rand:    rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ttl <= 0 {
		return nil, oops.Code("INVALID_TTL").
			With("ttl", m.ttl.String()).
			Errorf("token ttl must be positive")
	}
	return m, nil
}

// Purpose returns the purpose this manager serves.
func (m *TokenManager) Purpose() Purpose {
	return m.purpose
}

// TTL returns the validity window.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue draws a fresh token and sets it on u, replacing any pending token.
// The caller persists u.
func (m *TokenManager) Issue(u *User) (string, time.Time, error) {
	raw := make([]byte, TokenBytes)
	if _, err := io.ReadFull(m.rand, raw); err != nil {
		return "", time.Time{}, oops.Code(CodeEntropy).
			With("purpose", string(m.purpose)).
			Wrap(fmt.Errorf("%w: %w", ErrEntropy, err))
	}

	token := base64.RawURLEncoding.EncodeToString(raw)
	issuedAt := m.now().UTC()
	u.setToken(token, m.purpose, issuedAt)
	return token, issuedAt, nil
}

// FindValid returns the record holding token. It returns (nil, nil) when no
// record matches and ErrTokenExpired, without the record, once the window
// has elapsed.
func (m *TokenManager) FindValid(ctx context.Context, token string) (*User, error) {
	ctx, span := startSpan(ctx, "TokenManager.FindValid",
		trace.WithAttributes(attribute.String("purpose", string(m.purpose))))
	var err error
	defer func() { endSpan(span, err) }()

	if token == "" {
		return nil, nil
	}

	u, err := m.finder.FindOne(ctx, ByToken(m.purpose, token))
	if errors.Is(err, ErrNotFound) {
		err = nil
		return nil, nil
	}
	if err != nil {
		return nil, oops.With("operation", "find by token").
			With("purpose", string(m.purpose)).
			Wrap(err)
	}

	if m.Expired(u) {
		err = oops.Code(CodeTokenExpired).
			With("purpose", string(m.purpose)).
			With("issued_at", u.TokenIssuedAt).
			Wrap(ErrTokenExpired)
		return nil, err
	}
	return u, nil
}

// Expired reports whether u's pending token of this purpose is outside the
// window. A record without such a token counts as expired.
func (m *TokenManager) Expired(u *User) bool {
	if !u.HasPendingToken(m.purpose) {
		return true
	}
	return m.now().Sub(*u.TokenIssuedAt) >= m.ttl
}

// ExpiryCutoff returns the latest issuance instant that is expired now.
func (m *TokenManager) ExpiryCutoff() time.Time {
	return m.now().Add(-m.ttl)
}
