// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package storetest holds the behaviour every identity.Store must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/identity/internal/identity"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) identity.Store

// Run exercises the store contract against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("insert assigns id and round-trips", func(t *testing.T) { testInsertRoundTrip(t, newStore(t)) })
	t.Run("insert rejects duplicate email", func(t *testing.T) { testDuplicateEmail(t, newStore(t)) })
	t.Run("concurrent duplicate email has one winner", func(t *testing.T) { testConcurrentDuplicateEmail(t, newStore(t)) })
	t.Run("find one by token and purpose", func(t *testing.T) { testFindByToken(t, newStore(t)) })
	t.Run("find one missing returns not found", func(t *testing.T) { testFindMissing(t, newStore(t)) })
	t.Run("find one rejects unknown field", func(t *testing.T) { testUnknownField(t, newStore(t)) })
	t.Run("update replaces record", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("update unknown id returns not found", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("update onto taken email is rejected", func(t *testing.T) { testUpdateEmailCollision(t, newStore(t)) })
	t.Run("remove all honours filter", func(t *testing.T) { testRemoveAll(t, newStore(t)) })
	t.Run("clear expired tokens", func(t *testing.T) { testClearExpiredTokens(t, newStore(t)) })
}

// NewUser returns an unsaved record with a placeholder credential.
func NewUser(email string) *identity.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &identity.User{
		Email:          email,
		CredentialHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplacehold",
		Role:           identity.RoleUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func withToken(u *identity.User, p identity.Purpose, token string, at time.Time) *identity.User {
	at = at.UTC().Truncate(time.Microsecond)
	u.Token = token
	u.TokenPurpose = p
	u.TokenIssuedAt = &at
	return u
}

func testInsertRoundTrip(t *testing.T, s identity.Store) {
	ctx := context.Background()
	u := NewUser("round@example.com")
	u.Role = identity.RoleAdmin

	require.NoError(t, s.Insert(ctx, u))
	require.False(t, u.ID.IsZero(), "insert must assign an ID")

	got, err := s.FindOne(ctx, identity.ByID(u.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, u.CredentialHash, got.CredentialHash)
	assert.Equal(t, identity.RoleAdmin, got.Role)
	assert.False(t, got.EmailVerified)
	assert.Empty(t, got.Token)
	assert.Nil(t, got.TokenIssuedAt)

	byEmail, err := s.FindOne(ctx, identity.ByEmail("round@example.com"))
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
}

func testDuplicateEmail(t *testing.T, s identity.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewUser("dup@example.com")))

	err := s.Insert(ctx, NewUser("dup@example.com"))
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrUniqueConstraint)
}

func testConcurrentDuplicateEmail(t *testing.T, s identity.Store) {
	ctx := context.Background()
	const racers = 8

	var wins, conflicts atomic.Int32
	var g errgroup.Group
	for range racers {
		g.Go(func() error {
			err := s.Insert(ctx, NewUser("race@example.com"))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, identity.ErrUniqueConstraint):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(racers-1), conflicts.Load())
}

func testFindByToken(t *testing.T, s identity.Store) {
	ctx := context.Background()
	u := withToken(NewUser("token@example.com"), identity.PurposePasswordReset, "tok-123", time.Now())
	require.NoError(t, s.Insert(ctx, u))

	got, err := s.FindOne(ctx, identity.ByToken(identity.PurposePasswordReset, "tok-123"))
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, identity.PurposePasswordReset, got.TokenPurpose)
	require.NotNil(t, got.TokenIssuedAt)
	assert.WithinDuration(t, *u.TokenIssuedAt, *got.TokenIssuedAt, time.Millisecond)

	_, err = s.FindOne(ctx, identity.ByToken(identity.PurposeEmailVerification, "tok-123"))
	assert.ErrorIs(t, err, identity.ErrNotFound, "purpose is part of the match")
}

func testFindMissing(t *testing.T, s identity.Store) {
	ctx := context.Background()

	_, err := s.FindOne(ctx, identity.ByEmail("nobody@example.com"))
	assert.ErrorIs(t, err, identity.ErrNotFound)

	_, err = s.FindOne(ctx, identity.ByToken(identity.PurposeEmailVerification, "never-issued"))
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func testUnknownField(t *testing.T, s identity.Store) {
	_, err := s.FindOne(context.Background(), identity.Filter{"password": "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, identity.ErrNotFound)
}

func testUpdate(t *testing.T, s identity.Store) {
	ctx := context.Background()
	u := NewUser("before@example.com")
	require.NoError(t, s.Insert(ctx, u))

	u.Email = "after@example.com"
	u.EmailVerified = true
	withToken(u, identity.PurposeEmailVerification, "tok-upd", time.Now())
	require.NoError(t, s.Update(ctx, u))

	got, err := s.FindOne(ctx, identity.ByEmail("after@example.com"))
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.True(t, got.EmailVerified)
	assert.Equal(t, "tok-upd", got.Token)

	_, err = s.FindOne(ctx, identity.ByEmail("before@example.com"))
	assert.ErrorIs(t, err, identity.ErrNotFound, "old email must be released")

	got.ClearToken()
	require.NoError(t, s.Update(ctx, got))
	_, err = s.FindOne(ctx, identity.ByToken(identity.PurposeEmailVerification, "tok-upd"))
	assert.ErrorIs(t, err, identity.ErrNotFound, "cleared token must not match")
}

func testUpdateMissing(t *testing.T, s identity.Store) {
	u := NewUser("ghost@example.com")
	u.ID = identity.NewULID()

	err := s.Update(context.Background(), u)
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func testUpdateEmailCollision(t *testing.T, s identity.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewUser("taken@example.com")))
	u := NewUser("mine@example.com")
	require.NoError(t, s.Insert(ctx, u))

	u.Email = "taken@example.com"
	err := s.Update(ctx, u)
	assert.ErrorIs(t, err, identity.ErrUniqueConstraint)

	got, err := s.FindOne(ctx, identity.ByID(u.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, "mine@example.com", got.Email)
}

func testRemoveAll(t *testing.T, s identity.Store) {
	ctx := context.Background()
	for i := range 3 {
		require.NoError(t, s.Insert(ctx, NewUser(fmt.Sprintf("rm%d@example.com", i))))
	}

	n, err := s.RemoveAll(ctx, identity.ByEmail("rm0@example.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.RemoveAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.FindOne(ctx, identity.ByEmail("rm1@example.com"))
	assert.ErrorIs(t, err, identity.ErrNotFound)

	// Removed emails are free again.
	require.NoError(t, s.Insert(ctx, NewUser("rm0@example.com")))
}

func testClearExpiredTokens(t *testing.T, s identity.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.Add(-identity.DefaultTokenTTL)

	stale := withToken(NewUser("stale@example.com"), identity.PurposePasswordReset, "tok-stale", cutoff.Add(-time.Minute))
	fresh := withToken(NewUser("fresh@example.com"), identity.PurposePasswordReset, "tok-fresh", now)
	other := withToken(NewUser("other@example.com"), identity.PurposeEmailVerification, "tok-other", cutoff.Add(-time.Minute))
	for _, u := range []*identity.User{stale, fresh, other} {
		require.NoError(t, s.Insert(ctx, u))
	}

	n, err := s.ClearExpiredTokens(ctx, identity.PurposePasswordReset, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.FindOne(ctx, identity.ByID(stale.ID.String()))
	require.NoError(t, err)
	assert.Empty(t, got.Token)
	assert.Empty(t, got.TokenPurpose)
	assert.Nil(t, got.TokenIssuedAt)

	_, err = s.FindOne(ctx, identity.ByToken(identity.PurposePasswordReset, "tok-fresh"))
	assert.NoError(t, err)
	_, err = s.FindOne(ctx, identity.ByToken(identity.PurposeEmailVerification, "tok-other"))
	assert.NoError(t, err, "other purposes are untouched")
}
