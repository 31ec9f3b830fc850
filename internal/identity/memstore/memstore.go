// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memstore provides an in-process identity.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/identity/internal/identity"
)

// Store is a mutex-guarded map of records with unique email and token indexes.
// Records are copied on the way in and out.
type Store struct {
	mu      sync.RWMutex
	records map[string]*identity.User // by ID
	emails  map[string]string         // email -> ID
	tokens  map[string]string         // token -> ID
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]*identity.User),
		emails:  make(map[string]string),
		tokens:  make(map[string]string),
	}
}

// Insert stores a new record.
func (s *Store) Insert(ctx context.Context, u *identity.User) error {
	if err := ctx.Err(); err != nil {
		return oops.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID.IsZero() {
		u.ID = identity.NewULID()
	}
	id := u.ID.String()
	if _, exists := s.records[id]; exists {
		return identity.UniqueConstraintError(string(identity.FieldID), nil)
	}
	if err := s.checkIndexes(id, u); err != nil {
		return err
	}

	s.put(u.Clone())
	return nil
}

// FindOne returns the first record, in ID order, matching f.
func (s *Store) FindOne(ctx context.Context, f identity.Filter) (*identity.User, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, oops.Wrap(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.indexed(f); ok {
		if u, found := s.records[id]; found && f.Match(u) {
			return u.Clone(), nil
		}
		return nil, identity.NotFoundError(f)
	}
	for _, id := range s.sortedIDs() {
		if u := s.records[id]; f.Match(u) {
			return u.Clone(), nil
		}
	}
	return nil, identity.NotFoundError(f)
}

// Update replaces an existing record.
func (s *Store) Update(ctx context.Context, u *identity.User) error {
	if err := ctx.Err(); err != nil {
		return oops.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := u.ID.String()
	old, ok := s.records[id]
	if !ok {
		return identity.NotFoundError(identity.ByID(id))
	}
	if err := s.checkIndexes(id, u); err != nil {
		return err
	}

	s.drop(old)
	s.put(u.Clone())
	return nil
}

// RemoveAll deletes every record matching f.
func (s *Store) RemoveAll(ctx context.Context, f identity.Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, oops.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, u := range s.records {
		if f.Match(u) {
			s.drop(u)
			n++
		}
	}
	return n, nil
}

// ClearExpiredTokens clears tokens of purpose p issued at or before issuedBefore.
func (s *Store) ClearExpiredTokens(ctx context.Context, p identity.Purpose, issuedBefore time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, oops.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, u := range s.records {
		if u.TokenPurpose != p || u.TokenIssuedAt == nil || u.TokenIssuedAt.After(issuedBefore) {
			continue
		}
		delete(s.tokens, u.Token)
		u.ClearToken()
		u.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) checkIndexes(id string, u *identity.User) error {
	if owner, taken := s.emails[u.Email]; taken && owner != id {
		return identity.UniqueConstraintError(string(identity.FieldEmail), nil)
	}
	if u.Token != "" {
		if owner, taken := s.tokens[u.Token]; taken && owner != id {
			return identity.UniqueConstraintError(string(identity.FieldToken), nil)
		}
	}
	return nil
}

// indexed resolves a filter on an indexed field to a record ID.
func (s *Store) indexed(f identity.Filter) (string, bool) {
	if id, ok := f[identity.FieldID]; ok {
		return id, true
	}
	if email, ok := f[identity.FieldEmail]; ok {
		return s.emails[email], true
	}
	if token, ok := f[identity.FieldToken]; ok {
		return s.tokens[token], true
	}
	return "", false
}

func (s *Store) put(u *identity.User) {
	id := u.ID.String()
	s.records[id] = u
	s.emails[u.Email] = id
	if u.Token != "" {
		s.tokens[u.Token] = id
	}
}

func (s *Store) drop(u *identity.User) {
	id := u.ID.String()
	delete(s.records, id)
	if s.emails[u.Email] == id {
		delete(s.emails, u.Email)
	}
	if u.Token != "" && s.tokens[u.Token] == id {
		delete(s.tokens, u.Token)
	}
}

func (s *Store) sortedIDs() []string {
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Compile-time interface check.
var _ identity.Store = (*Store)(nil)
