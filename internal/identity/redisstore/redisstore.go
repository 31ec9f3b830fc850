// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redisstore implements identity.Store on Redis.
//
// Each record is a JSON document under <prefix>user:<id>. Unique email and
// token indexes are plain string keys pointing at the record ID, and a sorted
// set of IDs gives scans a stable order. Writes run in WATCH/MULTI
// transactions over the record and index keys they touch.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/identity/internal/identity"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "identity:"

// maxTxRetries bounds optimistic retries when a watched key changes.
const maxTxRetries = 16

// record is the stored JSON form of identity.User.
type record struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	EmailVerified  bool       `json:"email_verified"`
	CredentialHash string     `json:"credential_hash"`
	Role           string     `json:"role"`
	Token          string     `json:"token,omitempty"`
	TokenPurpose   string     `json:"token_purpose,omitempty"`
	TokenIssuedAt  *time.Time `json:"token_issued_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toRecord(u *identity.User) record {
	return record{
		ID:             u.ID.String(),
		Email:          u.Email,
		EmailVerified:  u.EmailVerified,
		CredentialHash: u.CredentialHash,
		Role:           string(u.Role),
		Token:          u.Token,
		TokenPurpose:   string(u.TokenPurpose),
		TokenIssuedAt:  u.TokenIssuedAt,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func (r record) user() (*identity.User, error) {
	id, err := identity.ParseULID(r.ID)
	if err != nil {
		return nil, err
	}
	return &identity.User{
		ID:             id,
		Email:          r.Email,
		EmailVerified:  r.EmailVerified,
		CredentialHash: r.CredentialHash,
		Role:           identity.Role(r.Role),
		Token:          r.Token,
		TokenPurpose:   identity.Purpose(r.TokenPurpose),
		TokenIssuedAt:  r.TokenIssuedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// Store implements identity.Store on a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Defaults to DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store on client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL, opens a client and checks it answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("operation", "ping redis").Wrap(err)
	}
	return client, nil
}

func (s *Store) userKey(id string) string     { return s.prefix + "user:" + id }
func (s *Store) emailKey(email string) string { return s.prefix + "email:" + email }
func (s *Store) tokenKey(token string) string { return s.prefix + "token:" + token }
func (s *Store) idsKey() string               { return s.prefix + "users" }

// Insert stores a new record, assigning an ID if unset.
func (s *Store) Insert(ctx context.Context, u *identity.User) error {
	if u.ID.IsZero() {
		u.ID = identity.NewULID()
	}
	id := u.ID.String()
	data, err := json.Marshal(toRecord(u))
	if err != nil {
		return oops.Code("USER_INSERT_FAILED").With("id", id).Wrap(err)
	}

	keys := []string{s.userKey(id), s.emailKey(u.Email)}
	if u.Token != "" {
		keys = append(keys, s.tokenKey(u.Token))
	}

	err = s.transact(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, s.userKey(id)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return identity.UniqueConstraintError(string(identity.FieldID), nil)
		}
		if err := s.checkIndexes(ctx, tx, id, u); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.userKey(id), data, 0)
			pipe.Set(ctx, s.emailKey(u.Email), id, 0)
			if u.Token != "" {
				pipe.Set(ctx, s.tokenKey(u.Token), id, 0)
			}
			pipe.ZAdd(ctx, s.idsKey(), redis.Z{Member: id})
			return nil
		})
		return err
	}, keys...)
	if err != nil {
		return wrap(err, "USER_INSERT_FAILED", "insert user", id)
	}
	return nil
}

// FindOne returns the first record, in ID order, matching f.
func (s *Store) FindOne(ctx context.Context, f identity.Filter) (*identity.User, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	if id, ok, err := s.indexed(ctx, f); ok || err != nil {
		if err != nil {
			return nil, oops.Code("USER_FIND_FAILED").With("filter", f.String()).Wrap(err)
		}
		u, err := s.load(ctx, s.client, id)
		if err != nil {
			return nil, oops.Code("USER_FIND_FAILED").With("filter", f.String()).Wrap(err)
		}
		if u == nil || !f.Match(u) {
			return nil, identity.NotFoundError(f)
		}
		return u, nil
	}

	var found *identity.User
	err := s.scan(ctx, func(u *identity.User) bool {
		if f.Match(u) {
			found = u
			return false
		}
		return true
	})
	if err != nil {
		return nil, oops.Code("USER_FIND_FAILED").With("filter", f.String()).Wrap(err)
	}
	if found == nil {
		return nil, identity.NotFoundError(f)
	}
	return found, nil
}

// Update replaces an existing record and moves its index entries.
func (s *Store) Update(ctx context.Context, u *identity.User) error {
	id := u.ID.String()
	data, err := json.Marshal(toRecord(u))
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("id", id).Wrap(err)
	}

	keys := []string{s.userKey(id), s.emailKey(u.Email)}
	if u.Token != "" {
		keys = append(keys, s.tokenKey(u.Token))
	}

	err = s.transact(ctx, func(tx *redis.Tx) error {
		old, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if old == nil {
			return identity.NotFoundError(identity.ByID(id))
		}
		if err := s.checkIndexes(ctx, tx, id, u); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old.Email != u.Email {
				pipe.Del(ctx, s.emailKey(old.Email))
			}
			if old.Token != "" && old.Token != u.Token {
				pipe.Del(ctx, s.tokenKey(old.Token))
			}
			pipe.Set(ctx, s.userKey(id), data, 0)
			pipe.Set(ctx, s.emailKey(u.Email), id, 0)
			if u.Token != "" {
				pipe.Set(ctx, s.tokenKey(u.Token), id, 0)
			}
			return nil
		})
		return err
	}, keys...)
	if err != nil {
		return wrap(err, "USER_UPDATE_FAILED", "update user", id)
	}
	return nil
}

// RemoveAll deletes every record matching f.
func (s *Store) RemoveAll(ctx context.Context, f identity.Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	var matched []*identity.User
	err := s.scan(ctx, func(u *identity.User) bool {
		if f.Match(u) {
			matched = append(matched, u)
		}
		return true
	})
	if err != nil {
		return 0, oops.Code("USER_DELETE_FAILED").With("filter", f.String()).Wrap(err)
	}

	var n int64
	for _, u := range matched {
		removed, err := s.remove(ctx, u.ID.String())
		if err != nil {
			return n, oops.Code("USER_DELETE_FAILED").With("filter", f.String()).Wrap(err)
		}
		if removed {
			n++
		}
	}
	return n, nil
}

// ClearExpiredTokens clears tokens of purpose p issued at or before issuedBefore.
func (s *Store) ClearExpiredTokens(ctx context.Context, p identity.Purpose, issuedBefore time.Time) (int64, error) {
	var stale []string
	err := s.scan(ctx, func(u *identity.User) bool {
		if u.TokenPurpose == p && u.TokenIssuedAt != nil && !u.TokenIssuedAt.After(issuedBefore) {
			stale = append(stale, u.ID.String())
		}
		return true
	})
	if err != nil {
		return 0, oops.Code("TOKEN_PURGE_FAILED").With("purpose", string(p)).Wrap(err)
	}

	var n int64
	for _, id := range stale {
		cleared, err := s.clearToken(ctx, id, p, issuedBefore)
		if err != nil {
			return n, oops.Code("TOKEN_PURGE_FAILED").With("purpose", string(p)).Wrap(err)
		}
		if cleared {
			n++
		}
	}
	return n, nil
}

// clearToken re-reads id under WATCH so a token reissued since the scan survives.
func (s *Store) clearToken(ctx context.Context, id string, p identity.Purpose, issuedBefore time.Time) (bool, error) {
	cleared := false
	err := s.transact(ctx, func(tx *redis.Tx) error {
		cleared = false
		u, err := s.load(ctx, tx, id)
		if err != nil || u == nil {
			return err
		}
		if u.TokenPurpose != p || u.TokenIssuedAt == nil || u.TokenIssuedAt.After(issuedBefore) {
			return nil
		}
		token := u.Token
		u.ClearToken()
		u.UpdatedAt = s.now().UTC()
		data, err := json.Marshal(toRecord(u))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.tokenKey(token))
			pipe.Set(ctx, s.userKey(id), data, 0)
			return nil
		})
		if err == nil {
			cleared = true
		}
		return err
	}, s.userKey(id))
	return cleared, err
}

func (s *Store) remove(ctx context.Context, id string) (bool, error) {
	removed := false
	err := s.transact(ctx, func(tx *redis.Tx) error {
		removed = false
		u, err := s.load(ctx, tx, id)
		if err != nil || u == nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.userKey(id))
			pipe.Del(ctx, s.emailKey(u.Email))
			if u.Token != "" {
				pipe.Del(ctx, s.tokenKey(u.Token))
			}
			pipe.ZRem(ctx, s.idsKey(), id)
			return nil
		})
		if err == nil {
			removed = true
		}
		return err
	}, s.userKey(id))
	return removed, err
}

// transact runs fn under WATCH on keys, retrying while another client wins the race.
func (s *Store) transact(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return oops.Code("TX_CONTENTION").With("keys", keys).Errorf("transaction retries exhausted")
}

// checkIndexes rejects u if its email or token belongs to another record.
func (s *Store) checkIndexes(ctx context.Context, c redis.Cmdable, id string, u *identity.User) error {
	owner, err := c.Get(ctx, s.emailKey(u.Email)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if err == nil && owner != id {
		return identity.UniqueConstraintError(string(identity.FieldEmail), nil)
	}
	if u.Token == "" {
		return nil
	}
	owner, err = c.Get(ctx, s.tokenKey(u.Token)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if err == nil && owner != id {
		return identity.UniqueConstraintError(string(identity.FieldToken), nil)
	}
	return nil
}

// indexed resolves a filter on an indexed field to a record ID.
func (s *Store) indexed(ctx context.Context, f identity.Filter) (string, bool, error) {
	if id, ok := f[identity.FieldID]; ok {
		return id, true, nil
	}
	var key string
	if email, ok := f[identity.FieldEmail]; ok {
		key = s.emailKey(email)
	} else if token, ok := f[identity.FieldToken]; ok {
		key = s.tokenKey(token)
	} else {
		return "", false, nil
	}
	id, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", true, nil
	}
	return id, true, err
}

// load returns the record stored under id, or nil when there is none.
func (s *Store) load(ctx context.Context, c redis.Cmdable, id string) (*identity.User, error) {
	if id == "" {
		return nil, nil
	}
	data, err := c.Get(ctx, s.userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, oops.Code("RECORD_CORRUPT").With("id", id).Wrap(err)
	}
	return r.user()
}

// scan visits records in ID order until visit returns false.
func (s *Store) scan(ctx context.Context, visit func(*identity.User) bool) error {
	ids, err := s.client.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		u, err := s.load(ctx, s.client, id)
		if err != nil {
			return err
		}
		if u != nil && !visit(u) {
			return nil
		}
	}
	return nil
}

// wrap passes through store contract errors and codes everything else.
func wrap(err error, code, operation, id string) error {
	if errors.Is(err, identity.ErrUniqueConstraint) || errors.Is(err, identity.ErrNotFound) {
		return err
	}
	return oops.Code(code).With("operation", operation).With("id", id).Wrap(err)
}

// Compile-time interface check.
var _ identity.Store = (*Store)(nil)
