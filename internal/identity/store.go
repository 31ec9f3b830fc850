// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Field names a queryable attribute of a User.
type Field string

// Queryable fields.
const (
	FieldID           Field = "id"
	FieldEmail        Field = "email"
	FieldToken        Field = "token"
	FieldTokenPurpose Field = "token_purpose"
)

func (f Field) valid() bool {
	switch f {
	case FieldID, FieldEmail, FieldToken, FieldTokenPurpose:
		return true
	default:
		return false
	}
}

// Filter is a conjunction of field-equality predicates.
// An empty filter matches every record.
type Filter map[Field]string

// ByID matches the record with the given ID.
func ByID(id string) Filter { return Filter{FieldID: id} }

// ByEmail matches the record with the given email.
func ByEmail(email string) Filter { return Filter{FieldEmail: email} }

// ByToken matches the record holding token for purpose p.
func ByToken(p Purpose, token string) Filter {
	return Filter{FieldToken: token, FieldTokenPurpose: string(p)}
}

// Validate rejects unknown fields and malformed IDs.
func (f Filter) Validate() error {
	for field, value := range f {
		if !field.valid() {
			return oops.Code(CodeInvalidFilter).
				With("field", string(field)).
				Errorf("unknown filter field %q", field)
		}
		if field == FieldID {
			if err := validID(value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fields returns the filter's fields in a stable order.
func (f Filter) Fields() []Field {
	fields := make([]Field, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// Match reports whether u satisfies every predicate.
func (f Filter) Match(u *User) bool {
	for field, want := range f {
		if u.value(field) != want {
			return false
		}
	}
	return true
}

// String renders the filter for logs and error context. Token values are elided.
func (f Filter) String() string {
	parts := make([]string, 0, len(f))
	for _, field := range f.Fields() {
		v := f[field]
		if field == FieldToken {
			v = "<redacted>"
		}
		parts = append(parts, string(field)+"="+v)
	}
	return strings.Join(parts, ",")
}

func (u *User) value(f Field) string {
	switch f {
	case FieldID:
		return u.ID.String()
	case FieldEmail:
		return u.Email
	case FieldToken:
		return u.Token
	case FieldTokenPurpose:
		return string(u.TokenPurpose)
	default:
		return ""
	}
}

// Finder looks up a single record.
type Finder interface {
	// FindOne returns the first record matching f, or ErrNotFound.
	FindOne(ctx context.Context, f Filter) (*User, error)
}

// Store persists User records. Implementations enforce uniqueness of Email
// and arbitrate concurrent writes; callers hold no locks.
type Store interface {
	Finder

	// Insert stores a new record, assigning an ID when u.ID is zero.
	// Returns ErrUniqueConstraint if the email is taken.
	Insert(ctx context.Context, u *User) error

	// Update replaces an existing record.
	// Returns ErrNotFound if no record has u.ID, ErrUniqueConstraint on collision.
	Update(ctx context.Context, u *User) error

	// RemoveAll deletes every record matching f and returns the count.
	RemoveAll(ctx context.Context, f Filter) (int64, error)

	// ClearExpiredTokens clears pending tokens of purpose p issued at or
	// before issuedBefore and returns the number of records touched.
	ClearExpiredTokens(ctx context.Context, p Purpose, issuedBefore time.Time) (int64, error)
}
