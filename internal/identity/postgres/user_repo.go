// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements identity.Store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/identity/internal/identity"
)

// poolIface is the subset of pgxpool.Pool used here, so tests can use pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, email, email_verified, credential_hash, role,
		       token, token_purpose, token_issued_at, created_at, updated_at`

// columns maps filter fields to SQL columns.
var columns = map[identity.Field]string{
	identity.FieldID:           "id",
	identity.FieldEmail:        "email",
	identity.FieldToken:        "token",
	identity.FieldTokenPurpose: "token_purpose",
}

// constraintFields maps unique constraints to the field they guard.
var constraintFields = map[string]identity.Field{
	"users_pkey":      identity.FieldID,
	"users_email_key": identity.FieldEmail,
	"users_token_key": identity.FieldToken,
}

// UserRepository implements identity.Store using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Insert stores a new user, assigning an ID if unset.
func (r *UserRepository) Insert(ctx context.Context, u *identity.User) error {
	if u.ID.IsZero() {
		u.ID = identity.NewULID()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, email_verified, credential_hash, role,
			token, token_purpose, token_issued_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		u.ID.String(),
		u.Email,
		u.EmailVerified,
		u.CredentialHash,
		string(u.Role),
		nullString(u.Token),
		nullString(string(u.TokenPurpose)),
		u.TokenIssuedAt,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if uniqueErr := mapUniqueViolation(err); uniqueErr != nil {
			return uniqueErr
		}
		return oops.Code("USER_INSERT_FAILED").
			With("operation", "insert user").
			With("id", u.ID.String()).
			Wrap(err)
	}
	return nil
}

// FindOne returns the first user, in ID order, matching f.
func (r *UserRepository) FindOne(ctx context.Context, f identity.Filter) (*identity.User, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	where, args := whereClause(f)
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users`+where+`
		ORDER BY id
		LIMIT 1
	`, args...)

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.NotFoundError(f)
	}
	if err != nil {
		return nil, oops.Code("USER_FIND_FAILED").
			With("operation", "find user").
			With("filter", f.String()).
			Wrap(err)
	}
	return u, nil
}

// Update replaces an existing user. CreatedAt is never rewritten.
func (r *UserRepository) Update(ctx context.Context, u *identity.User) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			email = $2,
			email_verified = $3,
			credential_hash = $4,
			role = $5,
			token = $6,
			token_purpose = $7,
			token_issued_at = $8,
			updated_at = $9
		WHERE id = $1
	`,
		u.ID.String(),
		u.Email,
		u.EmailVerified,
		u.CredentialHash,
		string(u.Role),
		nullString(u.Token),
		nullString(string(u.TokenPurpose)),
		u.TokenIssuedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if uniqueErr := mapUniqueViolation(err); uniqueErr != nil {
			return uniqueErr
		}
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", u.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return identity.NotFoundError(identity.ByID(u.ID.String()))
	}
	return nil
}

// RemoveAll deletes every user matching f.
func (r *UserRepository) RemoveAll(ctx context.Context, f identity.Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	where, args := whereClause(f)
	result, err := r.pool.Exec(ctx, `DELETE FROM users`+where, args...)
	if err != nil {
		return 0, oops.Code("USER_DELETE_FAILED").
			With("operation", "delete users").
			With("filter", f.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// ClearExpiredTokens clears tokens of purpose p issued at or before issuedBefore.
func (r *UserRepository) ClearExpiredTokens(ctx context.Context, p identity.Purpose, issuedBefore time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			token = NULL,
			token_purpose = NULL,
			token_issued_at = NULL,
			updated_at = now()
		WHERE token_purpose = $1 AND token_issued_at <= $2
	`, string(p), issuedBefore)
	if err != nil {
		return 0, oops.Code("TOKEN_PURGE_FAILED").
			With("operation", "clear expired tokens").
			With("purpose", string(p)).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// whereClause renders f as " WHERE a = $1 AND b = $2" in stable field order.
func whereClause(f identity.Filter) (string, []any) {
	if len(f) == 0 {
		return "", nil
	}
	fields := f.Fields()
	conds := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, field := range fields {
		conds[i] = columns[field] + " = $" + strconv.Itoa(i+1)
		args[i] = f[field]
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// mapUniqueViolation returns a unique-constraint error for unique_violation, else nil.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	field, ok := constraintFields[pgErr.ConstraintName]
	if !ok {
		field = identity.Field(pgErr.ConstraintName)
	}
	return identity.UniqueConstraintError(string(field), err)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows and for the error code;
// QueryRow defers query errors to Scan, so a code set here would mask theirs.
func scanUser(row pgx.Row) (*identity.User, error) {
	var (
		idStr         string
		u             identity.User
		role          string
		token         *string
		tokenPurpose  *string
		tokenIssuedAt *time.Time
	)

	err := row.Scan(
		&idStr,
		&u.Email,
		&u.EmailVerified,
		&u.CredentialHash,
		&role,
		&token,
		&tokenPurpose,
		&tokenIssuedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.With("operation", "scan user").Wrap(err)
	}

	if u.ID, err = ulid.ParseStrict(idStr); err != nil {
		return nil, oops.With("operation", "parse user id").
			With("raw_id", idStr).
			Wrap(err)
	}
	u.Role = identity.Role(role)
	if token != nil {
		u.Token = *token
	}
	if tokenPurpose != nil {
		u.TokenPurpose = identity.Purpose(*tokenPurpose)
	}
	if tokenIssuedAt != nil {
		t := tokenIssuedAt.UTC()
		u.TokenIssuedAt = &t
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// Compile-time interface check.
var _ identity.Store = (*UserRepository)(nil)
