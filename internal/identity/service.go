// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Service operations, as reported to a Recorder.
const (
	OpRegister       = "register"
	OpSave           = "save"
	OpAuthenticate   = "authenticate"
	OpChangePassword = "change_password"
	OpChangeEmail    = "change_email"
	OpIssueToken     = "issue_token"
	OpFindByToken    = "find_by_token"
	OpConsumeToken   = "consume_token"
	OpResetPassword  = "reset_password"
	OpVerifyEmail    = "verify_email"
	OpPurgeTokens    = "purge_tokens"
)

// CodeTokenInvalid is returned when a token-driven mutation finds no record.
const CodeTokenInvalid = "TOKEN_INVALID"

// Service composes the store, the pre-save hook and the token managers into
// the user record lifecycle.
type Service struct {
	store       Store
	hook        *Hook
	credentials *CredentialManager
	tokens      map[Purpose]*TokenManager
	singleUse   bool
	recorder    Recorder
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSingleUseTokens makes FindByToken clear a token after a successful lookup.
func WithSingleUseTokens(enabled bool) ServiceOption {
	return func(s *Service) {
		s.singleUse = enabled
	}
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// WithServiceClock replaces time.Now for record timestamps.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service. Each token manager must serve a distinct purpose.
func NewService(
	store Store,
	credentials *CredentialManager,
	emails *EmailPolicy,
	tokens []*TokenManager,
	opts ...ServiceOption,
) (*Service, error) {
	if store == nil {
		return nil, oops.Code("INVALID_ARGUMENT").Errorf("store is required")
	}
	if credentials == nil {
		return nil, oops.Code("INVALID_ARGUMENT").Errorf("credential manager is required")
	}
	if emails == nil {
		return nil, oops.Code("INVALID_ARGUMENT").Errorf("email policy is required")
	}

	s := &Service{
		store:       store,
		hook:        NewHook(credentials, emails),
		credentials: credentials,
		tokens:      make(map[Purpose]*TokenManager, len(tokens)),
		recorder:    nopRecorder{},
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, tm := range tokens {
		if _, dup := s.tokens[tm.Purpose()]; dup {
			return nil, oops.Code("INVALID_ARGUMENT").
				With("purpose", string(tm.Purpose())).
				Errorf("duplicate token manager")
		}
		s.tokens[tm.Purpose()] = tm
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Hook returns the pre-save hook, for callers that persist records themselves.
func (s *Service) Hook() *Hook {
	return s.hook
}

// Register creates a new record from an email and password input.
// Returns field errors for bad input and ErrUniqueConstraint when the email is taken.
func (s *Service) Register(ctx context.Context, email string, role Role, in Credentials) (u *User, err error) {
	ctx, span := startSpan(ctx, "Service.Register")
	defer func() { s.finish(span, OpRegister, err) }()

	u = &User{Email: email, Role: role}
	if err = s.hook.BeforeSave(ctx, u, &in, nil); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u.ID = NewULIDAt(now)
	u.CreatedAt = now
	u.UpdatedAt = now
	if err = s.store.Insert(ctx, u); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered",
		"user_id", u.ID.String(),
		"role", string(u.Role))
	return u, nil
}

// Save runs the pre-save hook against u and in, then commits u. The stored
// record is read first so the hook can tell whether the address changed.
func (s *Service) Save(ctx context.Context, u *User, in Credentials) (err error) {
	ctx, span := startSpan(ctx, "Service.Save")
	defer func() { s.finish(span, OpSave, err) }()

	prev, err := s.store.FindOne(ctx, ByID(u.ID.String()))
	if err != nil {
		return err
	}
	return s.save(ctx, prev, u, in)
}

// save commits u, which must already exist as prev in the store.
func (s *Service) save(ctx context.Context, prev, u *User, in Credentials) error {
	if err := s.hook.BeforeSave(ctx, u, &in, prev); err != nil {
		return err
	}
	u.UpdatedAt = s.now().UTC()
	return s.store.Update(ctx, u)
}

// FindByID returns the record with id, or (nil, nil).
func (s *Service) FindByID(ctx context.Context, id ulid.ULID) (*User, error) {
	return s.findOne(ctx, ByID(id.String()))
}

// FindByEmail returns the record with email, or (nil, nil).
func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, ByEmail(email))
}

func (s *Service) findOne(ctx context.Context, f Filter) (*User, error) {
	u, err := s.store.FindOne(ctx, f)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate reports whether password matches u's credential. An empty
// password yields ErrMissingPassword. After a match, a credential made with
// outdated parameters is replaced.
func (s *Service) Authenticate(ctx context.Context, u *User, password string) (ok bool, err error) {
	ctx, span := startSpan(ctx, "Service.Authenticate")
	defer func() {
		if err == nil && !ok {
			s.recorder.RecordOperation(OpAuthenticate, OutcomeMismatch)
			endSpan(span, nil)
			return
		}
		s.finish(span, OpAuthenticate, err)
	}()

	ok, err = s.credentials.Verify(ctx, password, u.CredentialHash)
	if err != nil || !ok {
		return ok, err
	}

	if s.credentials.NeedsRehash(u.CredentialHash) {
		s.rehash(ctx, u, password)
	}
	return true, nil
}

// rehash replaces u's credential. Failure leaves the old, still valid, hash.
func (s *Service) rehash(ctx context.Context, u *User, password string) {
	hash, err := s.credentials.Hash(ctx, password)
	if err != nil {
		s.logger.WarnContext(ctx, "credential rehash failed", "user_id", u.ID.String(), "error", err)
		return
	}

	updated := u.Clone()
	updated.CredentialHash = hash
	updated.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, updated); err != nil {
		s.logger.WarnContext(ctx, "credential rehash not saved", "user_id", u.ID.String(), "error", err)
		return
	}
	*u = *updated
	s.logger.InfoContext(ctx, "credential rehashed", "user_id", u.ID.String())
}

// ChangePassword sets a new password on u. A password is required.
func (s *Service) ChangePassword(ctx context.Context, u *User, in Credentials) (err error) {
	ctx, span := startSpan(ctx, "Service.ChangePassword")
	defer func() { s.finish(span, OpChangePassword, err) }()

	if in.Password == "" {
		return ValidationError(FieldErrors{{Field: FieldNamePassword, Message: MsgRequired}})
	}
	return s.save(ctx, u.Clone(), u, in)
}

// ChangeEmail moves u to a new address, which then needs verification again.
// Any pending email verification token is dropped with the old address.
func (s *Service) ChangeEmail(ctx context.Context, u *User, email string) (err error) {
	ctx, span := startSpan(ctx, "Service.ChangeEmail")
	defer func() { s.finish(span, OpChangeEmail, err) }()

	if email == u.Email {
		return nil
	}
	updated := u.Clone()
	updated.Email = email
	updated.EmailVerified = false
	if updated.HasPendingToken(PurposeEmailVerification) {
		updated.ClearToken()
	}
	if err = s.save(ctx, u, updated, Credentials{}); err != nil {
		return err
	}
	*u = *updated
	return nil
}

// IssueToken gives u a new token for purpose and saves it, replacing any
// pending token. The returned value is for delivery to the user.
func (s *Service) IssueToken(ctx context.Context, u *User, purpose Purpose) (token string, err error) {
	ctx, span := startSpan(ctx, "Service.IssueToken",
		trace.WithAttributes(attribute.String("purpose", string(purpose))))
	defer func() { s.finish(span, OpIssueToken, err) }()

	tm, err := s.tokenManager(purpose)
	if err != nil {
		return "", err
	}

	updated := u.Clone()
	token, _, err = tm.Issue(updated)
	if err != nil {
		return "", err
	}
	if err = s.save(ctx, u, updated, Credentials{}); err != nil {
		return "", err
	}
	*u = *updated

	s.logger.DebugContext(ctx, "token issued",
		"user_id", u.ID.String(),
		"purpose", string(purpose))
	return token, nil
}

// FindByToken returns the record holding a valid token for purpose, or
// (nil, nil) when none matches. Expired tokens yield ErrTokenExpired.
func (s *Service) FindByToken(ctx context.Context, purpose Purpose, token string) (u *User, err error) {
	ctx, span := startSpan(ctx, "Service.FindByToken",
		trace.WithAttributes(attribute.String("purpose", string(purpose))))
	defer func() {
		if err == nil && u == nil {
			s.recorder.RecordOperation(OpFindByToken, OutcomeNotFound)
			endSpan(span, nil)
			return
		}
		s.finish(span, OpFindByToken, err)
	}()

	tm, err := s.tokenManager(purpose)
	if err != nil {
		return nil, err
	}
	u, err = tm.FindValid(ctx, token)
	if err != nil || u == nil {
		return nil, err
	}

	if s.singleUse {
		prev := u.Clone()
		u.ClearToken()
		if err = s.save(ctx, prev, u, Credentials{}); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// ConsumeToken clears u's pending token of purpose, if any.
func (s *Service) ConsumeToken(ctx context.Context, u *User, purpose Purpose) (err error) {
	ctx, span := startSpan(ctx, "Service.ConsumeToken")
	defer func() { s.finish(span, OpConsumeToken, err) }()

	if !u.HasPendingToken(purpose) {
		return nil
	}
	updated := u.Clone()
	updated.ClearToken()
	if err = s.save(ctx, u, updated, Credentials{}); err != nil {
		return err
	}
	*u = *updated
	return nil
}

// ResetPassword sets a new password on the record holding a valid password
// reset token and clears the token.
func (s *Service) ResetPassword(ctx context.Context, token string, in Credentials) (u *User, err error) {
	ctx, span := startSpan(ctx, "Service.ResetPassword")
	defer func() { s.finish(span, OpResetPassword, err) }()

	if in.Password == "" {
		return nil, ValidationError(FieldErrors{{Field: FieldNamePassword, Message: MsgRequired}})
	}

	u, err = s.redeem(ctx, PurposePasswordReset, token)
	if err != nil {
		return nil, err
	}
	prev := u.Clone()
	u.ClearToken()
	if err = s.save(ctx, prev, u, in); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "password reset", "user_id", u.ID.String())
	return u, nil
}

// VerifyEmail marks the record holding a valid email verification token as
// verified and clears the token.
func (s *Service) VerifyEmail(ctx context.Context, token string) (u *User, err error) {
	ctx, span := startSpan(ctx, "Service.VerifyEmail")
	defer func() { s.finish(span, OpVerifyEmail, err) }()

	u, err = s.redeem(ctx, PurposeEmailVerification, token)
	if err != nil {
		return nil, err
	}
	prev := u.Clone()
	u.ClearToken()
	u.EmailVerified = true
	if err = s.save(ctx, prev, u, Credentials{}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "email verified", "user_id", u.ID.String())
	return u, nil
}

// redeem resolves token to its record. Unlike FindByToken, no match is an error.
func (s *Service) redeem(ctx context.Context, purpose Purpose, token string) (*User, error) {
	tm, err := s.tokenManager(purpose)
	if err != nil {
		return nil, err
	}
	u, err := tm.FindValid(ctx, token)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, oops.Code(CodeTokenInvalid).
			With("purpose", string(purpose)).
			Wrap(ErrNotFound)
	}
	return u, nil
}

// PurgeExpiredTokens clears expired tokens of every managed purpose and
// returns the number of records touched.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (total int64, err error) {
	ctx, span := startSpan(ctx, "Service.PurgeExpiredTokens")
	defer func() { s.finish(span, OpPurgeTokens, err) }()

	for _, purpose := range Purposes() {
		tm, ok := s.tokens[purpose]
		if !ok {
			continue
		}
		n, err := s.store.ClearExpiredTokens(ctx, purpose, tm.ExpiryCutoff())
		if err != nil {
			return total, oops.With("purpose", string(purpose)).Wrap(err)
		}
		s.recorder.RecordTokensPurged(purpose, n)
		total += n
	}

	if total > 0 {
		s.logger.InfoContext(ctx, "expired tokens purged", "count", total)
	}
	return total, nil
}

func (s *Service) tokenManager(p Purpose) (*TokenManager, error) {
	tm, ok := s.tokens[p]
	if !ok {
		return nil, oops.Code("TOKEN_PURPOSE_UNSUPPORTED").
			With("purpose", string(p)).
			Errorf("no token manager for purpose %q", p)
	}
	return tm, nil
}

func (s *Service) finish(span trace.Span, op string, err error) {
	s.recorder.RecordOperation(op, outcomeOf(err))
	endSpan(span, err)
}
