// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package identity_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/identity/internal/identity"
	"github.com/holomush/identity/internal/identity/postgres"
	"github.com/holomush/identity/internal/identity/redisstore"
)

// clock is a settable time source shared by the service and its token managers.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backend struct {
	name  string
	reset func(ctx context.Context)
	store func() identity.Store
}

var backends = []backend{
	{
		name: "postgres",
		reset: func(ctx context.Context) {
			_, err := env.pool.Exec(ctx, `TRUNCATE users`)
			Expect(err).NotTo(HaveOccurred())
		},
		store: func() identity.Store { return postgres.NewUserRepository(env.pool) },
	},
	{
		name: "redis",
		reset: func(ctx context.Context) {
			Expect(env.redis.FlushDB(ctx).Err()).To(Succeed())
		},
		store: func() identity.Store { return redisstore.New(env.redis) },
	},
}

func newService(st identity.Store, clk *clock, cost int) *identity.Service {
	hasher, err := identity.NewBcryptHasher(cost)
	Expect(err).NotTo(HaveOccurred())
	emails, err := identity.NewEmailPolicy(nil, []string{"*.invalid"})
	Expect(err).NotTo(HaveOccurred())

	var tokens []*identity.TokenManager
	for _, p := range identity.Purposes() {
		tm, err := identity.NewTokenManager(p, st, identity.WithClock(clk.Now))
		Expect(err).NotTo(HaveOccurred())
		tokens = append(tokens, tm)
	}

	svc, err := identity.NewService(st, identity.NewCredentialManager(hasher), emails, tokens,
		identity.WithServiceClock(clk.Now))
	Expect(err).NotTo(HaveOccurred())
	return svc
}

var _ = Describe("Identity lifecycle", func() {
	for _, b := range backends {
		Context("on "+b.name, func() {
			var (
				ctx context.Context
				st  identity.Store
				clk *clock
				svc *identity.Service
			)

			BeforeEach(func() {
				ctx = context.Background()
				b.reset(ctx)
				st = b.store()
				clk = &clock{now: time.Now().UTC().Truncate(time.Microsecond)}
				svc = newService(st, clk, bcrypt.MinCost)
			})

			register := func(email, password string) *identity.User {
				u, err := svc.Register(ctx, email, identity.RoleUser, identity.NewCredentials(password, password))
				Expect(err).NotTo(HaveOccurred())
				return u
			}

			It("stores a hash and verifies the original password", func() {
				u := register("round@example.com", "s3cret!")

				found, err := svc.FindByEmail(ctx, "round@example.com")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).NotTo(BeNil())
				Expect(found.ID).To(Equal(u.ID))
				Expect(found.CredentialHash).NotTo(Equal("s3cret!"))
				Expect(found.CredentialHash).To(HavePrefix("$2a$"))

				ok, err := svc.Authenticate(ctx, found, "s3cret!")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())

				ok, err = svc.Authenticate(ctx, found, "wrong!!")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())

				_, err = svc.Authenticate(ctx, found, "")
				Expect(err).To(MatchError(identity.ErrMissingPassword))
			})

			It("salts every hash", func() {
				a := register("salt-a@example.com", "same-pass")
				c := register("salt-c@example.com", "same-pass")
				Expect(a.CredentialHash).NotTo(Equal(c.CredentialHash))
			})

			It("lets exactly one concurrent registration of an email win", func() {
				const racers = 8
				var wins, conflicts atomic.Int32

				g, gctx := errgroup.WithContext(ctx)
				for range racers {
					g.Go(func() error {
						_, err := svc.Register(gctx, "race@example.com", identity.RoleUser,
							identity.NewCredentials("s3cret!", "s3cret!"))
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
				Expect(g.Wait()).To(Succeed())
				Expect(wins.Load()).To(Equal(int32(1)))
				Expect(conflicts.Load()).To(Equal(int32(racers - 1)))
			})

			It("rejects a mismatched confirmation without storing anything", func() {
				_, err := svc.Register(ctx, "mismatch@example.com", identity.RoleUser,
					identity.NewCredentials("s3cret!", "s3cret?"))
				fe, ok := identity.FieldErrorsOf(err)
				Expect(ok).To(BeTrue())
				Expect(fe.Messages(identity.FieldNamePasswordConfirm)).To(ConsistOf(identity.MsgPasswordMismatch))

				found, err := svc.FindByEmail(ctx, "mismatch@example.com")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeNil())
			})

			It("rejects malformed and denied emails", func() {
				for _, email := range []string{"not-an-email", "user@host.invalid"} {
					_, err := svc.Register(ctx, email, identity.RoleUser, identity.NewCredentials("s3cret!", "s3cret!"))
					fe, ok := identity.FieldErrorsOf(err)
					Expect(ok).To(BeTrue(), email)
					Expect(fe.Has(identity.FieldNameEmail)).To(BeTrue(), email)
				}
			})

			It("keeps a token valid for two hours", func() {
				u := register("token@example.com", "s3cret!")
				token, err := svc.IssueToken(ctx, u, identity.PurposePasswordReset)
				Expect(err).NotTo(HaveOccurred())

				found, err := svc.FindByToken(ctx, identity.PurposePasswordReset, token)
				Expect(err).NotTo(HaveOccurred())
				Expect(found).NotTo(BeNil())
				Expect(found.ID).To(Equal(u.ID))

				clk.Advance(2*time.Hour - time.Second)
				found, err = svc.FindByToken(ctx, identity.PurposePasswordReset, token)
				Expect(err).NotTo(HaveOccurred())
				Expect(found).NotTo(BeNil())

				clk.Advance(2 * time.Second)
				found, err = svc.FindByToken(ctx, identity.PurposePasswordReset, token)
				Expect(err).To(MatchError(identity.ErrTokenExpired))
				Expect(found).To(BeNil())
			})

			It("finds nothing for a token that was never issued", func() {
				register("none@example.com", "s3cret!")
				found, err := svc.FindByToken(ctx, identity.PurposePasswordReset, "never-issued")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeNil())
			})

			It("resets a password once with a valid token", func() {
				u := register("reset@example.com", "s3cret!")
				token, err := svc.IssueToken(ctx, u, identity.PurposePasswordReset)
				Expect(err).NotTo(HaveOccurred())

				updated, err := svc.ResetPassword(ctx, token, identity.NewCredentials("n3w-pass", "n3w-pass"))
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Token).To(BeEmpty())

				ok, err := svc.Authenticate(ctx, updated, "n3w-pass")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())

				_, err = svc.ResetPassword(ctx, token, identity.NewCredentials("again-pw", "again-pw"))
				Expect(err).To(MatchError(identity.ErrNotFound))
			})

			It("refuses an expired reset token", func() {
				u := register("late@example.com", "s3cret!")
				token, err := svc.IssueToken(ctx, u, identity.PurposePasswordReset)
				Expect(err).NotTo(HaveOccurred())

				clk.Advance(2*time.Hour + time.Second)
				_, err = svc.ResetPassword(ctx, token, identity.NewCredentials("n3w-pass", "n3w-pass"))
				Expect(err).To(MatchError(identity.ErrTokenExpired))
			})

			It("verifies an email address", func() {
				u := register("verify@example.com", "s3cret!")
				token, err := svc.IssueToken(ctx, u, identity.PurposeEmailVerification)
				Expect(err).NotTo(HaveOccurred())

				verified, err := svc.VerifyEmail(ctx, token)
				Expect(err).NotTo(HaveOccurred())
				Expect(verified.EmailVerified).To(BeTrue())

				found, err := svc.FindByID(ctx, u.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(found.EmailVerified).To(BeTrue())
				Expect(found.Token).To(BeEmpty())
			})

			It("purges only expired tokens", func() {
				stale := register("stale@example.com", "s3cret!")
				_, err := svc.IssueToken(ctx, stale, identity.PurposePasswordReset)
				Expect(err).NotTo(HaveOccurred())

				clk.Advance(3 * time.Hour)
				fresh := register("fresh@example.com", "s3cret!")
				_, err = svc.IssueToken(ctx, fresh, identity.PurposeEmailVerification)
				Expect(err).NotTo(HaveOccurred())

				n, err := svc.PurgeExpiredTokens(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(int64(1)))

				found, err := svc.FindByID(ctx, fresh.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(found.Token).NotTo(BeEmpty())
			})

			It("rehashes on login after the cost is raised", func() {
				u := register("rehash@example.com", "s3cret!")
				stronger := newService(st, clk, bcrypt.MinCost+1)

				ok, err := stronger.Authenticate(ctx, u, "s3cret!")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())

				found, err := stronger.FindByID(ctx, u.ID)
				Expect(err).NotTo(HaveOccurred())
				cost, err := bcrypt.Cost([]byte(found.CredentialHash))
				Expect(err).NotTo(HaveOccurred())
				Expect(cost).To(Equal(bcrypt.MinCost + 1))
			})
		})
	}
})
