// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/identity/internal/config"
	"github.com/holomush/identity/internal/identity"
	"github.com/holomush/identity/internal/identity/memstore"
	"github.com/holomush/identity/internal/identity/postgres"
	"github.com/holomush/identity/internal/identity/redisstore"
	"github.com/holomush/identity/internal/store"
)

// openStore connects to the backend selected by cfg.Store.
func openStore(ctx context.Context, cfg *config.Config) (*StoreHandle, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := store.Open(ctx, cfg.Database.URL, cfg.Database.ConnectAttempts)
		if err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
		}
		return &StoreHandle{
			Store: postgres.NewUserRepository(pool),
			Ping:  pool.Ping,
			Close: pool.Close,
		}, nil
	case config.StoreRedis:
		client, err := redisstore.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		return &StoreHandle{
			Store: redisstore.New(client, redisstore.WithPrefix(cfg.Redis.Prefix)),
			Ping:  func(ctx context.Context) error { return client.Ping(ctx).Err() },
			Close: func() { closeRedis(client) },
		}, nil
	case config.StoreMemory:
		return &StoreHandle{Store: memstore.New()}, nil
	default:
		return nil, oops.Code("CONFIG_INVALID").With("store", cfg.Store).Errorf("unknown store %q", cfg.Store)
	}
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		slog.Warn("error closing redis client", "error", err)
	}
}

// newHasher builds the configured primary hasher.
func newHasher(cfg *config.Config) (identity.PasswordHasher, error) {
	switch cfg.Password.Hasher {
	case config.HasherArgon2id:
		return identity.NewArgon2idHasher(cfg.Argon2Params(), nil), nil
	default:
		return identity.NewBcryptHasher(cfg.Password.BcryptCost)
	}
}

// legacyHasher is the scheme a record may still carry after the primary
// hasher changed. It verifies old hashes so they rehash on next login.
func legacyHasher(cfg *config.Config) (identity.PasswordHasher, error) {
	switch cfg.Password.Hasher {
	case config.HasherArgon2id:
		return identity.NewBcryptHasher(cfg.Password.BcryptCost)
	default:
		return identity.NewArgon2idHasher(cfg.Argon2Params(), nil), nil
	}
}

// newService wires the managers configured by cfg over st.
// A nil recorder discards metrics.
func newService(cfg *config.Config, st identity.Store, recorder identity.Recorder) (*identity.Service, error) {
	primary, err := newHasher(cfg)
	if err != nil {
		return nil, err
	}
	legacy, err := legacyHasher(cfg)
	if err != nil {
		return nil, err
	}

	credOpts := []identity.CredentialOption{identity.WithLegacyHasher(legacy)}
	svcOpts := []identity.ServiceOption{
		identity.WithSingleUseTokens(cfg.Tokens.SingleUse),
		identity.WithLogger(slog.Default()),
	}
	if recorder != nil {
		credOpts = append(credOpts, identity.WithCredentialRecorder(recorder))
		svcOpts = append(svcOpts, identity.WithRecorder(recorder))
	}
	credentials := identity.NewCredentialManager(primary, credOpts...)

	emails, err := identity.NewEmailPolicy(cfg.Email.AllowDomains, cfg.Email.DenyDomains)
	if err != nil {
		return nil, err
	}

	tokens := make([]*identity.TokenManager, 0, len(identity.Purposes()))
	for _, purpose := range identity.Purposes() {
		tm, err := identity.NewTokenManager(purpose, st, identity.WithTokenTTL(cfg.Tokens.TTL))
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tm)
	}

	return identity.NewService(st, credentials, emails, tokens, svcOpts...)
}

// session is an open store plus the service built on it, for one command run.
type session struct {
	cfg     *config.Config
	handle  *StoreHandle
	service *identity.Service
}

// openSession loads config, opens the store and builds the service.
// Callers must call close.
func openSession(ctx context.Context, cmd *cobra.Command, deps *Deps) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	handle, err := deps.StoreFactory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := newService(cfg, handle.Store, nil)
	if err != nil {
		handle.close()
		return nil, err
	}
	return &session{cfg: cfg, handle: handle, service: svc}, nil
}

func (s *session) close() {
	s.handle.close()
}
