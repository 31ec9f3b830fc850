// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/holomush/identity/internal/config"
	"github.com/holomush/identity/internal/identity"
	"github.com/holomush/identity/internal/observability"
	"github.com/holomush/identity/internal/store"
)

// Deps contains injectable dependencies for the CLI commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// StoreFactory opens the configured record store.
	// Default: openStore
	StoreFactory func(ctx context.Context, cfg *config.Config) (*StoreHandle, error)

	// MigratorFactory creates a schema migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

func (d *Deps) setDefaults() {
	if d.StoreFactory == nil {
		d.StoreFactory = openStore
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, checker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, checker)
		}
	}
}

// StoreHandle is an open record store with its lifecycle hooks.
type StoreHandle struct {
	Store identity.Store
	// Ping reports whether the backend answers. Nil means always ready.
	Ping func(ctx context.Context) error
	// Close releases the backend connection. Nil means nothing to release.
	Close func()
}

func (h *StoreHandle) ping(ctx context.Context) error {
	if h.Ping == nil {
		return nil
	}
	return h.Ping(ctx)
}

func (h *StoreHandle) close() {
	if h.Close != nil {
		h.Close()
	}
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}
