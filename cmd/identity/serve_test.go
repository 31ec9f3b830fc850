// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/identity/internal/config"
	"github.com/holomush/identity/internal/identity"
	"github.com/holomush/identity/internal/identity/memstore"
	"github.com/holomush/identity/internal/observability"
	"github.com/holomush/identity/pkg/errutil"
)

type fakeObsServer struct {
	mu       sync.Mutex
	metrics  *observability.Metrics
	checker  observability.ReadinessChecker
	errCh    chan error
	startErr error
	started  bool
	stopped  bool
}

func newFakeObsServer() *fakeObsServer {
	return &fakeObsServer{
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		errCh:   make(chan error, 1),
	}
}

func (s *fakeObsServer) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return s.errCh, s.startErr
}

func (s *fakeObsServer) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeObsServer) Addr() string                    { return "127.0.0.1:0" }
func (s *fakeObsServer) Metrics() *observability.Metrics { return s.metrics }

func (s *fakeObsServer) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func serveFixture(t *testing.T, st identity.Store) (*config.Config, *Deps, *fakeObsServer) {
	t.Helper()
	cfg := config.Default()
	cfg.Store = config.StoreMemory
	cfg.Password.BcryptCost = 4
	cfg.Serve.PurgeInterval = 10 * time.Millisecond

	obs := newFakeObsServer()
	deps := &Deps{
		StoreFactory: func(context.Context, *config.Config) (*StoreHandle, error) {
			return &StoreHandle{
				Store: st,
				Ping:  func(context.Context) error { return nil },
			}, nil
		},
		ObservabilityServerFactory: func(_ string, checker observability.ReadinessChecker) ObservabilityServer {
			obs.checker = checker
			return obs
		},
	}
	deps.setDefaults()
	return cfg, deps, obs
}

func quietCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	return cmd
}

func TestServe_PurgesUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st := memstore.New()
	issued := time.Now().Add(-3 * time.Hour)
	require.NoError(t, st.Insert(context.Background(), &identity.User{
		Email:          "a@b.com",
		CredentialHash: "$2a$04$abcdefghijklmnopqrstuuJx9L8dY4NqNn0O2t9wYkFh2m1a3qWqG",
		Role:           identity.RoleUser,
		Token:          "stale",
		TokenPurpose:   identity.PurposePasswordReset,
		TokenIssuedAt:  &issued,
	}))

	cfg, deps, obs := serveFixture(t, st)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(ctx, cfg, quietCmd(), deps) }()

	assert.Eventually(t, func() bool {
		u, err := st.FindOne(context.Background(), identity.ByEmail("a@b.com"))
		return err == nil && u.Token == ""
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop")
	}

	assert.True(t, obs.wasStopped())
	assert.Equal(t, float64(1),
		testutil.ToFloat64(obs.metrics.TokensPurged.WithLabelValues(string(identity.PurposePasswordReset))))
	require.NotNil(t, obs.checker)
	assert.NoError(t, obs.checker(context.Background()))
}

func TestServe_ServerErrorTriggersShutdown(t *testing.T) {
	cfg, deps, obs := serveFixture(t, memstore.New())
	obs.errCh <- errors.New("listener closed")

	err := runServeWithDeps(context.Background(), cfg, quietCmd(), deps)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SERVER_FAILED")
	assert.True(t, obs.wasStopped())
}

func TestServe_StartFailure(t *testing.T) {
	cfg, deps, obs := serveFixture(t, memstore.New())
	obs.startErr = errors.New("address in use")

	err := runServeWithDeps(context.Background(), cfg, quietCmd(), deps)
	errutil.AssertErrorCode(t, err, "SERVER_START_FAILED")
}

func TestServe_WithoutMetrics(t *testing.T) {
	cfg, deps, obs := serveFixture(t, memstore.New())
	cfg.Serve.MetricsAddr = ""
	cfg.Serve.PurgeInterval = 0

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, runServeWithDeps(ctx, cfg, quietCmd(), deps))
	assert.False(t, obs.started)
}

func TestServe_StoreFailure(t *testing.T) {
	cfg, deps, _ := serveFixture(t, memstore.New())
	deps.StoreFactory = func(context.Context, *config.Config) (*StoreHandle, error) {
		return nil, errors.New("no route to host")
	}

	err := runServeWithDeps(context.Background(), cfg, quietCmd(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no route to host")
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("closed channel leaves context alone", func(t *testing.T) {
		ctx, cancel := context.WithCancelCause(context.Background())
		defer cancel(nil)
		errCh := make(chan error)
		close(errCh)

		monitorServerErrors(ctx, cancel, errCh, "test")
		assert.NoError(t, ctx.Err())
	})

	t.Run("error cancels with cause", func(t *testing.T) {
		ctx, cancel := context.WithCancelCause(context.Background())
		errCh := make(chan error, 1)
		errCh <- errors.New("boom")

		monitorServerErrors(ctx, cancel, errCh, "test")
		require.Error(t, ctx.Err())
		errutil.AssertErrorContext(t, context.Cause(ctx), "server", "test")
	})
}
