// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/identity/pkg/errutil"
)

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) Ping(context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitForDatabase(t *testing.T) {
	fast := func(n uint64) retry.Backoff {
		return retry.WithMaxRetries(n, retry.NewConstant(time.Millisecond))
	}

	t.Run("succeeds once the database answers", func(t *testing.T) {
		p := &flakyPinger{failures: 2}
		require.NoError(t, waitForDatabase(context.Background(), p, fast(5)))
		assert.Equal(t, 3, p.calls)
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		p := &flakyPinger{failures: 100}
		err := waitForDatabase(context.Background(), p, fast(2))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "DB_CONNECT_FAILED")
		errutil.AssertErrorContext(t, err, "attempts", 3)
	})

	t.Run("stops when the context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := &flakyPinger{failures: 100}
		err := waitForDatabase(ctx, p, retry.WithMaxRetries(10, retry.NewConstant(time.Second)))
		require.Error(t, err)
		assert.LessOrEqual(t, p.calls, 1)
	})
}

func TestOpen_InvalidURL(t *testing.T) {
	_, err := Open(context.Background(), "::not a url::", 0)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "DB_CONFIG_INVALID")
}
