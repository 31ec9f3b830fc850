// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity_test

import (
	"errors"
	"sync"
	"time"

	"github.com/holomush/identity/internal/identity"
)

// testArgon2Params keep argon2id fast enough for unit tests.
var testArgon2Params = identity.Argon2Params{
	Time:    1,
	Memory:  1024,
	Threads: 1,
	SaltLen: 16,
	KeyLen:  32,
}

type fakeRecorder struct {
	mu         sync.Mutex
	operations map[string][]string
	hashCount  int
	purged     map[identity.Purpose]int64
}

func (r *fakeRecorder) RecordOperation(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.operations == nil {
		r.operations = make(map[string][]string)
	}
	r.operations[operation] = append(r.operations[operation], outcome)
}

func (r *fakeRecorder) ObserveHashDuration(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashCount++
}

func (r *fakeRecorder) RecordTokensPurged(p identity.Purpose, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.purged == nil {
		r.purged = make(map[identity.Purpose]int64)
	}
	r.purged[p] += n
}

func (r *fakeRecorder) outcomes(operation string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.operations[operation]...)
}

func (r *fakeRecorder) hashes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hashCount
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingReader is an entropy source that always fails.
type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}
