// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// CodeInvalidID is the error code for a malformed record ID.
const CodeInvalidID = "INVALID_ID"

var (
	idEntropy     = ulid.Monotonic(rand.Reader, 0)
	idEntropyLock sync.Mutex
)

// NewULID generates a record ID stamped with the current time.
func NewULID() ulid.ULID {
	return NewULIDAt(time.Now())
}

// NewULIDAt generates a record ID stamped with t, so a record's ID sorts with
// its CreatedAt. IDs for the same millisecond stay in generation order.
func NewULIDAt(t time.Time) ulid.ULID {
	idEntropyLock.Lock()
	defer idEntropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), idEntropy)
}

// ParseULID parses a record ID.
func ParseULID(s string) (ulid.ULID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeInvalidID).With("id", s).Wrap(err)
	}
	return id, nil
}

// IDTime returns the creation instant encoded in id, in UTC.
func IDTime(id ulid.ULID) time.Time {
	return ulid.Time(id.Time()).UTC()
}

// validID checks an id filter value before it reaches a store.
func validID(s string) error {
	if _, err := ulid.ParseStrict(s); err != nil {
		return oops.Code(CodeInvalidFilter).
			With("field", string(FieldID)).
			With("id", s).
			Wrapf(err, "malformed id")
	}
	return nil
}
