// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the default bcrypt work factor.
const DefaultBcryptCost = 12

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// PasswordHasher turns a plaintext password into a self-describing encoded
// hash and checks candidates against it.
type PasswordHasher interface {
	// Hash returns a salted hash of password. Two calls with the same input
	// return different encodings.
	Hash(password string) (string, error)

	// Verify checks password against hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error when
	// the hash cannot be parsed.
	Verify(password, hash string) (bool, error)

	// NeedsUpgrade reports whether hash was produced with a different scheme
	// or work factor than this hasher uses.
	NeedsUpgrade(hash string) bool

	// Recognizes reports whether hash is in this hasher's encoding.
	Recognizes(hash string) bool
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher with the given cost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("INVALID_COST").
			With("cost", cost).
			With("min", bcrypt.MinCost).
			With("max", bcrypt.MaxCost).
			Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Cost returns the configured work factor.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", oops.Code(CodeMissingPassword).Wrap(ErrMissingPassword)
	}
	encoded, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", hashingError("bcrypt", err)
	}
	return string(encoded), nil
}

// Verify checks if the password matches the hash.
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code(CodeInvalidHash).With("scheme", "bcrypt").Wrap(err)
	}
}

// NeedsUpgrade returns true if hash is not bcrypt or uses another cost.
func (h *BcryptHasher) NeedsUpgrade(hash string) bool {
	if !h.Recognizes(hash) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.cost
}

// Recognizes matches the $2a$, $2b$ and $2y$ bcrypt prefixes.
func (h *BcryptHasher) Recognizes(hash string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(hash, prefix) {
			return true
		}
	}
	return false
}

func hashingError(scheme string, cause error) error {
	return oops.Code(CodeHashing).
		With("scheme", scheme).
		Wrap(fmt.Errorf("%w: %w", ErrHashing, cause))
}

// Compile-time interface check.
var _ PasswordHasher = (*BcryptHasher)(nil)
