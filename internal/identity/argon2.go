// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultArgon2Params are the OWASP-recommended argon2id parameters.
var DefaultArgon2Params = Argon2Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	SaltLen: 16,
	KeyLen:  32,
}

// Argon2idHasher implements PasswordHasher using argon2id and PHC string encoding.
type Argon2idHasher struct {
	params Argon2Params
	rand   io.Reader
}

// NewArgon2idHasher creates an Argon2idHasher. A nil random source uses crypto/rand.
func NewArgon2idHasher(params Argon2Params, random io.Reader) *Argon2idHasher {
	if random == nil {
		random = rand.Reader
	}
	return &Argon2idHasher{params: params, rand: random}
}

// Hash produces an argon2id hash of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", oops.Code(CodeMissingPassword).Wrap(ErrMissingPassword)
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", oops.Code(CodeEntropy).
			With("scheme", "argon2id").
			Wrap(fmt.Errorf("%w: %w", ErrEntropy, err))
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks if the password matches the hash.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	p, salt, expected, err := decodeArgon2id(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsUpgrade returns true if the hash is not argon2id or was made with other parameters.
func (h *Argon2idHasher) NeedsUpgrade(hash string) bool {
	p, salt, _, err := decodeArgon2id(hash)
	if err != nil {
		return true
	}
	return p.Time != h.params.Time ||
		p.Memory != h.params.Memory ||
		p.Threads != h.params.Threads ||
		p.KeyLen != h.params.KeyLen ||
		uint32(len(salt)) != h.params.SaltLen //nolint:gosec // salt length bounded by decode
}

// Recognizes matches the $argon2id$ prefix.
func (h *Argon2idHasher) Recognizes(hash string) bool {
	return strings.HasPrefix(hash, "$argon2id$")
}

func decodeArgon2id(encoded string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return p, nil, nil, oops.Code(CodeInvalidHash).Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return p, nil, nil, oops.Code(CodeInvalidHash).Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if version != argon2.Version {
		return p, nil, nil, oops.Code(CodeInvalidHash).Errorf("unsupported argon2 version: %d", version)
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &threads); err != nil {
		return p, nil, nil, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return p, nil, nil, oops.Code(CodeInvalidHash).Errorf("threads value %d out of range", threads)
	}
	p.Threads = uint8(threads)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, oops.Code(CodeInvalidHash).Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if len(key) == 0 || len(key) > 1<<10 {
		return p, nil, nil, oops.Code(CodeInvalidHash).Errorf("invalid hash key length: %d", len(key))
	}
	p.KeyLen = uint32(len(key))
	p.SaltLen = uint32(len(salt)) //nolint:gosec // salt decoded from a bounded string

	return p, salt, key, nil
}

// Compile-time interface check.
var _ PasswordHasher = (*Argon2idHasher)(nil)
