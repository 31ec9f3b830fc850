// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package identity implements the credential and token lifecycle of a user
// record.
//
// # Domain Types
//
//   - User - the persisted record: email, credential hash, role and at most
//     one pending purpose-tagged token
//   - Credentials - transient password input, never persisted
//
// # Components
//
//   - CredentialManager - password policy, hashing and verification
//   - TokenManager - issuance and lookup of time-limited tokens, one per Purpose
//   - Hook - the ordered validate, hash, commit sequence run before every write
//   - Service - composes the above over a Store
//
// Store implementations live in the postgres, redisstore and memstore
// subpackages; storetest holds the behaviour they share.
package identity

// Version is the library version reported by the CLI.
const Version = "1.0.0"
