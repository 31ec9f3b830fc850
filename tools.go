// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build tools

// Package main pins command-line tools to go.mod so `go run` uses the
// versions the module is tested with.
//
// The integration suites run with:
//
//	go run github.com/onsi/ginkgo/v2/ginkgo -tags integration ./internal/store ./test/integration/...
package main

import (
	_ "github.com/onsi/ginkgo/v2/ginkgo"
)
