// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/holomush/identity/internal/identity"
)

// prompter reads secrets from the command's input. A terminal gets an
// echo-free prompt; anything else is read one line per answer.
type prompter struct {
	cmd    *cobra.Command
	fd     int
	tty    bool
	reader *bufio.Reader
}

func newPrompter(cmd *cobra.Command) *prompter {
	p := &prompter{cmd: cmd}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		p.fd = int(f.Fd()) //nolint:gosec // fd fits in int
		p.tty = true
		return p
	}
	p.reader = bufio.NewReader(in)
	return p
}

// Secret prompts for a value without echoing it.
func (p *prompter) Secret(prompt string) (string, error) {
	p.cmd.PrintErr(prompt + ": ")
	if p.tty {
		b, err := term.ReadPassword(p.fd)
		p.cmd.PrintErrln()
		if err != nil {
			return "", oops.Code("PROMPT_FAILED").Wrap(err)
		}
		return string(b), nil
	}

	line, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", oops.Code("PROMPT_FAILED").With("prompt", prompt).Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Credentials prompts for a password and its confirmation.
func (p *prompter) Credentials(label string) (identity.Credentials, error) {
	password, err := p.Secret(label)
	if err != nil {
		return identity.Credentials{}, err
	}
	confirm, err := p.Secret("Confirm " + strings.ToLower(label))
	if err != nil {
		return identity.Credentials{}, err
	}
	return identity.NewCredentials(password, confirm), nil
}

// reportFieldErrors prints validation failures one per line so the operator
// sees every problem at once.
func reportFieldErrors(cmd *cobra.Command, err error) error {
	if fe, ok := identity.FieldErrorsOf(err); ok {
		for _, e := range fe {
			cmd.PrintErrf("  %s: %s\n", e.Field, e.Message)
		}
	}
	return err
}
