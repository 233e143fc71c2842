// Package passphrase resolves controller keystore passphrases for the
// command-line tools.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrEmpty is returned for blank passphrases.
var ErrEmpty = errors.New("passphrase: keystore passphrase cannot be empty")

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting the operator. The value is cached after the first successful
// retrieval.
type Source struct {
	envVar string
	label  string
	prompt io.Writer
	lookup func(string) (string, bool)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal. label names the keystore in prompts.
func NewSource(envVar, label string) *Source {
	if strings.TrimSpace(label) == "" {
		label = "controller"
	}
	return &Source{
		envVar: strings.TrimSpace(envVar),
		label:  label,
		prompt: os.Stderr,
		lookup: os.LookupEnv,
	}
}

// Get returns the cached passphrase or resolves it if this is the first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookup(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%w: %s is set but empty", ErrEmpty, s.envVar)
			}
			return value, nil
		}
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("passphrase: %s keystore passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("passphrase: %s keystore passphrase required and no terminal available", s.label)
	}

	fmt.Fprintf(s.prompt, "Enter %s keystore passphrase: ", s.label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(s.prompt)
	if err != nil {
		return "", fmt.Errorf("passphrase: read: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", ErrEmpty
	}
	return string(raw), nil
}
