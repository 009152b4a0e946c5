// Package credentials caches the per-brick connection secret in an
// owner-restricted file under the brickctl configuration directory.
//
// The secret is prompted for at most once per process lifetime unless an
// authentication failure invalidates it; the connection layer then forces
// exactly one re-prompt before giving up.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/term"
)

// EnvPassword overrides the cached secret for unattended use. It is never
// persisted.
const EnvPassword = "BRICKCTL_PASSWORD"

// PromptFunc asks the operator for the secret of a group's brick
type PromptFunc func(group int) (string, error)

// Store owns the cached connection secrets. It is exclusively owned by the
// active invocation, never a process-wide singleton.
type Store struct {
	configDir string
	prompt    PromptFunc
}

// stored is the on-disk layout of the credentials file
type stored struct {
	Passwords map[string]string `json:"passwords"`
}

// NewStore creates a credential store rooted at configDir.
// A nil prompt falls back to the terminal prompt.
func NewStore(configDir string, prompt PromptFunc) *Store {
	if prompt == nil {
		prompt = TerminalPrompt
	}
	return &Store{configDir: configDir, prompt: prompt}
}

// path returns the credentials file location
func (s *Store) path() string {
	return filepath.Join(s.configDir, "credentials.json")
}

// Secret returns the connection secret for a group, prompting the operator
// and persisting the answer when nothing is cached
func (s *Store) Secret(group int) (string, error) {
	if secret := os.Getenv(EnvPassword); secret != "" {
		return secret, nil
	}

	cached, err := s.load()
	if err != nil {
		return "", err
	}
	if secret, ok := cached.Passwords[strconv.Itoa(group)]; ok && secret != "" {
		return secret, nil
	}

	secret, err := s.prompt(group)
	if err != nil {
		return "", fmt.Errorf("failed to read brick password: %w", err)
	}
	if secret == "" {
		return "", errors.New("brick password must not be empty")
	}
	if err := s.save(group, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// Invalidate drops a group's cached secret after an authentication failure
func (s *Store) Invalidate(group int) error {
	cached, err := s.load()
	if err != nil {
		return err
	}
	delete(cached.Passwords, strconv.Itoa(group))
	return s.write(cached)
}

// load reads the credentials file, returning an empty set when missing
func (s *Store) load() (*stored, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return &stored{Passwords: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var c stored
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if c.Passwords == nil {
		c.Passwords = make(map[string]string)
	}
	return &c, nil
}

// save caches one group's secret
func (s *Store) save(group int, secret string) error {
	cached, err := s.load()
	if err != nil {
		return err
	}
	cached.Passwords[strconv.Itoa(group)] = secret
	return s.write(cached)
}

// write persists the credentials file with owner-only permissions
func (s *Store) write(c *stored) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.WriteFile(s.path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// TerminalPrompt reads the secret from the controlling terminal without echo
func TerminalPrompt(group int) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal available to prompt for the brick password (set %s for unattended use)", EnvPassword)
	}

	fmt.Fprintf(os.Stderr, "Password for brick %d: ", group)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}
