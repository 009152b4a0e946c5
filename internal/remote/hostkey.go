package remote

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyVerifier decides whether a remote host identity is acceptable.
// It is invoked synchronously before any session use.
type HostKeyVerifier interface {
	Verify(hostname string, remote net.Addr, key ssh.PublicKey) error
}

// knownHostsVerifier checks host identities against a local known-hosts
// file. By default it fails closed on an unknown host; with pinUnknown set
// it pins the identity on first use instead. A pinned identity that later
// changes is always a fatal security error.
type knownHostsVerifier struct {
	path       string
	pinUnknown bool
}

// NewVerifier creates the host identity verifier backed by path.
// trustNewHost enables pin-on-first-use for hosts not yet cached.
func NewVerifier(path string, trustNewHost bool) HostKeyVerifier {
	return &knownHostsVerifier{path: path, pinUnknown: trustNewHost}
}

// Verify implements HostKeyVerifier
func (v *knownHostsVerifier) Verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	if err := v.ensureFile(); err != nil {
		return err
	}

	check, err := knownhosts.New(v.path)
	if err != nil {
		return fmt.Errorf("failed to read known hosts file %s: %w", v.path, err)
	}

	err = check(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}

	if len(keyErr.Want) > 0 {
		// identity changed since it was pinned; never silently accept
		return &ConnectionError{
			Target: hostname,
			Reason: fmt.Sprintf("host identity does not match the one pinned in %s; if the brick was reimaged, remove its entry and reconnect", v.path),
			Err:    err,
		}
	}

	if !v.pinUnknown {
		return &ConnectionError{
			Target: hostname,
			Reason: fmt.Sprintf("unknown host identity; re-run with --trust-new-host to pin it on first use (%s)", v.path),
			Err:    err,
		}
	}

	return v.pin(hostname, remote, key)
}

// ensureFile creates an empty known-hosts file on first use
func (v *knownHostsVerifier) ensureFile() error {
	if err := os.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(v.path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known hosts file: %w", err)
	}
	return f.Close()
}

// pin appends the host identity so later mismatches are detectable
func (v *knownHostsVerifier) pin(hostname string, remote net.Addr, key ssh.PublicKey) error {
	addresses := []string{knownhosts.Normalize(hostname)}
	if remote != nil && remote.String() != hostname {
		addresses = append(addresses, knownhosts.Normalize(remote.String()))
	}
	line := knownhosts.Line(addresses, key)

	f, err := os.OpenFile(v.path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known hosts file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("failed to pin host identity: %w", err)
	}
	return nil
}
