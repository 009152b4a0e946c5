package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/dpmlab/brickctl/internal/config"
	"github.com/dpmlab/brickctl/internal/credentials"
)

// Connector establishes authenticated sessions with a brick. On an
// authentication failure it invalidates the cached secret and retries with
// a fresh prompt exactly once; all other failures are reported immediately.
type Connector struct {
	Settings    *config.Settings
	Credentials *credentials.Store
	Verifier    HostKeyVerifier

	// dial is swappable for tests
	dial func(target Target, secret string) (*ssh.Client, error)
}

// NewConnector creates a connector for the given settings
func NewConnector(settings *config.Settings, creds *credentials.Store, verifier HostKeyVerifier) *Connector {
	c := &Connector{Settings: settings, Credentials: creds, Verifier: verifier}
	c.dial = c.dialSSH
	return c
}

// Connect establishes a session with the brick of a group
func (c *Connector) Connect(group int) (*Session, error) {
	target := NewTarget(c.Settings, group)

	secret, err := c.Credentials.Secret(group)
	if err != nil {
		return nil, &ConnectionError{Target: target.String(), Reason: err.Error(), Err: err}
	}

	client, err := c.dial(target, secret)
	if err == nil {
		return newSession(client, target), nil
	}
	if !isAuthError(err) {
		return nil, classifyDialError(target, err)
	}

	// single credential re-prompt, then the failure is fatal
	log.Debug("authentication failed, re-prompting", "target", target.String())
	if err := c.Credentials.Invalidate(group); err != nil {
		return nil, &ConnectionError{Target: target.String(), Reason: err.Error(), Err: err}
	}
	secret, err = c.Credentials.Secret(group)
	if err != nil {
		return nil, &ConnectionError{Target: target.String(), Reason: err.Error(), Err: err}
	}

	client, err = c.dial(target, secret)
	if err != nil {
		if isAuthError(err) {
			return nil, &ConnectionError{
				Target: target.String(),
				Reason: "password rejected twice; verify the brick password and try again",
				Err:    err,
			}
		}
		return nil, classifyDialError(target, err)
	}
	return newSession(client, target), nil
}

// dialSSH performs a bounded connect and SSH handshake
func (c *Connector) dialSSH(target Target, secret string) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.Password(secret)},
		HostKeyCallback: c.Verifier.Verify,
		Timeout:         c.Settings.ConnectTimeout,
	}

	conn, err := net.DialTimeout("tcp", target.Addr(), c.Settings.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, target.Addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// isAuthError reports whether a handshake failure was an authentication
// rejection rather than a transport or identity problem
func isAuthError(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		// host identity errors surface through the handshake too
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "permission denied")
}

// classifyDialError wraps a non-auth dial failure into the catalogue
func classifyDialError(target Target, err error) error {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectionError{
			Target: target.String(),
			Reason: fmt.Sprintf("timed out; check that the brick is powered on and reachable at %s", target.Addr()),
			Err:    ErrConnectTimeout,
		}
	}

	return &ConnectionError{
		Target: target.String(),
		Reason: fmt.Sprintf("%v; check that the brick is powered on and on the same network as this computer", err),
		Err:    err,
	}
}

// Session is a handle to an established connection. It is owned by a single
// invocation and released on every exit path.
type Session struct {
	client *ssh.Client
	target Target

	mu     sync.Mutex
	closed bool
}

func newSession(client *ssh.Client, target Target) *Session {
	return &Session{client: client, target: target}
}

// Target returns the remote target this session is connected to
func (s *Session) Target() Target {
	return s.target
}

// Alive reports whether the session is still usable
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close releases the session. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// SFTP opens a file-transfer subsystem on the session
func (s *Session) SFTP() (*sftp.Client, error) {
	return sftp.NewClient(s.client)
}

// Run implements Runner
func (s *Session) Run(ctx context.Context, cmd string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, runErr := sess.CombinedOutput(cmd)
		done <- result{out, runErr}
	}()

	select {
	case r := <-done:
		return string(r.out), r.err
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		sess.Close()
		return "", timeoutErr(ctx)
	}
}

// Stream implements Runner
func (s *Session) Stream(ctx context.Context, cmd string, stdout, stderr io.Writer) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	if stdout != nil {
		sess.Stdout = stdout
	}
	if stderr != nil {
		sess.Stderr = stderr
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(cmd)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		sess.Close()
		return timeoutErr(ctx)
	}
}

// timeoutErr maps context expiry onto the catalogued timeout error
func timeoutErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrCommandTimeout
	}
	return ctx.Err()
}
