package power

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const DefaultSSHUser = "root"

var defaultIdentityFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// RealSSHClient dials a new connection for every command.
//
// Host keys are not verified. Devices are assumed to live on a trusted LAN
// and no host key pinning is configured, so a spoofed host on that network
// could receive the command.
type RealSSHClient struct {
	Timeout time.Duration
	// HomeDir overrides where default identities are looked up.
	HomeDir string
}

func (s *RealSSHClient) Run(ctx context.Context, target SSHTarget, command string) (int, error) {
	auth, cleanup, err := s.authMethods(target.KeyRef)
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrSSHConnect, err)
	}
	defer cleanup()

	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // trusted LAN, see type doc
		Timeout:         s.timeout(),
	}

	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	dialer := net.Dialer{Timeout: s.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return -1, fmt.Errorf("%w: unable to connect to %s: %w", ErrSSHConnect, addr, err)
	}
	// Cancellation closes the connection. Without a context deadline the
	// client timeout bounds the whole exchange instead.
	if _, ok := ctx.Deadline(); !ok {
		_ = conn.SetDeadline(time.Now().Add(s.timeout()))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return -1, fmt.Errorf("%w: ssh handshake with %s: %w", ErrSSHConnect, addr, contextCause(ctx, err))
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("%w: unable to create SSH session: %w", ErrSSHConnect, contextCause(ctx, err))
	}
	defer session.Close()

	if err := session.Start(command); err != nil {
		return -1, fmt.Errorf("%w: unable to start %q: %w", ErrSSHCommand, command, contextCause(ctx, err))
	}

	// The command has been dispatched. Its outcome is not part of the
	// contract: shutdown commands routinely drop the connection.
	err = session.Wait()
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitStatus(), nil
	default:
		return -1, nil
	}
}

func (s *RealSSHClient) timeout() time.Duration {
	if s.Timeout <= 0 {
		return 10 * time.Second
	}
	return s.Timeout
}

func (s *RealSSHClient) authMethods(keyRef string) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}

	if keyRef != "" {
		key, err := os.ReadFile(keyRef)
		if err != nil {
			return nil, noop, fmt.Errorf("unable to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, noop, fmt.Errorf("unable to parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, noop, nil
	}

	var methods []ssh.AuthMethod
	cleanup := noop

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			cleanup = func() { _ = conn.Close() }
		}
	}

	if signers := s.defaultSigners(); len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		cleanup()
		return nil, noop, errors.New("no SSH key configured and no agent or default identity available")
	}
	return methods, cleanup, nil
}

func (s *RealSSHClient) defaultSigners() []ssh.Signer {
	home := s.HomeDir
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return nil
		}
	}

	var signers []ssh.Signer
	for _, name := range defaultIdentityFiles {
		key, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		// Passphrase protected identities are skipped.
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

// contextCause prefers the context error when a failure was caused by the
// connection being closed on cancellation.
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
