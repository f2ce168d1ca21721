package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/Evaneos/ssh-action/internal/logging"
	"github.com/Evaneos/ssh-action/internal/target"
)

// ConnectTimeout bounds dialing and the SSH handshake of one host
const ConnectTimeout = 20 * time.Second

// Session defines the operations a run performs on one connected host
type Session interface {
	// Run executes command and returns its exit status. err is non-nil only
	// when the status could not be observed (transport failure, cancellation).
	Run(ctx context.Context, command string, stdout, stderr io.Writer) (int, error)

	// Upload writes src to remotePath, replacing any existing file
	Upload(ctx context.Context, src io.Reader, remotePath string) error

	// Chmod changes the mode of remotePath
	Chmod(ctx context.Context, remotePath string, mode os.FileMode) error

	// Close terminates the connection
	Close() error
}

// Dialer opens sessions to targets
type Dialer interface {
	Dial(ctx context.Context, t target.Target) (Session, error)
}

// SSHDialer implements Dialer using golang.org/x/crypto/ssh
type SSHDialer struct {
	auth    *Auth
	timeout time.Duration
	logger  *logging.Logger
}

// NewDialer creates a dialer sharing one credential across hosts
func NewDialer(auth *Auth, logger *logging.Logger) *SSHDialer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SSHDialer{
		auth:    auth,
		timeout: ConnectTimeout,
		logger:  logger,
	}
}

// Dial connects to t directly or through its ProxyCommand and performs the handshake
func (d *SSHDialer) Dial(ctx context.Context, t target.Target) (Session, error) {
	startTime := time.Now()

	config, err := d.clientConfig(t)
	if err != nil {
		d.logger.LogConnectionError(t.Host, err)
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	address := t.Address()
	var conn net.Conn
	if t.ProxyCommand != "" {
		conn, err = dialProxyCommand(dialCtx, t)
	} else {
		dialer := &net.Dialer{Timeout: d.timeout}
		conn, err = dialer.DialContext(dialCtx, "tcp", address)
	}
	if err != nil {
		err = fmt.Errorf("failed to connect to %s: %w", address, err)
		d.logger.LogConnectionError(t.Host, err)
		return nil, err
	}

	client, err := handshake(dialCtx, conn, address, config)
	if err != nil {
		err = fmt.Errorf("SSH handshake failed for %s: %w", address, err)
		d.logger.LogConnectionError(t.Host, err)
		return nil, err
	}

	d.logger.LogConnection(t.Host, t.Port, time.Since(startTime))
	return &SSHClient{conn: client, target: t}, nil
}

func (d *SSHDialer) clientConfig(t target.Target) (*ssh.ClientConfig, error) {
	hostKeyCallback, err := HostKeyCallback(t)
	if err != nil {
		return nil, err
	}
	if !t.VerifiesHostKeys() {
		d.logger.Debug("host key verification disabled", "host", t.Host)
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            d.auth.Methods(t, d.logger),
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.timeout,
	}, nil
}

// handshake runs the SSH handshake on conn, closing conn when ctx expires first
func handshake(ctx context.Context, conn net.Conn, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{client: ssh.NewClient(sshConn, chans, reqs)}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			conn.Close()
		}
		return r.client, r.err
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
}

// SSHClient implements Session on one SSH connection
type SSHClient struct {
	conn   *ssh.Client
	target target.Target

	sftpOnce sync.Once
	sftp     *sftp.Client
	sftpErr  error
}

// Run executes command in a new session, streaming output to stdout and stderr
func (c *SSHClient) Run(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return -1, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	if err := session.Start(command); err != nil {
		return -1, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return exitStatus(err)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			_ = session.Signal(ssh.SIGKILL)
		}
		return -1, fmt.Errorf("command interrupted: %w", ctx.Err())
	}
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		return exitErr.ExitStatus(), nil
	}
	return -1, fmt.Errorf("SSH execution error: %w", err)
}

func (c *SSHClient) sftpClient() (*sftp.Client, error) {
	c.sftpOnce.Do(func() {
		c.sftp, c.sftpErr = sftp.NewClient(c.conn)
		if c.sftpErr != nil {
			c.sftpErr = fmt.Errorf("failed to start sftp subsystem: %w", c.sftpErr)
		}
	})
	return c.sftp, c.sftpErr
}

// Upload writes src to remotePath over SFTP
func (c *SSHClient) Upload(ctx context.Context, src io.Reader, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.sftpClient()
	if err != nil {
		return err
	}

	f, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", remotePath, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", remotePath, err)
	}
	return nil
}

// Chmod changes the mode of remotePath over SFTP
func (c *SSHClient) Chmod(ctx context.Context, remotePath string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	if err := client.Chmod(remotePath, mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", remotePath, err)
	}
	return nil
}

// Close terminates the SFTP subsystem and the SSH connection
func (c *SSHClient) Close() error {
	if c.sftp != nil {
		_ = c.sftp.Close()
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
