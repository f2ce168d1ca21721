package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Evaneos/ssh-action/internal/target"
)

// ExpandProxyCommand substitutes the %h, %p, %r and %% tokens of command
func ExpandProxyCommand(command string, t target.Target) string {
	hostName := t.HostName
	if hostName == "" {
		hostName = t.Host
	}

	var b strings.Builder
	for i := 0; i < len(command); i++ {
		c := command[i]
		if c != '%' || i+1 == len(command) {
			b.WriteByte(c)
			continue
		}
		i++
		switch command[i] {
		case 'h':
			b.WriteString(hostName)
		case 'p':
			b.WriteString(strconv.Itoa(t.Port))
		case 'r':
			b.WriteString(t.User)
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(command[i])
		}
	}
	return b.String()
}

// proxyConn carries an SSH connection over the stdio of a local command
type proxyConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	remote net.Addr
}

func dialProxyCommand(ctx context.Context, t target.Target) (net.Conn, error) {
	command := ExpandProxyCommand(t.ProxyCommand, t)

	// The process outlives ctx; Close stops it.
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("proxy command stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("proxy command stdout: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start proxy command: %w", err)
	}

	return &proxyConn{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		// knownhosts only accepts TCP remote addresses
		remote: &net.TCPAddr{IP: net.IPv4zero, Port: t.Port},
	}, nil
}

func (c *proxyConn) Read(b []byte) (int, error)  { return c.stdout.Read(b) }
func (c *proxyConn) Write(b []byte) (int, error) { return c.stdin.Write(b) }

func (c *proxyConn) Close() error {
	c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
	return nil
}

func (c *proxyConn) LocalAddr() net.Addr  { return pipeAddr{} }
func (c *proxyConn) RemoteAddr() net.Addr { return c.remote }

func (c *proxyConn) SetDeadline(time.Time) error      { return nil }
func (c *proxyConn) SetReadDeadline(time.Time) error  { return nil }
func (c *proxyConn) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "proxy-command" }
