package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Evaneos/ssh-action/internal/target"
)

type testServer struct {
	addr    string
	port    int
	hostKey ssh.PublicKey
}

// startServer runs an in-process SSH server accepting the password "secret".
// run handles exec requests and returns the exit status.
func startServer(t *testing.T, run func(command string, out io.Writer) uint32) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg, run)
		}
	}()

	return &testServer{
		addr:    ln.Addr().String(),
		port:    ln.Addr().(*net.TCPAddr).Port,
		hostKey: signer.PublicKey(),
	}
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig, run func(string, io.Writer) uint32) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests, run)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request, run func(string, io.Writer) uint32) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)

			status := run(payload.Command, ch)
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)

			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = server.Serve()
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func echoRun(command string, out io.Writer) uint32 {
	if strings.HasPrefix(command, "exit ") {
		code, _ := strconv.Atoi(strings.TrimPrefix(command, "exit "))
		return uint32(code)
	}
	fmt.Fprintf(out, "ran: %s\n", command)
	return 0
}

func passwordDialer(t *testing.T, password string) *SSHDialer {
	t.Helper()
	t.Setenv("SSH_AUTH_SOCK", "")
	auth, err := NewAuth(nil, password)
	require.NoError(t, err)
	return NewDialer(auth, nil)
}

func insecureTarget(srv *testServer) target.Target {
	return target.Target{
		Host:                  "web1",
		HostName:              "127.0.0.1",
		User:                  "deploy",
		Port:                  srv.port,
		StrictHostKeyChecking: "no",
	}
}

func TestDial_RunReportsOutputAndExitStatus(t *testing.T) {
	srv := startServer(t, echoRun)
	dialer := passwordDialer(t, "secret")

	session, err := dialer.Dial(context.Background(), insecureTarget(srv))
	require.NoError(t, err)
	defer session.Close()

	var stdout bytes.Buffer
	code, err := session.Run(context.Background(), "uptime", &stdout, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "ran: uptime\n", stdout.String())

	code, err = session.Run(context.Background(), "exit 3", io.Discard, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestDial_RejectedPassword(t *testing.T) {
	srv := startServer(t, echoRun)
	dialer := passwordDialer(t, "wrong")

	_, err := dialer.Dial(context.Background(), insecureTarget(srv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake failed")
}

func TestDial_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	dialer := passwordDialer(t, "secret")
	_, err = dialer.Dial(context.Background(), target.Target{
		Host: "gone", HostName: "127.0.0.1", User: "deploy", Port: port, StrictHostKeyChecking: "no",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestDial_KnownHosts(t *testing.T) {
	srv := startServer(t, echoRun)
	dialer := passwordDialer(t, "secret")
	dir := t.TempDir()

	knownHosts := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, srv.hostKey)
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0o600))

	tgt := insecureTarget(srv)
	tgt.StrictHostKeyChecking = "yes"
	tgt.KnownHostsFiles = []string{knownHosts}

	session, err := dialer.Dial(context.Background(), tgt)
	require.NoError(t, err)
	session.Close()

	_, otherKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherSigner, err := ssh.NewSignerFromKey(otherKey)
	require.NoError(t, err)
	mismatched := filepath.Join(dir, "mismatched")
	line = knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, otherSigner.PublicKey())
	require.NoError(t, os.WriteFile(mismatched, []byte(line+"\n"), 0o600))

	tgt.KnownHostsFiles = []string{mismatched}
	_, err = dialer.Dial(context.Background(), tgt)
	require.Error(t, err)
}

func TestDial_AcceptNewAllowsUnknownHost(t *testing.T) {
	srv := startServer(t, echoRun)
	dialer := passwordDialer(t, "secret")

	empty := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	tgt := insecureTarget(srv)
	tgt.KnownHostsFiles = []string{empty}

	tgt.StrictHostKeyChecking = "yes"
	_, err := dialer.Dial(context.Background(), tgt)
	require.Error(t, err)

	tgt.StrictHostKeyChecking = "accept-new"
	session, err := dialer.Dial(context.Background(), tgt)
	require.NoError(t, err)
	session.Close()
}

func TestHostKeyCallback_RequiresKnownHostsFile(t *testing.T) {
	_, err := HostKeyCallback(target.Target{
		Host:                  "web1",
		StrictHostKeyChecking: "yes",
		KnownHostsFiles:       []string{filepath.Join(t.TempDir(), "missing")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no known hosts file")

	callback, err := HostKeyCallback(target.Target{Host: "web1", StrictHostKeyChecking: "no"})
	require.NoError(t, err)
	assert.NotNil(t, callback)
}

func TestNewAuth_InvalidKey(t *testing.T) {
	_, err := NewAuth([]byte("not a key"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse private key")
}

func TestUploadAndChmod(t *testing.T) {
	srv := startServer(t, echoRun)
	dialer := passwordDialer(t, "secret")

	session, err := dialer.Dial(context.Background(), insecureTarget(srv))
	require.NoError(t, err)
	defer session.Close()

	remote := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, session.Upload(context.Background(), strings.NewReader("#!/usr/bin/env bash\nuptime\n"), remote))
	require.NoError(t, session.Chmod(context.Background(), remote, 0o755))

	content, err := os.ReadFile(remote)
	require.NoError(t, err)
	assert.Equal(t, "#!/usr/bin/env bash\nuptime\n", string(content))

	info, err := os.Stat(remote)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestDial_ThroughProxyCommand(t *testing.T) {
	if _, err := exec.LookPath("nc"); err != nil {
		t.Skip("nc not installed")
	}
	srv := startServer(t, echoRun)
	dialer := passwordDialer(t, "secret")

	tgt := insecureTarget(srv)
	tgt.ProxyCommand = "exec nc %h %p"

	session, err := dialer.Dial(context.Background(), tgt)
	require.NoError(t, err)
	defer session.Close()

	var stdout bytes.Buffer
	code, err := session.Run(context.Background(), "hostname", &stdout, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "ran: hostname\n", stdout.String())
}

func TestExpandProxyCommand(t *testing.T) {
	tgt := target.Target{Host: "web1", HostName: "10.0.0.5", User: "deploy", Port: 2222}

	assert.Equal(t, "nc 10.0.0.5 2222", ExpandProxyCommand("nc %h %p", tgt))
	assert.Equal(t, "ssh -W %h:%p deploy@bastion", ExpandProxyCommand("ssh -W %%h:%%p %r@bastion", tgt))
	assert.Equal(t, "echo %x 100%", ExpandProxyCommand("echo %x 100%", tgt))
}

func TestProxyConn_CarriesStdio(t *testing.T) {
	conn, err := dialProxyCommand(context.Background(), target.Target{Host: "loop", Port: 22, ProxyCommand: "cat"})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	require.True(t, ok)
	assert.Equal(t, 22, addr.Port)
}
