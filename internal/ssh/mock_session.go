package ssh

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Evaneos/ssh-action/internal/target"
)

var (
	_ Session = (*MockSession)(nil)
	_ Dialer  = (*MockDialer)(nil)
	_ Session = (*SSHClient)(nil)
	_ Dialer  = (*SSHDialer)(nil)
)

// MockResult is the scripted outcome of a command run on a MockSession
type MockResult struct {
	Stdout   string
	ExitCode int
	Err      error
	DelayMs  int
}

type mockRule struct {
	match  string
	result MockResult
}

// MockSession is an in-memory Session for tests. Commands without a matching
// rule succeed silently.
type MockSession struct {
	mu        sync.Mutex
	rules     []mockRule
	commands  []string
	files     map[string][]byte
	modes     map[string]os.FileMode
	uploadErr error
	chmodErr  error
	closed    bool
}

// NewMockSession creates an empty mock session
func NewMockSession() *MockSession {
	return &MockSession{
		files: make(map[string][]byte),
		modes: make(map[string]os.FileMode),
	}
}

// Set scripts the result of every command containing match; the first matching rule wins
func (m *MockSession) Set(match string, res MockResult) {
	m.mu.Lock()
	m.rules = append(m.rules, mockRule{match: match, result: res})
	m.mu.Unlock()
}

// FailUpload makes Upload return err
func (m *MockSession) FailUpload(err error) {
	m.mu.Lock()
	m.uploadErr = err
	m.mu.Unlock()
}

// FailChmod makes Chmod return err
func (m *MockSession) FailChmod(err error) {
	m.mu.Lock()
	m.chmodErr = err
	m.mu.Unlock()
}

func (m *MockSession) Run(ctx context.Context, command string, stdout, _ io.Writer) (int, error) {
	m.mu.Lock()
	m.commands = append(m.commands, command)
	var res MockResult
	for _, rule := range m.rules {
		if strings.Contains(command, rule.match) {
			res = rule.result
			break
		}
	}
	m.mu.Unlock()

	if res.DelayMs > 0 {
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(time.Duration(res.DelayMs) * time.Millisecond):
		}
	}
	if res.Stdout != "" && stdout != nil {
		_, _ = io.WriteString(stdout, res.Stdout)
	}
	return res.ExitCode, res.Err
}

func (m *MockSession) Upload(_ context.Context, src io.Reader, remotePath string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, src); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.files[remotePath] = buf.Bytes()
	return nil
}

func (m *MockSession) Chmod(_ context.Context, remotePath string, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chmodErr != nil {
		return m.chmodErr
	}
	m.modes[remotePath] = mode
	return nil
}

func (m *MockSession) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Commands returns every command run so far, in call order
func (m *MockSession) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// File returns the uploaded content of remotePath
func (m *MockSession) File(remotePath string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[remotePath]
	return b, ok
}

// Mode returns the mode last set on remotePath
func (m *MockSession) Mode(remotePath string) (os.FileMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[remotePath]
	return mode, ok
}

// Uploads returns the number of files uploaded
func (m *MockSession) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// Closed reports whether Close was called
func (m *MockSession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockDialer hands out one MockSession per host
type MockDialer struct {
	mu       sync.Mutex
	sessions map[string]*MockSession
	errs     map[string]error
	dialed   []string
}

// NewMockDialer creates a dialer where every host connects
func NewMockDialer() *MockDialer {
	return &MockDialer{
		sessions: make(map[string]*MockSession),
		errs:     make(map[string]error),
	}
}

// Session returns the session handed out for host, creating it if needed
func (d *MockDialer) Session(host string) *MockSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session(host)
}

func (d *MockDialer) session(host string) *MockSession {
	s, ok := d.sessions[host]
	if !ok {
		s = NewMockSession()
		d.sessions[host] = s
	}
	return s
}

// Fail makes dialing host return err
func (d *MockDialer) Fail(host string, err error) {
	d.mu.Lock()
	d.errs[host] = err
	d.mu.Unlock()
}

// Dialed returns the hosts dialed so far
func (d *MockDialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

func (d *MockDialer) Dial(_ context.Context, t target.Target) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, t.Host)
	if err := d.errs[t.Host]; err != nil {
		return nil, err
	}
	return d.session(t.Host), nil
}
