// Package fleet holds one SSH session per host of a run.
package fleet

import (
	"context"
	"fmt"
	"sync"

	"github.com/Evaneos/ssh-action/internal/executor"
	"github.com/Evaneos/ssh-action/internal/logging"
	"github.com/Evaneos/ssh-action/internal/ssh"
	"github.com/Evaneos/ssh-action/internal/target"
)

// PhaseConnect names the construction phase in logs and reports
const PhaseConnect = "connect"

// Member is one host of the fleet. Exactly one of Session and Err is set.
type Member struct {
	Target  target.Target
	Session ssh.Session
	Err     error
}

// Fleet is the ordered set of hosts of a run with their sessions
type Fleet struct {
	members []*Member
	logger  *logging.Logger

	closeOnce sync.Once
}

// New dials every target concurrently. Dial failures are kept per host and
// surface when the host is first used.
func New(ctx context.Context, targets []target.Target, dialer ssh.Dialer, pool *executor.Pool, logger *logging.Logger) *Fleet {
	if logger == nil {
		logger = logging.Discard()
	}
	f := &Fleet{
		members: make([]*Member, len(targets)),
		logger:  logger,
	}

	hosts := make([]string, len(targets))
	for i, t := range targets {
		hosts[i] = t.Host
		f.members[i] = &Member{Target: t}
	}

	pool.Run(ctx, PhaseConnect, hosts, func(ctx context.Context, i int, host string) (int, error) {
		session, err := dialer.Dial(ctx, f.members[i].Target)
		if err != nil {
			f.members[i].Err = err
			return -1, err
		}
		f.members[i].Session = session
		return 0, nil
	})

	return f
}

// Hosts returns the hostnames in input order
func (f *Fleet) Hosts() []string {
	hosts := make([]string, len(f.members))
	for i, m := range f.members {
		hosts[i] = m.Target.Host
	}
	return hosts
}

// Len returns the number of hosts
func (f *Fleet) Len() int {
	return len(f.members)
}

// Member returns the i-th host
func (f *Fleet) Member(i int) *Member {
	return f.members[i]
}

// Session returns the session of the i-th host or its construction error
func (f *Fleet) Session(i int) (ssh.Session, error) {
	m := f.members[i]
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Session == nil {
		return nil, fmt.Errorf("no session for %s", m.Target.Host)
	}
	return m.Session, nil
}

// Close closes every open session; later calls do nothing
func (f *Fleet) Close() {
	f.closeOnce.Do(func() {
		for _, m := range f.members {
			if m.Session == nil {
				continue
			}
			if err := m.Session.Close(); err != nil {
				f.logger.Debug("failed to close session", "host", m.Target.Host, "error", err)
			}
		}
	})
}
