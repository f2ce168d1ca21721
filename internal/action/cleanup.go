package action

import (
	"context"
	"fmt"
	"io"

	"github.com/Evaneos/ssh-action/internal/errors"
	"github.com/Evaneos/ssh-action/internal/executor"
	"github.com/Evaneos/ssh-action/internal/fleet"
	"github.com/Evaneos/ssh-action/internal/logging"
)

// Cleanup removes the artifact of a run from its hosts
type Cleanup struct {
	pool   *executor.Pool
	logger *logging.Logger
}

// NewCleanup creates a cleanup agent
func NewCleanup(pool *executor.Pool, logger *logging.Logger) *Cleanup {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cleanup{pool: pool, logger: logger}
}

// Remove deletes the script and marker on every host of the artifact.
// Failures are warnings only; they are returned for reporting. Cancellation
// of ctx does not stop cleanup.
func (c *Cleanup) Remove(ctx context.Context, f *fleet.Fleet, a *Artifact) []errors.HostFailure {
	ctx = context.WithoutCancel(ctx)

	wanted := make(map[string]bool, len(a.Hosts))
	for _, host := range a.Hosts {
		wanted[host] = true
	}
	command := RemoveCommand(a)

	outcome := c.pool.Run(ctx, PhaseCleanup, f.Hosts(), func(ctx context.Context, i int, host string) (int, error) {
		if !wanted[host] {
			return 0, nil
		}
		session, err := f.Session(i)
		if err != nil {
			return -1, err
		}
		return session.Run(ctx, command, io.Discard, io.Discard)
	})

	failures := outcome.Failures()
	for _, failure := range failures {
		c.logger.Warn(fmt.Sprintf("Failed to clean up %q: %s", failure.Host, failureMessage(failure)),
			"host", failure.Host,
		)
	}
	return failures
}
