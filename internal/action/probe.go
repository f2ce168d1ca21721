// Package action implements the phases of a run: reachability probe,
// distribution, remote execution and cleanup, and the orchestrator that
// sequences them.
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

// Phase names, as they appear in logs and the report
const (
	PhaseProbe      = "probe"
	PhaseDistribute = "distribute"
	PhaseIdentify   = "identify"
	PhaseRun        = "run"
	PhaseCleanup    = "cleanup"
)

const probeCommand = `echo "dry-run"`

// Probe checks that every host accepts a trivial command before anything is changed
type Probe struct {
	pool   *executor.Pool
	logger *logging.Logger
}

// NewProbe creates a reachability probe
func NewProbe(pool *executor.Pool, logger *logging.Logger) *Probe {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Probe{pool: pool, logger: logger}
}

// Check runs the probe on every host. It fails if any host fails, reporting
// each failing host.
func (p *Probe) Check(ctx context.Context, f *fleet.Fleet) error {
	outcome := p.pool.Run(ctx, PhaseProbe, f.Hosts(), func(ctx context.Context, i int, _ string) (int, error) {
		session, err := f.Session(i)
		if err != nil {
			return -1, err
		}
		return session.Run(ctx, probeCommand, io.Discard, io.Discard)
	})

	failures := outcome.Failures()
	for _, failure := range failures {
		p.logger.Error(fmt.Sprintf("Error on %q: %s", failure.Host, failureMessage(failure)),
			"host", failure.Host,
			"cause", errors.Classify(failure).String(),
		)
	}
	return errors.NewPhaseError(errors.ReachabilityKind, PhaseProbe, failures)
}

func failureMessage(f errors.HostFailure) string {
	if f.ExitCode > 0 {
		return fmt.Sprintf("exit status %d", f.ExitCode)
	}
	return f.Err.Error()
}
