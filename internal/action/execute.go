package action

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Evaneos/ssh-action/internal/errors"
	"github.com/Evaneos/ssh-action/internal/executor"
	"github.com/Evaneos/ssh-action/internal/fleet"
	"github.com/Evaneos/ssh-action/internal/logging"
	"github.com/Evaneos/ssh-action/internal/output"
)

// ScriptHeader makes the script stop on the first failing command, unset
// variable or failing pipeline stage, and trace each command
const ScriptHeader = "#!/usr/bin/env bash\nset -euxo pipefail\n"

// PrepareScript prefixes commands with ScriptHeader
func PrepareScript(commands string) string {
	script := ScriptHeader + commands
	if !strings.HasSuffix(script, "\n") {
		script += "\n"
	}
	return script
}

// IdentifyCommand writes host into the marker file
func IdentifyCommand(host, marker string) string {
	return fmt.Sprintf("echo %s > %s", shellQuote(host), shellQuote(marker))
}

// RunCommand runs script with every output line prefixed by the host read
// from marker. The script's exit status, not the filter's, is returned: it
// is passed out of the pipeline on fd 4 while the labeled output goes to the
// session stdout, duplicated on fd 3.
func RunCommand(script, marker string) string {
	return fmt.Sprintf(
		`exec 3>&1; status=$( { { %s 2>&1 3>&- 4>&-; echo $? >&4; } | sed "s|^|[$(cat %s)] |" >&3 4>&-; } 4>&1 ); exit "${status:-1}"`,
		shellQuote(script), shellQuote(marker),
	)
}

// RemoveCommand deletes the script and marker of artifact
func RemoveCommand(a *Artifact) string {
	return fmt.Sprintf("rm -f %s %s", shellQuote(a.ScriptPath), shellQuote(a.MarkerPath))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RemoteExecutor runs the distributed script on every host
type RemoteExecutor struct {
	pool   *executor.Pool
	sink   *output.Sink
	logger *logging.Logger
}

// NewRemoteExecutor creates an executor writing labeled output to sink
func NewRemoteExecutor(pool *executor.Pool, sink *output.Sink, logger *logging.Logger) *RemoteExecutor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &RemoteExecutor{pool: pool, sink: sink, logger: logger}
}

// Execute writes each host's marker, then runs the script everywhere and
// waits for every host. The returned outcome holds the run phase results;
// it is nil when the identify phase failed.
func (e *RemoteExecutor) Execute(ctx context.Context, f *fleet.Fleet, a *Artifact) (*executor.Outcome, error) {
	identify := e.pool.Run(ctx, PhaseIdentify, f.Hosts(), func(ctx context.Context, i int, host string) (int, error) {
		session, err := f.Session(i)
		if err != nil {
			return -1, err
		}
		return session.Run(ctx, IdentifyCommand(host, a.MarkerPath), io.Discard, io.Discard)
	})
	if failures := identify.Failures(); len(failures) > 0 {
		for _, failure := range failures {
			e.logger.Error(fmt.Sprintf("Failed to identify %q: %s", failure.Host, failureMessage(failure)),
				"host", failure.Host,
			)
		}
		return nil, errors.NewPhaseError(errors.ExecutionKind, PhaseIdentify, failures)
	}

	command := RunCommand(a.ScriptPath, a.MarkerPath)
	run := e.pool.Run(ctx, PhaseRun, f.Hosts(), func(ctx context.Context, i int, host string) (int, error) {
		session, err := f.Session(i)
		if err != nil {
			return -1, err
		}
		w := e.sink.Writer(host)
		defer w.Close()
		return session.Run(ctx, command, w, w)
	})

	if err := e.sink.Finalize(); err != nil {
		e.logger.Warn("failed to write buffered output", "error", err)
	}

	failures := run.Failures()
	for _, failure := range failures {
		e.logger.Error(fmt.Sprintf("Commands failed on %q: %s", failure.Host, failureMessage(failure)),
			"host", failure.Host,
			"exit_code", failure.ExitCode,
		)
	}
	return run, errors.NewPhaseError(errors.ExecutionKind, PhaseRun, failures)
}
