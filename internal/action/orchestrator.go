package action

import (
	"context"
	"io"
	"os"
	"os/user"

	"github.com/Evaneos/ssh-action/internal/config"
	"github.com/Evaneos/ssh-action/internal/errors"
	"github.com/Evaneos/ssh-action/internal/executor"
	"github.com/Evaneos/ssh-action/internal/fleet"
	"github.com/Evaneos/ssh-action/internal/localfs"
	"github.com/Evaneos/ssh-action/internal/logging"
	"github.com/Evaneos/ssh-action/internal/output"
	"github.com/Evaneos/ssh-action/internal/ssh"
	"github.com/Evaneos/ssh-action/internal/sshconfig"
	"github.com/Evaneos/ssh-action/internal/stats"
	"github.com/Evaneos/ssh-action/internal/target"
)

// Orchestrator runs one invocation end to end
type Orchestrator struct {
	inputs   config.Inputs
	logger   *logging.Logger
	dialer   ssh.Dialer
	resolver target.Resolver
	stdout   io.Writer
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithDialer replaces the SSH dialer built from the credential inputs
func WithDialer(d ssh.Dialer) Option {
	return func(o *Orchestrator) { o.dialer = d }
}

// WithResolver replaces the system DNS resolver
func WithResolver(r target.Resolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithStdout sets where remote output and statistics are written
func WithStdout(w io.Writer) Option {
	return func(o *Orchestrator) { o.stdout = w }
}

// NewOrchestrator creates an orchestrator for inputs
func NewOrchestrator(inputs config.Inputs, logger *logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	o := &Orchestrator{
		inputs: inputs,
		logger: logger,
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run resolves the configuration, prepares local files, connects to every
// host, probes them, distributes and runs the script, and always cleans up
// once distribution started. The returned error carries the fatal kind.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	cfg, err := config.Resolve(o.inputs, o.logger)
	if err != nil {
		return err
	}
	mode, err := output.ParseMode(o.inputs.Output)
	if err != nil {
		return errors.NewValidationError(`"output" input is invalid: %v`, err)
	}

	paths := localfs.NewPaths(o.inputs.Home, o.inputs.WorkDir)
	err = localfs.Prepare(paths, localfs.Files{
		Script:     PrepareScript(cfg.Commands()),
		PrivateKey: cfg.PrivateKey(),
		KnownHosts: cfg.KnownHosts(),
		SSHConfig:  sshconfig.Text(cfg),
	})
	if err != nil {
		return err
	}
	o.logger.LogConfigLoad(paths.SSHConfig)

	settings, err := sshconfig.LoadFile(paths.SSHConfig, o.inputs.Home)
	if err != nil {
		o.logger.LogConfigError(paths.SSHConfig, err)
		return errors.NewValidationError(`"ssh_config" input is invalid: %v`, err)
	}
	fallbackUser := cfg.User()
	if fallbackUser == "" {
		fallbackUser = localUser()
	}
	targets, err := settings.Targets(cfg.Hostnames(), fallbackUser)
	if err != nil {
		return errors.NewValidationError("%v", err)
	}

	if err := target.CheckResolvable(ctx, o.resolver, targets); err != nil {
		return err
	}

	dialer := o.dialer
	if dialer == nil {
		auth, err := ssh.NewAuth([]byte(cfg.PrivateKey()), cfg.Password())
		if err != nil {
			return errors.NewValidationError(`"private_key" input is invalid: %v`, err)
		}
		dialer = ssh.NewDialer(auth, o.logger)
	}

	tracker := stats.NewTracker(len(targets), o.stdout, o.inputs.StatsEnabled())
	pool := executor.NewPool(o.logger, executor.WithTracker(tracker))
	report := output.NewReport(cfg.Hostnames())
	defer func() { o.finish(report, tracker, err) }()

	report.Reached(fleet.PhaseConnect)
	f := fleet.New(ctx, targets, dialer, pool, o.logger)
	defer f.Close()

	report.Reached(PhaseProbe)
	if err := NewProbe(pool, o.logger).Check(ctx, f); err != nil {
		recordPhaseError(report, err)
		return err
	}

	report.Reached(PhaseDistribute)
	artifact, err := NewDistributor(pool, o.logger, tracker).Distribute(ctx, f, paths.Commands)
	if artifact != nil {
		report.Script = artifact.ScriptPath
		defer func() {
			report.Reached(PhaseCleanup)
			report.RecordCleanup(NewCleanup(pool, o.logger).Remove(ctx, f, artifact))
		}()
	}
	if err != nil {
		recordPhaseError(report, err)
		return err
	}

	report.Reached(PhaseRun)
	sink := output.NewSink(mode, o.stdout)
	outcome, err := NewRemoteExecutor(pool, sink, o.logger).Execute(ctx, f, artifact)
	if outcome != nil {
		for _, r := range outcome.Results {
			if r.Err == nil {
				report.RecordExitCode(r.Host, r.ExitCode)
			}
		}
	}
	if err != nil {
		recordPhaseError(report, err)
		return err
	}

	o.logger.Info("Commands completed successfully", "hosts", len(targets))
	return nil
}

func (o *Orchestrator) finish(report *output.Report, tracker *stats.Tracker, runErr error) {
	report.Finish(runErr, tracker.GetStatistics())
	if o.inputs.ReportFile != "" {
		if err := report.WriteFile(o.inputs.ReportFile); err != nil {
			o.logger.Warn("failed to write report", "path", o.inputs.ReportFile, "error", err)
		}
	}
	tracker.DisplaySummary()
}

func recordPhaseError(report *output.Report, err error) {
	var phaseErr *errors.PhaseError
	if errors.As(err, &phaseErr) {
		report.RecordFailures(phaseErr.Failures)
	}
}

func localUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
