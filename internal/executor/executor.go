package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Evaneos/ssh-action/internal/errors"
	"github.com/Evaneos/ssh-action/internal/logging"
	"github.com/Evaneos/ssh-action/internal/stats"
)

// Job runs one phase step on one host. A positive exitCode with a nil error
// records a remote command that exited non-zero.
type Job func(ctx context.Context, index int, host string) (exitCode int, err error)

// Result is the outcome of a Job on one host
type Result struct {
	Host     string
	ExitCode int
	Err      error
	Duration time.Duration
}

// Failed reports whether the host failed the phase
func (r Result) Failed() bool {
	return r.Err != nil || r.ExitCode != 0
}

// Outcome holds the per-host results of one phase, in host order
type Outcome struct {
	Phase   string
	Results []Result
}

// Failures returns the failing hosts in host order
func (o *Outcome) Failures() []errors.HostFailure {
	return o.collect().Failures()
}

// Err aggregates every failing host into a PhaseError of kind, or nil
func (o *Outcome) Err(kind errors.Kind) error {
	return o.collect().Err(kind)
}

func (o *Outcome) collect() *errors.Collector {
	collector := errors.NewCollector(o.Phase)
	for _, r := range o.Results {
		if !r.Failed() {
			continue
		}
		err := r.Err
		if err == nil {
			err = fmt.Errorf("exit status %d", r.ExitCode)
		}
		collector.Add(r.Host, err, r.ExitCode)
	}
	return collector
}

// Pool fans a phase out to every host and waits for all of them
type Pool struct {
	concurrency int // 0 runs one worker per host
	logger      *logging.Logger
	tracker     *stats.Tracker
}

// Option configures a Pool
type Option func(*Pool)

// WithConcurrency caps the number of hosts worked on at once
func WithConcurrency(n int) Option {
	return func(p *Pool) { p.concurrency = n }
}

// WithTracker records every phase outcome in tracker
func WithTracker(tracker *stats.Tracker) Option {
	return func(p *Pool) { p.tracker = tracker }
}

// NewPool creates a pool running one worker per host by default
func NewPool(logger *logging.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = logging.Discard()
	}
	p := &Pool{logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes job on every host and returns once each host has reported.
// A failing host never cancels the others.
func (p *Pool) Run(ctx context.Context, phase string, hosts []string, job Job) *Outcome {
	startTime := time.Now()
	p.logger.LogPhaseStart(phase, len(hosts))

	results := make([]Result, len(hosts))

	var g errgroup.Group
	g.SetLimit(calculateConcurrency(p.concurrency, len(hosts)))
	for i, host := range hosts {
		g.Go(func() error {
			jobStart := time.Now()
			code, err := runJob(ctx, job, i, host)
			results[i] = Result{
				Host:     host,
				ExitCode: code,
				Err:      err,
				Duration: time.Since(jobStart),
			}
			return nil
		})
	}
	_ = g.Wait()

	outcome := &Outcome{Phase: phase, Results: results}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
			p.logger.Debug("host failed phase",
				"host", r.Host,
				"phase", phase,
				"exit_code", r.ExitCode,
				"error", r.Err,
			)
		}
	}
	duration := time.Since(startTime)
	p.logger.LogPhaseComplete(phase, len(hosts), failed, duration)
	if p.tracker != nil {
		p.tracker.RecordPhase(phase, len(hosts), failed, duration)
	}

	return outcome
}

// runJob turns a panicking job into a host failure
func runJob(ctx context.Context, job Job, index int, host string) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			code, err = -1, fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx, index, host)
}

// calculateConcurrency determines the actual concurrency based on configuration and host count
func calculateConcurrency(configConcurrency int, hostCount int) int {
	if hostCount <= 0 {
		return 1
	}
	if configConcurrency <= 0 || configConcurrency > hostCount {
		return hostCount
	}
	return configConcurrency
}
