package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Evaneos/ssh-action/internal/errors"
	"github.com/Evaneos/ssh-action/internal/stats"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// HostReport is the outcome of one host
type HostReport struct {
	Host           string `yaml:"host"`
	Phase          string `yaml:"phase"`
	ExitCode       *int   `yaml:"exit_code,omitempty"`
	Error          string `yaml:"error,omitempty"`
	CleanupWarning string `yaml:"cleanup_warning,omitempty"`
}

// PhaseReport mirrors stats.PhaseStats
type PhaseReport struct {
	Phase     string `yaml:"phase"`
	Succeeded int    `yaml:"succeeded"`
	Failed    int    `yaml:"failed"`
	Duration  string `yaml:"duration"`
}

// Report is the YAML summary of a run
type Report struct {
	Status    string        `yaml:"status"`
	Kind      string        `yaml:"kind,omitempty"`
	Error     string        `yaml:"error,omitempty"`
	StartedAt time.Time     `yaml:"started_at"`
	Duration  string        `yaml:"duration"`
	Script    string        `yaml:"script,omitempty"`
	Hosts     []HostReport  `yaml:"hosts"`
	Phases    []PhaseReport `yaml:"phases,omitempty"`

	index map[string]int
}

// NewReport creates a report listing hosts in input order
func NewReport(hosts []string) *Report {
	r := &Report{
		StartedAt: time.Now().UTC(),
		Hosts:     make([]HostReport, len(hosts)),
		index:     make(map[string]int, len(hosts)),
	}
	for i, host := range hosts {
		r.Hosts[i] = HostReport{Host: host}
		r.index[host] = i
	}
	return r
}

// Reached marks phase as the latest phase entered by every host that has not failed
func (r *Report) Reached(phase string) {
	for i := range r.Hosts {
		if r.Hosts[i].Error == "" {
			r.Hosts[i].Phase = phase
		}
	}
}

// RecordFailures stores the failure of each listed host
func (r *Report) RecordFailures(failures []errors.HostFailure) {
	for _, f := range failures {
		h := r.host(f.Host)
		if h == nil {
			continue
		}
		h.Phase = f.Phase
		if f.ExitCode > 0 {
			code := f.ExitCode
			h.ExitCode = &code
		}
		if f.Err != nil {
			h.Error = f.Err.Error()
		}
	}
}

// RecordExitCode stores the exit status of a host whose script ran
func (r *Report) RecordExitCode(host string, code int) {
	if h := r.host(host); h != nil {
		h.ExitCode = &code
	}
}

// RecordCleanup stores cleanup failures as warnings
func (r *Report) RecordCleanup(failures []errors.HostFailure) {
	for _, f := range failures {
		if h := r.host(f.Host); h != nil && f.Err != nil {
			h.CleanupWarning = f.Err.Error()
		}
	}
}

// Finish sets the verdict from the run error and copies phase counters
func (r *Report) Finish(err error, s stats.Statistics) {
	r.Duration = time.Since(r.StartedAt).Round(time.Millisecond).String()
	r.Status = StatusSuccess
	if err != nil {
		r.Status = StatusFailure
		r.Error = err.Error()
		if kind, ok := errors.KindOf(err); ok {
			r.Kind = kind.String()
		}
	}

	r.Phases = r.Phases[:0]
	for _, p := range s.Phases {
		r.Phases = append(r.Phases, PhaseReport{
			Phase:     p.Phase,
			Succeeded: p.Succeeded,
			Failed:    p.Failed,
			Duration:  p.Duration.Round(time.Millisecond).String(),
		})
	}
}

// Encode writes the report as YAML
func (r *Report) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}

// WriteFile writes the report to path
func (r *Report) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := r.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r *Report) host(name string) *HostReport {
	i, ok := r.index[name]
	if !ok {
		return nil
	}
	return &r.Hosts[i]
}
