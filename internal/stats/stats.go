// Package stats tracks per-phase host counts of an ssh-action run.
package stats

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// PhaseStats holds the counters of one completed phase
type PhaseStats struct {
	Phase     string
	Hosts     int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Statistics holds the counters of a whole run
type Statistics struct {
	StartTime        time.Time
	TotalHosts       int
	Phases           []PhaseStats
	BytesTransferred int64
}

// Tracker records phase results as they complete
type Tracker struct {
	mu      sync.RWMutex
	stats   Statistics
	writer  io.Writer
	enabled bool
}

// NewTracker creates a tracker; the summary is printed to writer only when enabled
func NewTracker(totalHosts int, writer io.Writer, enabled bool) *Tracker {
	return &Tracker{
		stats: Statistics{
			StartTime:  time.Now(),
			TotalHosts: totalHosts,
		},
		writer:  writer,
		enabled: enabled,
	}
}

// RecordPhase records the outcome of a phase that ran on hosts hosts
func (t *Tracker) RecordPhase(phase string, hosts, failed int, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Phases = append(t.stats.Phases, PhaseStats{
		Phase:     phase,
		Hosts:     hosts,
		Succeeded: hosts - failed,
		Failed:    failed,
		Duration:  duration,
	})
}

// AddBytes adds n to the uploaded byte count
func (t *Tracker) AddBytes(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.BytesTransferred += n
}

// GetStatistics returns a copy of the current statistics
func (t *Tracker) GetStatistics() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.stats
	s.Phases = append([]PhaseStats(nil), t.stats.Phases...)
	return s
}

// Phase returns the counters of the named phase, if it ran
func (t *Tracker) Phase(name string) (PhaseStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, p := range t.stats.Phases {
		if p.Phase == name {
			return p, true
		}
	}
	return PhaseStats{}, false
}

// DisplaySummary writes the final statistics when the tracker is enabled
func (t *Tracker) DisplaySummary() {
	if !t.enabled || t.writer == nil {
		return
	}
	s := t.GetStatistics()
	elapsed := time.Since(s.StartTime)

	fmt.Fprintf(t.writer, "Final Statistics:\n")
	fmt.Fprintf(t.writer, "   Total Hosts: %d\n", s.TotalHosts)
	for _, p := range s.Phases {
		fmt.Fprintf(t.writer, "   %-10s ok %d, failed %d (%v)\n",
			p.Phase+":", p.Succeeded, p.Failed, p.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(t.writer, "   Data Transferred: %s\n", formatBytes(s.BytesTransferred))
	fmt.Fprintf(t.writer, "   Execution Time: %v\n", elapsed.Round(time.Second))
}

// formatBytes formats byte count in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
