package output

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Evaneos/ssh-action/internal/errors"
	"github.com/Evaneos/ssh-action/internal/stats"
)

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, StreamedMode, mode)

	mode, err = ParseMode("buffered")
	require.NoError(t, err)
	assert.Equal(t, BufferedMode, mode)

	_, err = ParseMode("json")
	assert.Error(t, err)
}

func TestSink_NeverMergesPartialLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(StreamedMode, &buf)

	a := sink.Writer("a")
	b := sink.Writer("b")

	_, _ = a.Write([]byte("[a] hel"))
	_, _ = b.Write([]byte("[b] wor"))
	_, _ = a.Write([]byte("lo\n[a] sec"))
	_, _ = b.Write([]byte("ld\n"))
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	assert.Equal(t, "[a] hello\n[b] world\n[a] sec\n", buf.String())
}

func TestSink_ConcurrentHostsKeepWholeLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(StreamedMode, &buf)

	hosts := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			w := sink.Writer(host)
			defer w.Close()
			for i := 0; i < 100; i++ {
				line := fmt.Sprintf("[%s] line %d\n", host, i)
				// split every line in two writes
				_, _ = w.Write([]byte(line[:5]))
				_, _ = w.Write([]byte(line[5:]))
			}
		}(host)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 400)
	for _, line := range lines {
		assert.Regexp(t, `^\[([a-d])\] line \d+$`, line)
	}
}

func TestSink_BufferedWritesHostsInOrder(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(BufferedMode, &buf)

	web2 := sink.Writer("web2")
	web1 := sink.Writer("web1")
	_, _ = web2.Write([]byte("[web2] two\n"))
	_, _ = web1.Write([]byte("[web1] one"))
	require.NoError(t, web1.Close())
	require.NoError(t, web2.Close())

	assert.Empty(t, buf.String())
	require.NoError(t, sink.Finalize())

	assert.Equal(t, "=== web1 ===\n[web1] one\n\n=== web2 ===\n[web2] two\n", buf.String())
}

func TestReport_RecordsOutcome(t *testing.T) {
	report := NewReport([]string{"a", "b", "c"})
	report.Reached("run")
	report.RecordExitCode("a", 0)
	report.RecordFailures([]errors.HostFailure{
		{Host: "b", Phase: "run", Err: fmt.Errorf("exit status 3"), ExitCode: 3},
	})
	report.RecordCleanup([]errors.HostFailure{
		{Host: "c", Phase: "cleanup", Err: fmt.Errorf("permission denied"), ExitCode: -1},
	})
	report.Reached("cleanup")

	tracker := stats.NewTracker(3, nil, false)
	tracker.RecordPhase("run", 3, 1, 0)

	runErr := errors.NewPhaseError(errors.ExecutionKind, "run", []errors.HostFailure{
		{Host: "b", Phase: "run", Err: fmt.Errorf("exit status 3"), ExitCode: 3},
	})
	report.Finish(runErr, tracker.GetStatistics())

	assert.Equal(t, StatusFailure, report.Status)
	assert.Equal(t, "execution", report.Kind)

	b := report.Hosts[1]
	assert.Equal(t, "run", b.Phase)
	require.NotNil(t, b.ExitCode)
	assert.Equal(t, 3, *b.ExitCode)

	assert.Equal(t, "cleanup", report.Hosts[0].Phase)
	assert.Equal(t, "permission denied", report.Hosts[2].CleanupWarning)
	require.Len(t, report.Phases, 1)
}

func TestReport_WriteFile(t *testing.T) {
	report := NewReport([]string{"a"})
	report.Script = "/tmp/abc.sh"
	report.Reached("cleanup")
	report.Finish(nil, stats.Statistics{})

	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, report.WriteFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &decoded))
	assert.Equal(t, "success", decoded["status"])
	assert.Equal(t, "/tmp/abc.sh", decoded["script"])
	hosts, ok := decoded["hosts"].([]any)
	require.True(t, ok)
	assert.Len(t, hosts, 1)
}
