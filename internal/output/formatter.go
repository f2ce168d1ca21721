package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// OutputMode defines how remote output of several hosts is written
type OutputMode string

const (
	// StreamedMode writes each complete line as soon as a host produces it
	StreamedMode OutputMode = "streamed"

	// BufferedMode shows complete output per host, in hostname order, once all hosts finished
	BufferedMode OutputMode = "buffered"
)

// ParseMode validates an output mode name; empty selects StreamedMode
func ParseMode(s string) (OutputMode, error) {
	switch OutputMode(s) {
	case "", StreamedMode:
		return StreamedMode, nil
	case BufferedMode:
		return BufferedMode, nil
	default:
		return "", fmt.Errorf("unknown output mode %q (expected streamed or buffered)", s)
	}
}

// Sink merges the remote output of many hosts into one writer. Only whole
// lines are written, so lines of two hosts never interleave.
type Sink struct {
	mode     OutputMode
	writer   io.Writer
	mu       sync.Mutex
	buffered map[string]*bytes.Buffer
}

// NewSink creates a sink writing to writer (stdout when nil)
func NewSink(mode OutputMode, writer io.Writer) *Sink {
	if writer == nil {
		writer = os.Stdout
	}
	return &Sink{
		mode:     mode,
		writer:   writer,
		buffered: make(map[string]*bytes.Buffer),
	}
}

// Writer returns the line writer of host. Close flushes a trailing partial line.
func (s *Sink) Writer(host string) io.WriteCloser {
	return &hostWriter{sink: s, host: host}
}

func (s *Sink) emit(host string, lines []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == BufferedMode {
		buf, ok := s.buffered[host]
		if !ok {
			buf = &bytes.Buffer{}
			s.buffered[host] = buf
		}
		buf.Write(lines)
		return nil
	}

	if _, err := s.writer.Write(lines); err != nil {
		return fmt.Errorf("failed to write output of %s: %w", host, err)
	}
	return nil
}

// Finalize writes buffered output per host in hostname order
func (s *Sink) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != BufferedMode {
		return nil
	}

	hosts := make([]string, 0, len(s.buffered))
	for host := range s.buffered {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	for i, host := range hosts {
		if i > 0 {
			if _, err := fmt.Fprintln(s.writer); err != nil {
				return fmt.Errorf("failed to write separator: %w", err)
			}
		}
		if _, err := fmt.Fprintf(s.writer, "=== %s ===\n", host); err != nil {
			return fmt.Errorf("failed to write host header: %w", err)
		}
		if _, err := s.writer.Write(s.buffered[host].Bytes()); err != nil {
			return fmt.Errorf("failed to write output of %s: %w", host, err)
		}
	}
	s.buffered = make(map[string]*bytes.Buffer)
	return nil
}

// hostWriter holds back the trailing partial line of one host.
// Safe for the concurrent stdout and stderr copies of one session.
type hostWriter struct {
	sink    *Sink
	host    string
	mu      sync.Mutex
	pending []byte
}

func (w *hostWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	end := bytes.LastIndexByte(w.pending, '\n')
	if end < 0 {
		return len(p), nil
	}

	lines := make([]byte, end+1)
	copy(lines, w.pending[:end+1])
	w.pending = append(w.pending[:0], w.pending[end+1:]...)

	if err := w.sink.emit(w.host, lines); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *hostWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}
	line := append(w.pending, '\n')
	w.pending = nil
	return w.sink.emit(w.host, line)
}
