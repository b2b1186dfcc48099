package sink

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/taskrelay/taskrelay-go/contracts"
)

// FileSink appends records to a local JSONL file. Each record is issued as a
// single write of "<json>\n"; with O_APPEND that is atomic for line-sized
// writes, so readers never observe a torn record.
type FileSink struct {
	path       string
	bestEffort bool
	logger     *slog.Logger
	mu         sync.Mutex
	file       *os.File
}

// FileOption configures the FileSink.
type FileOption func(*FileSink)

// WithBestEffort enables the legacy fire-and-forget mode: write failures are
// logged and swallowed instead of surfacing as transient SinkErrors. Records
// can be silently lost in this mode; it exists only for parity with the
// original consumer.
func WithBestEffort(enabled bool) FileOption {
	return func(s *FileSink) {
		s.bestEffort = enabled
	}
}

// WithFileLogger sets the logger.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(s *FileSink) {
		s.logger = logger
	}
}

// NewFileSink opens (creating if needed) the append-only record file.
func NewFileSink(path string, options ...FileOption) (*FileSink, error) {
	s := &FileSink{
		path:   path,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &contracts.SinkError{Path: path, Op: "open", Err: err}
	}
	s.file = f

	return s, nil
}

// Write implements Sink.
func (s *FileSink) Write(ctx context.Context, rec Record) error {
	line, err := MarshalRecord(rec)
	if err != nil {
		return s.fail("marshal", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	// Single syscall per record. A short write leaves the file torn, so it
	// is reported even in best-effort mode logging.
	if _, err := s.file.Write(line); err != nil {
		return s.fail("write", err)
	}

	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func (s *FileSink) fail(op string, err error) error {
	if s.bestEffort {
		s.logger.Error("sink write failed, record dropped",
			"path", s.path,
			"op", op,
			"error", err,
		)
		return nil
	}
	return &contracts.SinkError{Path: s.path, Op: op, Err: err}
}
