// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/echoninelabs/kite/pkg/compiler"
)

type (
	// Block is everything one compile job reports.
	Block struct {
		JobID       string
		Script      string
		Diagnostics []compiler.Diagnostic
		Succeeded   bool
		CacheHit    bool
		Elapsed     time.Duration
	}

	// DiagnosticSink writes job blocks from a single goroutine so the lines
	// of one job are never interleaved with another job's.
	DiagnosticSink struct {
		logger  *slog.Logger
		observe func(Block)

		mu     sync.RWMutex
		closed bool
		ch     chan Block
		done   chan struct{}
	}
)

// NewDiagnosticSink starts the sink goroutine. observe, when set, is called
// on that goroutine after each block is logged.
func NewDiagnosticSink(logger *slog.Logger, observe func(Block)) *DiagnosticSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &DiagnosticSink{
		logger:  logger,
		observe: observe,
		ch:      make(chan Block, 16),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit queues b. Blocks emitted after Close are logged inline.
func (s *DiagnosticSink) Emit(b Block) {
	s.mu.RLock()
	if !s.closed {
		s.ch <- b
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()
	s.write(b)
}

// Close drains queued blocks and stops the goroutine.
func (s *DiagnosticSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	<-s.done
}

func (s *DiagnosticSink) run() {
	defer close(s.done)
	for b := range s.ch {
		s.write(b)
	}
}

func (s *DiagnosticSink) write(b Block) {
	ctx := context.Background()
	logger := s.logger.With("script", b.Script, "job", b.JobID)
	for _, d := range b.Diagnostics {
		attrs := []any{"severity", d.Severity.String()}
		if d.Code != "" {
			attrs = append(attrs, "code", d.Code)
		}
		if pos := d.Position.String(); pos != "" {
			attrs = append(attrs, "at", pos)
		}
		logger.Log(ctx, severityLevel(d.Severity), d.Message, attrs...)
	}
	switch {
	case !b.Succeeded:
		logger.Error("script failed to load", "diagnostics", len(b.Diagnostics), "elapsed", b.Elapsed)
	case b.CacheHit:
		logger.Info("script loaded from cache", "elapsed", b.Elapsed)
	default:
		logger.Info("script compiled and loaded", "elapsed", b.Elapsed)
	}
	if s.observe != nil {
		s.observe(b)
	}
}

func severityLevel(s compiler.Severity) slog.Level {
	switch s {
	case compiler.SeverityInfo:
		return slog.LevelInfo
	case compiler.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
