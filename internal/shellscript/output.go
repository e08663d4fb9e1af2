// SPDX-License-Identifier: MPL-2.0

package shellscript

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

type (
	// logWriter turns script output into one log record per line.
	logWriter struct {
		logger *slog.Logger
		level  slog.Level

		mu  sync.Mutex
		buf []byte
	}

	// switchWriter forwards to a target that can be swapped while a
	// command captures the output of its function.
	switchWriter struct {
		mu     sync.Mutex
		target io.Writer
	}
)

func newLogWriter(logger *slog.Logger, level slog.Level) *logWriter {
	return &logWriter{logger: logger, level: level}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing partial line.
func (w *logWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *logWriter) emit(line []byte) {
	w.logger.Log(context.Background(), w.level, string(line))
}

func (w *switchWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.target.Write(p)
}

func (w *switchWriter) swap(target io.Writer) io.Writer {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.target
	w.target = target
	return prev
}
