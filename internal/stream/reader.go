// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/bytedance/sonic"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// MaxLineSize bounds a single line held in the carry buffer (1MB).
	MaxLineSize = 1024 * 1024

	// readChunkSize is the size of each read from the underlying stream.
	readChunkSize = 4096
)

var dataPrefix = []byte("data: ")

// ErrLineTooLong is returned when a line exceeds MaxLineSize without a newline.
var ErrLineTooLong = errors.New("stream: line exceeds maximum size")

// =============================================================================
// READER
// =============================================================================

// Reader turns a byte stream into an ordered sequence of events.
// It is not safe for concurrent use and cannot be restarted.
type Reader struct {
	src    io.Reader
	buf    []byte
	carry  []byte
	eof    bool
	err    error
	done   bool
	logger *slog.Logger

	// Dropped counts candidate lines that failed to decode.
	Dropped int
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used to report dropped frames.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReader creates a Reader over src.
func NewReader(src io.Reader, opts ...Option) *Reader {
	r := &Reader{
		src:    src,
		buf:    make([]byte, readChunkSize),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the next event. It returns io.EOF once the stream has closed or
// after a Done or Error event was returned. A read failure from the underlying
// stream is returned as-is and ends the sequence.
func (r *Reader) Next() (Event, error) {
	if r.done {
		if r.err != nil {
			return nil, r.err
		}
		return nil, io.EOF
	}

	for {
		if i := bytes.IndexByte(r.carry, '\n'); i >= 0 {
			line := r.carry[:i]
			r.carry = r.carry[i+1:]

			ev, ok := r.decodeLine(line)
			if !ok {
				continue
			}
			if Terminal(ev) {
				r.done = true
			}
			return ev, nil
		}

		if r.eof {
			// An unterminated trailing fragment is not a frame.
			if len(bytes.TrimSpace(r.carry)) > 0 {
				r.logger.Debug("stream closed with partial line", "bytes", len(r.carry))
			}
			r.carry = nil
			r.done = true
			return nil, io.EOF
		}

		if len(r.carry) > MaxLineSize {
			r.fail(ErrLineTooLong)
			return nil, r.err
		}

		if err := r.fill(); err != nil {
			r.fail(err)
			return nil, err
		}
	}
}

// fill performs one read into the carry buffer.
func (r *Reader) fill() error {
	n, err := r.src.Read(r.buf)
	if n > 0 {
		r.carry = append(r.carry, r.buf[:n]...)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.eof = true
			return nil
		}
		return err
	}
	return nil
}

func (r *Reader) fail(err error) {
	r.err = err
	r.done = true
	r.carry = nil
}

// decodeLine parses one complete line. Non-frames and malformed frames
// report ok=false.
func (r *Reader) decodeLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	payload := line[len(dataPrefix):]

	var f frame
	if err := sonic.Unmarshal(payload, &f); err != nil {
		r.Dropped++
		r.logger.Debug("dropping malformed frame", "error", err, "bytes", len(payload))
		return nil, false
	}
	ev, ok := f.toEvent()
	if !ok {
		r.Dropped++
		r.logger.Debug("dropping frame with unknown type", "type", f.Type)
		return nil, false
	}
	return ev, true
}

// =============================================================================
// PUSH HELPER
// =============================================================================

// Drain reads events until the sequence ends and calls fn for each one in
// order. It stops early when ctx is cancelled. A clean end of stream returns nil.
func (r *Reader) Drain(ctx context.Context, fn func(Event)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(ev)
	}
}
