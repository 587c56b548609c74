// Package numstream provides a lazy, resumable source of phone numbers.
//
// A Stream wraps a line-oriented file reader with an in-memory push-back
// buffer so that a number pulled by a socket session but not completed (the
// session was cancelled, the proxy pool drained, …) can be returned to the
// front of the queue and retried by the next idle session.
package numstream

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrEmpty is returned by Next when both the push-back buffer and the
// underlying file are exhausted, or the stream has been closed.
var ErrEmpty = errors.New("numstream: empty")

// Stream is safe for concurrent use by many socket sessions.
type Stream struct {
	mu sync.Mutex

	scanner  *bufio.Scanner
	pushBack []string // LIFO: index 0 is "next out"
	closed   bool
	fileDone bool
}

// New wraps r as a number stream. r is read lazily, one line at a time, the
// first time the push-back buffer can't satisfy Next.
func New(r io.Reader) *Stream {
	return &Stream{scanner: bufio.NewScanner(r)}
}

// Next drains the push-back buffer first (most recent push-back first), then
// reads the next non-blank line from the file. It fails with ErrEmpty once
// both are exhausted or the stream is closed.
func (s *Stream) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pushBack) > 0 {
		n := s.pushBack[0]
		s.pushBack = s.pushBack[1:]
		return n, nil
	}
	if s.closed || s.fileDone {
		return "", ErrEmpty
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		return line, nil
	}
	s.fileDone = true
	return "", ErrEmpty
}

// PushBack returns a number to the front of the push-back buffer so a
// subsequent Next call re-tries it before consuming anything new.
func (s *Stream) PushBack(n string) {
	if n == "" {
		return
	}
	s.mu.Lock()
	s.pushBack = append([]string{n}, s.pushBack...)
	s.mu.Unlock()
}

// Close is idempotent; subsequent Next calls fail with ErrEmpty.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Empty reports whether both the push-back buffer and the file are drained.
// Used by the task executor to distinguish a clean finish from a premature
// stop when the event loop exits.
func (s *Stream) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pushBack) == 0 && (s.closed || s.fileDone)
}
