package audio

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Source is a pausable audio input. Reads block while the source is paused,
// so an engine streaming from it simply stops receiving audio.
type Source struct {
	mu     sync.Mutex
	cond   *sync.Cond
	r      io.Reader
	name   string
	paused bool
	closed bool
}

func NewSource(name string, r io.Reader) *Source {
	s := &Source{r: r, name: name}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// OpenFile opens a recorded audio file as a source. "-" reads standard input.
func OpenFile(path string) (*Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audio source path is required")
	}
	if path == "-" {
		return NewSource("stdin", io.NopCloser(os.Stdin)), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio source: %w", err)
	}
	return NewSource(path, f), nil
}

func (s *Source) Name() string { return s.name }

func (s *Source) Read(p []byte) (int, error) {
	s.mu.Lock()
	for s.paused && !s.closed {
		s.cond.Wait()
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, io.EOF
	}
	return s.r.Read(p)
}

func (s *Source) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *Source) Resume() {
	s.mu.Lock()
	s.paused = false
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Source) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Close wakes blocked readers and closes the underlying reader when possible.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
