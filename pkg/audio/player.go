package audio

import (
	"errors"
	"io"
	"sync"
)

// ErrPlayerClosed is returned by Write after Close.
var ErrPlayerClosed = errors.New("audio player closed")

// Player is the speaker destination for synthesized audio.
//
// Two independent gates sit in front of the writer, pause and mute. Either one
// holds audio in a buffer; the buffer drains only once both are open.
type Player struct {
	mu       sync.Mutex
	w        io.Writer
	paused   bool
	muted    bool
	closed   bool
	pending  [][]byte
	received int64
	played   int64
}

func NewPlayer(w io.Writer) *Player {
	if w == nil {
		w = io.Discard
	}
	return &Player{w: w}
}

// Write accepts a chunk of audio for playback.
func (p *Player) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPlayerClosed
	}
	p.received += int64(len(b))
	if p.held() {
		p.pending = append(p.pending, append([]byte(nil), b...))
		return len(b), nil
	}
	if err := p.emit(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *Player) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume releases buffered audio unless the player is still muted.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	if p.held() {
		return nil
	}
	return p.drain()
}

// SetMuted closes or opens the mute gate. Unmuting a player that is not
// paused releases the buffered audio.
func (p *Player) SetMuted(muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
	if p.held() {
		return nil
	}
	return p.drain()
}

// Pending is the number of buffered bytes waiting for both gates to open.
func (p *Player) Pending() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int64
	for _, chunk := range p.pending {
		n += int64(len(chunk))
	}
	return n
}

func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Discard drops buffered audio and clears both gates, readying the player
// for the next session.
func (p *Player) Discard() {
	p.mu.Lock()
	p.pending = nil
	p.paused = false
	p.muted = false
	p.mu.Unlock()
}

// Received is the total number of bytes handed to the player.
func (p *Player) Received() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.received
}

// Played is the number of bytes that reached the writer.
func (p *Player) Played() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

// Close flushes anything still buffered and closes the writer when it is an
// io.Closer. Audio held by the mute gate is dropped.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.paused = false
	var err error
	if p.muted {
		p.pending = nil
	} else {
		err = p.drain()
	}
	p.closed = true
	if c, ok := p.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (p *Player) drain() error {
	for len(p.pending) > 0 {
		chunk := p.pending[0]
		p.pending = p.pending[1:]
		if err := p.emit(chunk); err != nil {
			return err
		}
	}
	p.pending = nil
	return nil
}

func (p *Player) held() bool { return p.paused || p.muted }

// emit writes one chunk; caller holds mu.
func (p *Player) emit(b []byte) error {
	n, err := p.w.Write(b)
	p.played += int64(n)
	return err
}
