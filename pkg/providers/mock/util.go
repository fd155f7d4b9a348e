package mock

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/tutur/pkg/adapters/speech"
)

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// gate blocks replay while paused.
type gate struct {
	mu   sync.Mutex
	ch   chan struct{}
	shut bool
}

func newGate() *gate {
	ch := make(chan struct{})
	close(ch)
	return &gate{ch: ch}
}

func (g *gate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.shut {
		g.shut = true
		g.ch = make(chan struct{})
	}
}

func (g *gate) open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shut {
		g.shut = false
		close(g.ch)
	}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type plainRecognizer struct{ speech.Recognizer }

type plainSynthesizer struct{ speech.Synthesizer }

// Plain hides the optional Pausable and Mutable capabilities of an engine.
func Plain(r speech.Recognizer) speech.Recognizer { return plainRecognizer{r} }

// PlainSynthesizer hides the optional Pausable and Mutable capabilities of a synthesizer.
func PlainSynthesizer(s speech.Synthesizer) speech.Synthesizer { return plainSynthesizer{s} }
