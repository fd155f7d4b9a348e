package mock

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/tutur/pkg/adapters/speech"
)

type RecognizerConfig struct {
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	// Script replaces the transcript-derived events when set.
	Script     []speech.Event
	Interval   time.Duration
	StartDelay time.Duration
	StartErr   error
	// StopBlock, when set, holds Stop until closed regardless of the context,
	// like a vendor that never acknowledges the close.
	StopBlock <-chan struct{}
	StopErr   error
}

// Recognizer replays a scripted sequence of events after Start.
// Tests can push further events with Emit.
type Recognizer struct {
	cfg  RecognizerConfig
	out  chan speech.Event
	gate *gate
	rec  *recorder

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	if cfg.Script == nil {
		if cfg.Transcript == "" {
			cfg.Transcript = "mock transcript"
		}
		if cfg.EmitInterim {
			interim := cfg.InterimTranscript
			if interim == "" {
				interim = cfg.Transcript
			}
			cfg.Script = append(cfg.Script, speech.Partial(interim))
		}
		cfg.Script = append(cfg.Script, speech.Final(cfg.Transcript))
	}
	return &Recognizer{
		cfg:  cfg,
		out:  make(chan speech.Event, 64),
		gate: newGate(),
		rec:  &recorder{},
	}
}

func (r *Recognizer) Name() string { return "mock_recognizer" }

func (r *Recognizer) Start(ctx context.Context) error {
	r.rec.add("start")
	if err := sleep(ctx, r.cfg.StartDelay); err != nil {
		return err
	}
	if r.cfg.StartErr != nil {
		return r.cfg.StartErr
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	go r.replay(runCtx)
	return nil
}

func (r *Recognizer) replay(ctx context.Context) {
	for _, ev := range r.cfg.Script {
		if err := sleep(ctx, r.cfg.Interval); err != nil {
			return
		}
		if err := r.gate.wait(ctx); err != nil {
			return
		}
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		r.Emit(ev)
	}
}

// Emit pushes an event onto the result stream. It reports false once stopped.
func (r *Recognizer) Emit(ev speech.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.out <- ev
	return true
}

// CloseResults ends the result stream without a terminal event.
func (r *Recognizer) CloseResults() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.stopped = true
		close(r.out)
	}
}

func (r *Recognizer) Results() <-chan speech.Event { return r.out }

func (r *Recognizer) Pause() error {
	r.rec.add("pause")
	r.gate.close()
	return nil
}

func (r *Recognizer) Resume() error {
	r.rec.add("resume")
	r.gate.open()
	return nil
}

func (r *Recognizer) Stop(_ context.Context) error {
	r.rec.add("stop")
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.stopped = true
	r.mu.Unlock()
	if r.cfg.StopBlock != nil {
		<-r.cfg.StopBlock
	}
	return r.cfg.StopErr
}

// Calls lists the adapter operations invoked so far, in order.
func (r *Recognizer) Calls() []string { return r.rec.list() }

var (
	_ speech.Recognizer = (*Recognizer)(nil)
	_ speech.Pausable   = (*Recognizer)(nil)
)
