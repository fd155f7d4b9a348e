package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/tutur/pkg/adapters/speech"
	"github.com/harunnryd/tutur/pkg/audio"
)

type SynthesizerConfig struct {
	Chunks    int
	ChunkSize int
	Interval  time.Duration
	// FailReason makes the engine report a cancellation with this reason.
	FailReason string
	// Hold keeps the session open after the audio is written until Emit or Stop.
	Hold       bool
	StartDelay time.Duration
	SpeakErr   error
	// StopBlock, when set, holds Stop until closed regardless of the context,
	// like a vendor that never acknowledges the close.
	StopBlock <-chan struct{}
	StopErr   error
}

// Synthesizer writes deterministic silent audio to a player and reports a
// single terminal event.
type Synthesizer struct {
	cfg    SynthesizerConfig
	player *audio.Player
	out    chan speech.Event
	rec    *recorder

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	done    bool
}

func NewSynthesizer(cfg SynthesizerConfig, player *audio.Player) (*Synthesizer, error) {
	if player == nil {
		return nil, errors.New("mock synthesizer requires an audio player")
	}
	if cfg.Chunks == 0 {
		cfg.Chunks = 1
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 320
	}
	return &Synthesizer{
		cfg:    cfg,
		player: player,
		out:    make(chan speech.Event, 4),
		rec:    &recorder{},
	}, nil
}

func (s *Synthesizer) Name() string { return "mock_synthesizer" }

func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	s.rec.add("speak")
	if err := sleep(ctx, s.cfg.StartDelay); err != nil {
		return err
	}
	if s.cfg.SpeakErr != nil {
		return s.cfg.SpeakErr
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.play(runCtx, text)
	return nil
}

func (s *Synthesizer) play(ctx context.Context, text string) {
	pcm := make([]byte, s.cfg.ChunkSize)
	var written int64
	for i := 0; i < s.cfg.Chunks; i++ {
		if err := sleep(ctx, s.cfg.Interval); err != nil {
			return
		}
		n, err := s.player.Write(pcm)
		written += int64(n)
		if err != nil {
			s.Emit(speech.Canceled(err.Error()))
			return
		}
	}
	if s.cfg.Hold {
		return
	}
	if s.cfg.FailReason != "" {
		s.Emit(speech.Canceled(s.cfg.FailReason))
		return
	}
	ev := speech.Final(text)
	ev.AudioBytes = written
	s.Emit(ev)
}

// Emit delivers a terminal event. Only the first terminal event is delivered.
func (s *Synthesizer) Emit(ev speech.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.done {
		return false
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.done = ev.Kind != speech.EventPartial
	s.out <- ev
	return true
}

func (s *Synthesizer) Results() <-chan speech.Event { return s.out }

func (s *Synthesizer) Pause() error {
	s.rec.add("pause")
	s.player.Pause()
	return nil
}

func (s *Synthesizer) Resume() error {
	s.rec.add("resume")
	return s.player.Resume()
}

func (s *Synthesizer) SetMuted(muted bool) error {
	if muted {
		s.rec.add("mute")
	} else {
		s.rec.add("unmute")
	}
	return s.player.SetMuted(muted)
}

func (s *Synthesizer) Stop(_ context.Context) error {
	s.rec.add("stop")
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.stopped = true
	s.mu.Unlock()
	s.player.Discard()
	if s.cfg.StopBlock != nil {
		<-s.cfg.StopBlock
	}
	return s.cfg.StopErr
}

func (s *Synthesizer) Calls() []string { return s.rec.list() }

var (
	_ speech.Synthesizer = (*Synthesizer)(nil)
	_ speech.Pausable    = (*Synthesizer)(nil)
	_ speech.Mutable     = (*Synthesizer)(nil)
)
