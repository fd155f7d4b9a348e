package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/tutur/pkg/adapters/speech"
	"github.com/harunnryd/tutur/pkg/audio"
	"github.com/harunnryd/tutur/pkg/credential"
	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/providers/mock"
	"github.com/harunnryd/tutur/pkg/results"
)

type credsFunc func(ctx context.Context) (credential.Credential, error)

func (f credsFunc) GetCredential(ctx context.Context) (credential.Credential, error) { return f(ctx) }

func okCreds() Credentials {
	return credsFunc(func(context.Context) (credential.Credential, error) {
		return credential.Credential{Token: "tok", Region: "westus", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
}

func recognizerFactory(recs ...speech.Recognizer) speech.RecognizerFactory {
	var mu sync.Mutex
	return func(ctx context.Context, cred credential.Credential) (speech.Recognizer, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(recs) == 0 {
			return nil, errors.New("no recognizer scripted")
		}
		r := recs[0]
		recs = recs[1:]
		return r, nil
	}
}

func synthesizerFactory(s speech.Synthesizer) speech.SynthesizerFactory {
	return func(ctx context.Context, cred credential.Credential) (speech.Synthesizer, error) {
		return s, nil
	}
}

type harness struct {
	c    *Coordinator
	sink *results.Sink
	obs  *metrics.MemoryObserver
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	if opts.Credentials == nil {
		opts.Credentials = okCreds()
	}
	sink := results.NewSink(results.RetainLatest)
	obs := metrics.NewMemoryObserver()
	opts.Sink = sink
	opts.Observer = obs
	c, err := NewCoordinator(opts)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		sink.Close()
	})
	return &harness{c: c, sink: sink, obs: obs}
}

func waitState(t *testing.T, c *Coordinator, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected state %s, still %s", want, c.State())
}

func sessionID(t *testing.T, c *Coordinator) string {
	t.Helper()
	s, ok := c.Session()
	if !ok {
		t.Fatalf("expected a live session")
	}
	return s.ID
}

func collect(c *Coordinator) <-chan results.Event {
	ch := make(chan results.Event, 64)
	c.Subscribe(func(ev results.Event) { ch <- ev })
	return ch
}

func take(t *testing.T, ch <-chan results.Event, n int) []results.Event {
	t.Helper()
	out := make([]results.Event, 0, n)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d events, got %d", n, len(out))
		}
	}
	return out
}

func idleRecognizer(cfg mock.RecognizerConfig) *mock.Recognizer {
	if cfg.Script == nil {
		cfg.Script = []speech.Event{}
	}
	return mock.NewRecognizer(cfg)
}

func TestRecognitionPartialsThenFinal(t *testing.T) {
	rec := mock.NewRecognizer(mock.RecognizerConfig{Script: []speech.Event{
		speech.Partial("hel"),
		speech.Partial("hello"),
		speech.Final("hello"),
	}})
	h := newHarness(t, Options{Recognizers: recognizerFactory(rec)})
	events := collect(h.c)

	var mu sync.Mutex
	var seen []State
	h.c.AddListener(ListenerFunc(func(ch StateChange) {
		mu.Lock()
		seen = append(seen, ch.ToState)
		mu.Unlock()
	}))

	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("start: %v", err)
	}
	id := sessionID(t, h.c)

	got := take(t, events, 3)
	for i, want := range []struct {
		kind results.Kind
		text string
	}{{results.KindPartial, "hel"}, {results.KindPartial, "hello"}, {results.KindFinal, "hello"}} {
		if got[i].Kind != want.kind || got[i].Text != want.text || got[i].SessionID != id {
			t.Fatalf("event %d: expected %s %q, got %+v", i, want.kind, want.text, got[i])
		}
		if i > 0 && got[i].Time.Before(got[i-1].Time) {
			t.Fatalf("event %d went back in time", i)
		}
	}

	waitState(t, h.c, StateIdle)
	if _, ok := h.c.Session(); ok {
		t.Fatalf("expected session cleared after completion")
	}
	retained := h.sink.Events(id)
	if len(retained) != 1 || retained[0].Kind != results.KindFinal || h.sink.Text(id) != "hello" {
		t.Fatalf("expected only final hello retained, got %+v", retained)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateStarting, StateActive, StateStopping, StateIdle}
	if len(seen) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, seen)
		}
	}
	if n := len(h.obs.Named(metrics.EventSessionState)); n != 4 {
		t.Fatalf("expected 4 state metrics, got %d", n)
	}
	if calls := rec.Calls(); calls[0] != "start" || calls[len(calls)-1] != "stop" {
		t.Fatalf("expected engine started then stopped, got %v", calls)
	}
}

func TestSynthesisCancellationThenReset(t *testing.T) {
	syn, err := mock.NewSynthesizer(mock.SynthesizerConfig{FailReason: "NetworkError"}, audio.NewPlayer(nil))
	if err != nil {
		t.Fatalf("synthesizer: %v", err)
	}
	h := newHarness(t, Options{Synthesizers: synthesizerFactory(syn)})
	events := collect(h.c)

	if err := h.c.Start(Request{Mode: ModeSynthesis, Text: "Test"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateError)

	ev := take(t, events, 1)[0]
	if ev.Kind != results.KindError || ev.Text != "NetworkError" {
		t.Fatalf("expected error event with vendor reason, got %+v", ev)
	}
	s, _ := h.c.Session()
	var ee *errorsx.EngineError
	if !errors.As(s.Err, &ee) || ee.Reason != "NetworkError" {
		t.Fatalf("expected EngineError NetworkError, got %v", s.Err)
	}

	var ise *errorsx.InvalidStateError
	if err := h.c.Pause(); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError on pause in error, got %v", err)
	}
	if h.c.State() != StateError {
		t.Fatalf("expected state unchanged")
	}
	if err := h.c.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if h.c.State() != StateIdle {
		t.Fatalf("expected idle after reset, got %s", h.c.State())
	}
}

func TestStopTwiceFromActive(t *testing.T) {
	rec := idleRecognizer(mock.RecognizerConfig{})
	h := newHarness(t, Options{Recognizers: recognizerFactory(rec)})

	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateActive)

	if err := h.c.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	waitState(t, h.c, StateIdle)
	if err := h.c.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}
	stops := 0
	for _, call := range rec.Calls() {
		if call == "stop" {
			stops++
		}
	}
	if stops != 1 {
		t.Fatalf("expected engine stopped once, got %d", stops)
	}
}

func TestStartWhileBusyKeepsSession(t *testing.T) {
	h := newHarness(t, Options{Recognizers: recognizerFactory(idleRecognizer(mock.RecognizerConfig{}))})
	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateActive)
	id := sessionID(t, h.c)

	var ise *errorsx.InvalidStateError
	if err := h.c.Start(Request{Mode: ModeRecognition}); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	if sessionID(t, h.c) != id || h.c.State() != StateActive {
		t.Fatalf("expected existing session untouched")
	}
}

func TestMuteIsIdempotentAndOrthogonalToPause(t *testing.T) {
	syn, _ := mock.NewSynthesizer(mock.SynthesizerConfig{Hold: true}, audio.NewPlayer(nil))
	h := newHarness(t, Options{Synthesizers: synthesizerFactory(syn)})
	if err := h.c.Start(Request{Mode: ModeSynthesis, Text: "hello"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateActive)

	for i := 0; i < 2; i++ {
		if err := h.c.Mute(true); err != nil {
			t.Fatalf("mute %d: %v", i, err)
		}
	}
	mutes := 0
	for _, call := range syn.Calls() {
		if call == "mute" {
			mutes++
		}
	}
	if mutes != 1 {
		t.Fatalf("expected one mute side effect, got %d", mutes)
	}

	if err := h.c.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	s, _ := h.c.Session()
	if s.State != StatePaused || !s.Muted {
		t.Fatalf("expected paused and muted, got %+v", s)
	}
	if err := h.c.ToggleMute(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	s, _ = h.c.Session()
	if s.State != StatePaused || s.Muted {
		t.Fatalf("expected paused and unmuted, got %+v", s)
	}
}

func TestPauseWithoutCapabilityIsUnsupported(t *testing.T) {
	rec := mock.Plain(idleRecognizer(mock.RecognizerConfig{}))
	h := newHarness(t, Options{Recognizers: recognizerFactory(rec)})
	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateActive)

	var uo *errorsx.UnsupportedOperationError
	if err := h.c.Pause(); !errors.As(err, &uo) {
		t.Fatalf("expected UnsupportedOperationError, got %v", err)
	}
	if h.c.State() != StateActive {
		t.Fatalf("expected state unchanged, got %s", h.c.State())
	}
}

func TestMuteWithoutCapabilityStillTracksFlag(t *testing.T) {
	syn, _ := mock.NewSynthesizer(mock.SynthesizerConfig{Hold: true}, audio.NewPlayer(nil))
	h := newHarness(t, Options{Synthesizers: synthesizerFactory(mock.PlainSynthesizer(syn))})
	if err := h.c.Start(Request{Mode: ModeSynthesis, Text: "hello"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateActive)
	if err := h.c.Mute(true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if s, _ := h.c.Session(); !s.Muted {
		t.Fatalf("expected muted flag set")
	}
}

func TestSynthesisCompletes(t *testing.T) {
	syn, _ := mock.NewSynthesizer(mock.SynthesizerConfig{Chunks: 2, ChunkSize: 160}, audio.NewPlayer(nil))
	h := newHarness(t, Options{Synthesizers: synthesizerFactory(syn)})
	events := collect(h.c)
	if err := h.c.Start(Request{Mode: ModeSynthesis, Text: "Test"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	ev := take(t, events, 1)[0]
	if ev.Kind != results.KindFinal || ev.Text != "Test" || ev.AudioBytes != 320 {
		t.Fatalf("unexpected completion %+v", ev)
	}
	waitState(t, h.c, StateIdle)
}

func heldSynthesis(t *testing.T, chunks int) (*harness, *audio.Player, *bytes.Buffer, <-chan results.Event) {
	t.Helper()
	out := &bytes.Buffer{}
	player := audio.NewPlayer(out)
	syn, err := mock.NewSynthesizer(mock.SynthesizerConfig{
		Chunks:    chunks,
		ChunkSize: 100,
		Interval:  40 * time.Millisecond,
	}, player)
	if err != nil {
		t.Fatalf("synthesizer: %v", err)
	}
	h := newHarness(t, Options{Synthesizers: synthesizerFactory(syn)})
	events := collect(h.c)
	if err := h.c.Start(Request{Mode: ModeSynthesis, Text: "hello"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateActive)
	return h, player, out, events
}

func TestMuteHoldsSynthesizedAudioUntilUnmute(t *testing.T) {
	h, player, out, events := heldSynthesis(t, 4)
	if err := h.c.Mute(true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	ev := take(t, events, 1)[0]
	if ev.Kind != results.KindFinal || ev.AudioBytes != 400 {
		t.Fatalf("unexpected completion %+v", ev)
	}
	if h.c.State() != StateActive {
		t.Fatalf("expected completion held while muted, got %s", h.c.State())
	}
	if player.Played() != 0 || player.Pending() != 400 {
		t.Fatalf("expected audio held, played=%d pending=%d", player.Played(), player.Pending())
	}

	if err := h.c.Mute(false); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	waitState(t, h.c, StateIdle)
	if out.Len() != 400 {
		t.Fatalf("expected every synthesized byte at the output, got %d", out.Len())
	}
}

func TestPausedSynthesisPlaysAfterResume(t *testing.T) {
	h, player, out, events := heldSynthesis(t, 3)
	if err := h.c.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if ev := take(t, events, 1)[0]; ev.Kind != results.KindFinal {
		t.Fatalf("unexpected completion %+v", ev)
	}
	if h.c.State() != StatePaused {
		t.Fatalf("expected session to stay paused after synthesis finished, got %s", h.c.State())
	}
	if player.Played() != 0 {
		t.Fatalf("expected nothing played while paused, got %d", player.Played())
	}

	if err := h.c.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitState(t, h.c, StateIdle)
	if out.Len() != 300 {
		t.Fatalf("expected every synthesized byte at the output, got %d", out.Len())
	}
}

func TestResumeWhileMutedKeepsCompletionHeld(t *testing.T) {
	h, _, out, events := heldSynthesis(t, 2)
	if err := h.c.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := h.c.Mute(true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	take(t, events, 1)
	if err := h.c.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if h.c.State() != StateActive {
		t.Fatalf("expected completion held while still muted, got %s", h.c.State())
	}
	if err := h.c.ToggleMute(); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	waitState(t, h.c, StateIdle)
	if out.Len() != 200 {
		t.Fatalf("expected every synthesized byte at the output, got %d", out.Len())
	}
}

func TestStopDiscardsHeldAudio(t *testing.T) {
	h, player, out, events := heldSynthesis(t, 2)
	if err := h.c.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	take(t, events, 1)
	if err := h.c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitState(t, h.c, StateIdle)
	if out.Len() != 0 || player.Pending() != 0 {
		t.Fatalf("expected held audio discarded on stop, out=%d pending=%d", out.Len(), player.Pending())
	}
}

func TestSynthesisRequiresText(t *testing.T) {
	syn, _ := mock.NewSynthesizer(mock.SynthesizerConfig{}, audio.NewPlayer(nil))
	h := newHarness(t, Options{Synthesizers: synthesizerFactory(syn)})
	if err := h.c.Start(Request{Mode: ModeSynthesis}); err == nil {
		t.Fatalf("expected error for empty text")
	}
	var uo *errorsx.UnsupportedOperationError
	if err := h.c.Start(Request{Mode: ModeRecognition}); !errors.As(err, &uo) {
		t.Fatalf("expected unsupported mode without a recognizer factory, got %v", err)
	}
	if h.c.State() != StateIdle {
		t.Fatalf("expected idle, got %s", h.c.State())
	}
}

func TestCredentialFailureIsReportedOnce(t *testing.T) {
	fail := true
	var mu sync.Mutex
	creds := credsFunc(func(context.Context) (credential.Credential, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return credential.Credential{}, &errorsx.AuthError{Op: "fetch", Err: errors.New("connection refused")}
		}
		return credential.Credential{Token: "tok", Region: "r", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
	rec := idleRecognizer(mock.RecognizerConfig{})
	h := newHarness(t, Options{Credentials: creds, Recognizers: recognizerFactory(rec)})
	events := collect(h.c)

	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateError)
	ev := take(t, events, 1)[0]
	if ev.Kind != results.KindError || errorsx.Reason(ev.Err) != errorsx.ReasonAuthFetch {
		t.Fatalf("expected auth error event, got %+v", ev)
	}
	if len(rec.Calls()) != 0 {
		t.Fatalf("engine must not be touched without a credential")
	}

	mu.Lock()
	fail = false
	mu.Unlock()
	if err := h.c.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitState(t, h.c, StateActive)
}

func TestEngineStartFailure(t *testing.T) {
	rec := idleRecognizer(mock.RecognizerConfig{StartErr: errors.New("microphone busy")})
	h := newHarness(t, Options{Recognizers: recognizerFactory(rec)})
	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateError)
	s, _ := h.c.Session()
	if errorsx.Reason(s.Err) != errorsx.ReasonEngineStart {
		t.Fatalf("expected engine_start reason, got %v", s.Err)
	}
}

func TestStreamClosedWithoutFinalIsAnError(t *testing.T) {
	rec := idleRecognizer(mock.RecognizerConfig{})
	h := newHarness(t, Options{Recognizers: recognizerFactory(rec)})
	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateActive)
	rec.CloseResults()
	waitState(t, h.c, StateError)
	s, _ := h.c.Session()
	var ee *errorsx.EngineError
	if !errors.As(s.Err, &ee) || ee.Reason != "stream closed" {
		t.Fatalf("expected stream closed engine error, got %v", s.Err)
	}
}

func TestStartTimeout(t *testing.T) {
	rec := idleRecognizer(mock.RecognizerConfig{StartDelay: time.Second})
	h := newHarness(t, Options{Recognizers: recognizerFactory(rec), StartTimeout: 30 * time.Millisecond})
	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateError)
	s, _ := h.c.Session()
	var te *errorsx.TimeoutError
	if !errors.As(s.Err, &te) || te.Op != "start" {
		t.Fatalf("expected start TimeoutError, got %v", s.Err)
	}
}

func TestStopTimeout(t *testing.T) {
	block := make(chan struct{})
	rec := idleRecognizer(mock.RecognizerConfig{StopBlock: block})
	h := newHarness(t, Options{Recognizers: recognizerFactory(rec), StopTimeout: 30 * time.Millisecond})
	t.Cleanup(func() { close(block) })

	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, h.c, StateActive)
	if err := h.c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitState(t, h.c, StateError)
	s, _ := h.c.Session()
	var te *errorsx.TimeoutError
	if !errors.As(s.Err, &te) || te.Op != "stop" {
		t.Fatalf("expected stop TimeoutError, got %v", s.Err)
	}
}

func TestStopWhileStartingAbandonsLateEngine(t *testing.T) {
	slow := idleRecognizer(mock.RecognizerConfig{StartDelay: 100 * time.Millisecond})
	fast := idleRecognizer(mock.RecognizerConfig{})
	h := newHarness(t, Options{Recognizers: recognizerFactory(slow, fast)})

	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Wait until the slow engine is being started before cancelling.
	deadline := time.Now().Add(time.Second)
	for len(slow.Calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := h.c.Stop(); err != nil {
		t.Fatalf("stop while starting: %v", err)
	}
	if h.c.State() != StateIdle {
		t.Fatalf("expected idle after stopping a start, got %s", h.c.State())
	}

	if err := h.c.Start(Request{Mode: ModeRecognition}); err != nil {
		t.Fatalf("second start: %v", err)
	}
	waitState(t, h.c, StateActive)
	second := sessionID(t, h.c)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		calls := slow.Calls()
		if len(calls) > 1 && calls[len(calls)-1] == "stop" {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if calls := slow.Calls(); calls[len(calls)-1] != "stop" {
		t.Fatalf("expected abandoned engine stopped, got %v", calls)
	}
	if h.c.State() != StateActive || sessionID(t, h.c) != second {
		t.Fatalf("late completion disturbed the new session")
	}
}
