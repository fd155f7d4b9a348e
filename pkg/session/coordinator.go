package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/tutur/pkg/adapters/speech"
	"github.com/harunnryd/tutur/pkg/credential"
	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/redact"
	"github.com/harunnryd/tutur/pkg/results"
)

const (
	DefaultStartTimeout = 10 * time.Second
	DefaultStopTimeout  = 5 * time.Second
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("session coordinator closed")

// Credentials is the part of the credential provider the coordinator needs.
type Credentials interface {
	GetCredential(ctx context.Context) (credential.Credential, error)
}

type Options struct {
	Credentials  Credentials
	Recognizers  speech.RecognizerFactory
	Synthesizers speech.SynthesizerFactory
	Sink         *results.Sink
	StartTimeout time.Duration
	StopTimeout  time.Duration
	Observer     metrics.Observer
	Logger       *slog.Logger
}

// live is the loop-owned record of the current session.
type live struct {
	Session
	engine   speech.Engine
	cancel   context.CancelFunc
	timer    *time.Timer
	terminal bool
	lastAt   time.Time
	// finished is set when a synthesis completed while its playback was held.
	finished bool
}

// Coordinator owns exactly one speech session at a time.
//
// All state lives on a single loop goroutine. Public calls enqueue a closure
// and wait only for its validation result; credential fetch, engine start/stop
// and result pumping run on workers that post completions back to the loop,
// tagged with the session id so completions from an older session are ignored.
type Coordinator struct {
	opts   Options
	logger *slog.Logger

	cmds      chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// loop-owned
	state State
	cur   *live

	mu        sync.RWMutex
	snapshot  Session
	hasSess   bool
	listeners []StateListener
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Credentials == nil {
		return nil, errors.New("session: credentials are required")
	}
	if opts.Sink == nil {
		return nil, errors.New("session: result sink is required")
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	c := &Coordinator{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "session"),
		cmds:   make(chan func(), 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	go c.loop()
	return c, nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.State
}

// Session returns a copy of the live session, if any.
func (c *Coordinator) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, c.hasSess
}

// AddListener registers a listener for state change events.
func (c *Coordinator) AddListener(listener StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// Subscribe delivers every result event to fn. The returned func unsubscribes.
func (c *Coordinator) Subscribe(fn func(results.Event)) func() {
	return c.opts.Sink.Subscribe(fn)
}

// Start begins a session. It fails with InvalidStateError unless the
// coordinator is idle; the outcome of starting arrives as state changes
// and result events.
func (c *Coordinator) Start(req Request) error {
	return c.do(func() error {
		if _, ok := next(c.state, triggerStart); !ok {
			return &errorsx.InvalidStateError{Op: "start", State: c.state.String()}
		}
		switch req.Mode {
		case ModeRecognition:
			if c.opts.Recognizers == nil {
				return &errorsx.UnsupportedOperationError{Op: "start", Engine: req.Mode.String()}
			}
		case ModeSynthesis:
			if c.opts.Synthesizers == nil {
				return &errorsx.UnsupportedOperationError{Op: "start", Engine: req.Mode.String()}
			}
			if strings.TrimSpace(req.Text) == "" {
				return fmt.Errorf("session: synthesis requires text")
			}
		default:
			return fmt.Errorf("session: unknown mode %d", req.Mode)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cur := &live{
			Session: Session{ID: uuid.NewString(), Mode: req.Mode, StartedAt: time.Now()},
			cancel:  cancel,
		}
		c.cur = cur
		c.apply(triggerStart, "start requested")
		c.arm(cur, c.opts.StartTimeout, "start")

		c.logger.Info("session_started",
			slog.String("session_id", cur.ID),
			slog.String("mode", req.Mode.String()))
		go c.launch(ctx, cur.ID, req)
		return nil
	})
}

// Pause holds the engine's audio. Engines without the capability report
// UnsupportedOperationError and the state is left as it was.
func (c *Coordinator) Pause() error {
	return c.do(func() error {
		if _, ok := next(c.state, triggerPause); !ok {
			return &errorsx.InvalidStateError{Op: "pause", State: c.state.String()}
		}
		p, ok := c.cur.engine.(speech.Pausable)
		if !ok {
			return c.unsupported("pause")
		}
		if err := p.Pause(); err != nil {
			return &errorsx.EngineError{Engine: c.cur.engine.Name(), Reason: "pause", Err: err}
		}
		c.apply(triggerPause, "pause requested")
		return nil
	})
}

func (c *Coordinator) Resume() error {
	return c.do(func() error {
		if _, ok := next(c.state, triggerResume); !ok {
			return &errorsx.InvalidStateError{Op: "resume", State: c.state.String()}
		}
		p, ok := c.cur.engine.(speech.Pausable)
		if !ok {
			return c.unsupported("resume")
		}
		if err := p.Resume(); err != nil {
			return &errorsx.EngineError{Engine: c.cur.engine.Name(), Reason: "resume", Err: err}
		}
		c.apply(triggerResume, "resume requested")
		c.finishReleased()
		return nil
	})
}

// Mute sets the muted flag. Setting the value it already has is a no-op.
func (c *Coordinator) Mute(muted bool) error {
	return c.do(func() error { return c.setMuted(muted) })
}

// ToggleMute flips the muted flag.
func (c *Coordinator) ToggleMute() error {
	return c.do(func() error {
		if c.cur == nil {
			return &errorsx.InvalidStateError{Op: "mute", State: c.state.String()}
		}
		return c.setMuted(!c.cur.Muted)
	})
}

// Stop ends the session. It is a no-op when idle or already stopping.
func (c *Coordinator) Stop() error {
	return c.do(func() error {
		switch c.state {
		case StateIdle, StateStopping:
			return nil
		}
		if _, ok := next(c.state, triggerStop); !ok {
			return &errorsx.InvalidStateError{Op: "stop", State: c.state.String()}
		}
		c.beginStop(triggerStop, "stop requested")
		return nil
	})
}

// Reset clears a failed session so a new one can start.
func (c *Coordinator) Reset() error {
	return c.do(func() error {
		if _, ok := next(c.state, triggerReset); !ok {
			return &errorsx.InvalidStateError{Op: "reset", State: c.state.String()}
		}
		c.apply(triggerReset, "reset requested")
		c.clear()
		return nil
	})
}

// Close stops any live engine and shuts the loop down.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.done
	return nil
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

func (c *Coordinator) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- func() { reply <- fn() }:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// post hands a worker completion to the loop.
func (c *Coordinator) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

func (c *Coordinator) launch(ctx context.Context, id string, req Request) {
	cred, err := c.opts.Credentials.GetCredential(ctx)
	if err != nil {
		var ae *errorsx.AuthError
		if !errors.As(err, &ae) {
			err = &errorsx.AuthError{Op: "get credential", Err: err}
		}
		c.post(func() { c.onStartFailed(id, err) })
		return
	}

	var engine speech.Engine
	switch req.Mode {
	case ModeRecognition:
		var rec speech.Recognizer
		if rec, err = c.opts.Recognizers(ctx, cred); err == nil {
			engine = rec
			err = rec.Start(ctx)
		}
	case ModeSynthesis:
		var syn speech.Synthesizer
		if syn, err = c.opts.Synthesizers(ctx, cred); err == nil {
			engine = syn
			err = syn.Speak(ctx, req.Text)
		}
	}
	if err != nil {
		name := req.Mode.String()
		if engine != nil {
			name = engine.Name()
			c.stopEngine(id, engine)
		}
		err = &errorsx.EngineError{Engine: name, Reason: err.Error(), Code: errorsx.ReasonEngineStart, Err: err}
		c.post(func() { c.onStartFailed(id, err) })
		return
	}
	c.post(func() { c.onReady(ctx, id, engine) })
}

func (c *Coordinator) onReady(ctx context.Context, id string, engine speech.Engine) {
	if !c.current(id) || c.state != StateStarting {
		c.logger.Debug("stale_engine_ready", slog.String("session_id", id))
		go c.stopEngine(id, engine)
		return
	}
	c.disarm(c.cur)
	c.cur.engine = engine
	c.apply(triggerReady, "engine ready")
	go c.pump(ctx, id, engine.Results())
}

func (c *Coordinator) onStartFailed(id string, err error) {
	if !c.current(id) || c.state != StateStarting {
		c.logger.Debug("stale_start_failure", slog.String("session_id", id), slog.String("error", err.Error()))
		return
	}
	c.fail(err)
}

// pump forwards engine events to the loop until a terminal event, the end of
// the stream, or the session being released.
func (c *Coordinator) pump(ctx context.Context, id string, ch <-chan speech.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				c.post(func() { c.onStreamClosed(id) })
				return
			}
			c.post(func() { c.onEngineEvent(id, ev) })
			if ev.Kind != speech.EventPartial {
				return
			}
		}
	}
}

func (c *Coordinator) onEngineEvent(id string, ev speech.Event) {
	if !c.current(id) || c.cur.terminal {
		return
	}
	switch c.state {
	case StateActive, StatePaused:
	case StateStopping:
		// Results still flush while stopping; cancellations are expected.
		if ev.Kind == speech.EventCanceled {
			return
		}
	default:
		return
	}

	switch ev.Kind {
	case speech.EventPartial:
		c.emit(results.Event{Kind: results.KindPartial, Text: ev.Text, Time: ev.Time})
	case speech.EventFinal:
		c.emit(results.Event{Kind: results.KindFinal, Text: ev.Text, AudioBytes: ev.AudioBytes, Time: ev.Time})
		if c.state == StateStopping {
			return
		}
		if c.playbackHeld() {
			// Stopping would discard the held audio; wait for resume or unmute.
			c.cur.finished = true
			c.logger.Debug("completion_held", slog.String("session_id", c.cur.ID))
			return
		}
		c.beginStop(triggerDone, "completed")
	case speech.EventCanceled:
		c.fail(&errorsx.EngineError{Engine: c.cur.engine.Name(), Reason: ev.Reason})
	}
}

func (c *Coordinator) onStreamClosed(id string) {
	if !c.current(id) {
		return
	}
	if c.state == StateActive || c.state == StatePaused {
		c.fail(&errorsx.EngineError{Engine: c.cur.engine.Name(), Reason: "stream closed"})
	}
}

// beginStop moves to Stopping and stops the engine on a worker.
func (c *Coordinator) beginStop(t trigger, reason string) {
	cur := c.cur
	from := c.state
	c.apply(t, reason)

	if from == StateStarting {
		// Nothing to stop yet; the launch worker stops the engine if one arrives.
		cur.cancel()
		c.onStopped(cur.ID, nil)
		return
	}
	c.arm(cur, c.opts.StopTimeout, "stop")
	engine := cur.engine
	id := cur.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
		defer cancel()
		err := engine.Stop(ctx)
		c.post(func() { c.onStopped(id, err) })
	}()
}

func (c *Coordinator) onStopped(id string, err error) {
	if !c.current(id) || c.state != StateStopping {
		return
	}
	if err != nil {
		c.logger.Warn("engine_stop_error",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
	}
	c.disarm(c.cur)
	c.cur.cancel()
	c.apply(triggerStopped, "engine stopped")
	c.clear()
}

func (c *Coordinator) onTimeout(id, op string) {
	if !c.current(id) {
		return
	}
	if (op == "start" && c.state != StateStarting) || (op == "stop" && c.state != StateStopping) {
		return
	}
	after := c.opts.StartTimeout
	if op == "stop" {
		after = c.opts.StopTimeout
	}
	c.fail(&errorsx.TimeoutError{Op: op, After: after})
}

// fail moves the session to Error, reports err once, and releases the engine.
func (c *Coordinator) fail(err error) {
	cur := c.cur
	trig := triggerFail
	var te *errorsx.TimeoutError
	if c.state == StateStopping || errors.As(err, &te) {
		trig = triggerTimeout
	}
	if _, ok := next(c.state, trig); !ok {
		c.logger.Warn("failure_ignored",
			slog.String("session_id", cur.ID),
			slog.String("state", c.state.String()),
			slog.String("error", err.Error()))
		return
	}
	c.disarm(cur)
	cur.cancel()
	cur.Err = err

	c.logger.Error("session_failed",
		slog.String("session_id", cur.ID),
		slog.String("mode", cur.Mode.String()),
		slog.String("reason", string(errorsx.Reason(err))),
		slog.String("error", err.Error()))

	text := err.Error()
	var ee *errorsx.EngineError
	if errors.As(err, &ee) && ee.Reason != "" {
		text = ee.Reason
	}
	c.emit(results.Event{Kind: results.KindError, Text: text, Err: err})
	c.apply(trig, string(errorsx.Reason(err)))

	if engine := cur.engine; engine != nil {
		cur.engine = nil
		go c.stopEngine(cur.ID, engine)
	}
}

func (c *Coordinator) setMuted(muted bool) error {
	if _, ok := next(c.state, triggerMute); !ok {
		return &errorsx.InvalidStateError{Op: "mute", State: c.state.String()}
	}
	if c.cur.Muted == muted {
		return nil
	}
	if c.cur.Mode == ModeSynthesis {
		if m, ok := c.cur.engine.(speech.Mutable); ok {
			if err := m.SetMuted(muted); err != nil {
				return &errorsx.EngineError{Engine: c.cur.engine.Name(), Reason: "mute", Err: err}
			}
		} else {
			c.logger.Info("engine_not_mutable",
				slog.String("session_id", c.cur.ID),
				slog.String("engine", c.cur.engine.Name()))
		}
	}
	c.cur.Muted = muted
	c.logger.Info("session_muted",
		slog.String("session_id", c.cur.ID),
		slog.Bool("muted", muted))
	c.publish()
	c.finishReleased()
	return nil
}

// playbackHeld reports whether the engine is buffering synthesized audio
// behind a pause or mute gate.
func (c *Coordinator) playbackHeld() bool {
	if c.cur == nil || c.cur.Mode != ModeSynthesis {
		return false
	}
	if c.state == StatePaused {
		return true
	}
	_, mutable := c.cur.engine.(speech.Mutable)
	return c.cur.Muted && mutable
}

// finishReleased completes a synthesis whose Final arrived while playback
// was held, once the held audio has been released.
func (c *Coordinator) finishReleased() {
	if c.cur == nil || !c.cur.finished || c.state != StateActive || c.playbackHeld() {
		return
	}
	c.beginStop(triggerDone, "completed")
}

func (c *Coordinator) unsupported(op string) error {
	err := &errorsx.UnsupportedOperationError{Op: op, Engine: c.cur.engine.Name()}
	c.logger.Warn("unsupported_operation",
		slog.String("session_id", c.cur.ID),
		slog.String("op", op),
		slog.String("engine", c.cur.engine.Name()))
	return err
}

func (c *Coordinator) stopEngine(id string, engine speech.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
	defer cancel()
	if err := engine.Stop(ctx); err != nil {
		c.logger.Warn("engine_release_error",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
	}
}

// emit appends a result for the current session with a non-decreasing timestamp.
func (c *Coordinator) emit(ev results.Event) {
	cur := c.cur
	if cur.terminal {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Time.Before(cur.lastAt) {
		ev.Time = cur.lastAt
	}
	cur.lastAt = ev.Time
	cur.terminal = ev.Kind.Terminal()
	ev.SessionID = cur.ID
	c.opts.Sink.Append(ev)

	if ev.Kind != results.KindPartial {
		c.opts.Observer.RecordEvent(metrics.MetricsEvent{
			Name: metrics.EventSessionResult,
			Time: ev.Time,
			Tags: map[string]string{
				"session_id": cur.ID,
				"mode":       cur.Mode.String(),
				"kind":       string(ev.Kind),
			},
			Fields: map[string]any{
				"text":        redact.Text(ev.Text),
				"audio_bytes": ev.AudioBytes,
			},
		})
	}
}

// apply performs a transition from the table and notifies listeners.
func (c *Coordinator) apply(t trigger, reason string) {
	to, ok := next(c.state, t)
	if !ok {
		// Callers check legality first; reaching here is a programming error.
		c.logger.Error("illegal_transition",
			slog.String("state", c.state.String()),
			slog.String("trigger", string(t)))
		return
	}
	from := c.state
	c.state = to

	change := StateChange{
		FromState: from,
		ToState:   to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	if c.cur != nil {
		change.SessionID = c.cur.ID
		change.Mode = c.cur.Mode
	}
	c.logger.Debug("session_state",
		slog.String("session_id", change.SessionID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason))
	c.opts.Observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventSessionState,
		Time: change.Timestamp,
		Tags: map[string]string{
			"session_id": change.SessionID,
			"mode":       change.Mode.String(),
			"from":       from.String(),
			"to":         to.String(),
		},
		Fields: map[string]any{"reason": reason},
	})

	c.mu.RLock()
	listeners := make([]StateListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()
	for _, l := range listeners {
		l.OnStateChange(change)
	}
	c.publish()
}

// publish refreshes the snapshot read by State and Session.
func (c *Coordinator) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		c.snapshot = Session{State: c.state}
		c.hasSess = false
		return
	}
	c.snapshot = c.cur.Session
	c.snapshot.State = c.state
	c.hasSess = true
}

func (c *Coordinator) clear() {
	c.cur = nil
	c.publish()
}

func (c *Coordinator) current(id string) bool {
	return c.cur != nil && c.cur.ID == id
}

// arm starts the transition timer for op; it replaces any earlier timer.
func (c *Coordinator) arm(cur *live, d time.Duration, op string) {
	c.disarm(cur)
	id := cur.ID
	cur.timer = time.AfterFunc(d, func() {
		c.post(func() { c.onTimeout(id, op) })
	})
}

func (c *Coordinator) disarm(cur *live) {
	if cur != nil && cur.timer != nil {
		cur.timer.Stop()
		cur.timer = nil
	}
}

func (c *Coordinator) shutdown() {
	cur := c.cur
	if cur == nil {
		return
	}
	c.disarm(cur)
	cur.cancel()
	if cur.engine != nil {
		c.stopEngine(cur.ID, cur.engine)
	}
	c.logger.Info("session_closed", slog.String("session_id", cur.ID), slog.String("state", c.state.String()))
}
