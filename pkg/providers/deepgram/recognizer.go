package deepgram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/tutur/pkg/adapters/speech"
	"github.com/harunnryd/tutur/pkg/audio"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/redact"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	// APIKey overrides the session credential when the deployment uses a static key.
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	Interim        bool
	UtteranceEndMS int
	// EndOfAudioGrace is how long to wait for a final after the source is exhausted.
	EndOfAudioGrace time.Duration
}

// Recognizer streams an audio source to Deepgram's live endpoint and reports
// one utterance: partial transcripts followed by a single final.
type Recognizer struct {
	cfg    Config
	token  string
	region string
	source *audio.Source

	dgClient *client.WSCallback
	out      chan speech.Event
	utter    *assembler
	logger   *slog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	stopped    bool
	quit       chan struct{}
	metaLogged bool
}

// New builds a recognizer bound to one session's credential and source.
func New(cfg Config, token, region string, source *audio.Source) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.EndOfAudioGrace <= 0 {
		cfg.EndOfAudioGrace = 2 * time.Second
	}
	if cfg.APIKey != "" {
		token = cfg.APIKey
	}
	return &Recognizer{
		cfg:    cfg,
		token:  token,
		region: region,
		source: source,
		out:    make(chan speech.Event, 256),
		utter:  &assembler{},
		quit:   make(chan struct{}),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_recognizer"),
	}
}

func (r *Recognizer) Name() string { return "deepgram_live" }

func (r *Recognizer) Start(ctx context.Context) error {
	if r.source == nil {
		return errors.New("deepgram recognizer requires an audio source")
	}
	if r.token == "" {
		return errors.New("deepgram recognizer requires a credential")
	}
	// The websocket outlives the Start call, so it gets its own context.
	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		InterimResults: r.cfg.Interim,
		VadEvents:      true,
		SmartFormat:    true,
	}
	if r.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", r.cfg.UtteranceEndMS)
	}

	r.logger.Info("initializing deepgram connection",
		slog.String("source", r.source.Name()),
		slog.String("model", r.cfg.Model),
		slog.String("region", r.region),
		slog.String("token", redact.Token(r.token)),
		slog.Int("sample_rate", r.cfg.SampleRate))

	dgClient, err := client.NewWSUsingCallback(runCtx, r.token, clientOptions, transcriptOptions, &callback{parent: r})
	if err != nil {
		cancel()
		r.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return err
	}

	connected := make(chan bool, 1)
	go func() { connected <- dgClient.Connect() }()
	select {
	case ok := <-connected:
		if !ok {
			cancel()
			r.logger.Error("deepgram_connect_failed")
			return fmt.Errorf("deepgram connection failed")
		}
	case <-ctx.Done():
		cancel()
		dgClient.Stop()
		return ctx.Err()
	}

	r.mu.Lock()
	r.dgClient = dgClient
	r.mu.Unlock()
	r.logger.Info("deepgram_connected", slog.String("model", r.cfg.Model))

	go r.stream(runCtx, dgClient)
	return nil
}

func (r *Recognizer) stream(ctx context.Context, dgClient *client.WSCallback) {
	err := dgClient.Stream(r.source)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		r.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		if ev, ok := r.utter.failure(err.Error()); ok {
			r.emit(ev)
		}
		return
	}
	// Source exhausted: give Deepgram a moment to flush the last transcript.
	t := time.NewTimer(r.cfg.EndOfAudioGrace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	if ev, ok := r.utter.endOfAudio(); ok {
		r.logger.Info("deepgram_end_of_audio", slog.String("source", r.source.Name()))
		r.emit(ev)
	}
}

func (r *Recognizer) Results() <-chan speech.Event { return r.out }

// Pause stops feeding audio; keep-alive holds the socket open meanwhile.
func (r *Recognizer) Pause() error {
	r.source.Pause()
	r.logger.Debug("deepgram_source_paused")
	return nil
}

func (r *Recognizer) Resume() error {
	r.source.Resume()
	r.logger.Debug("deepgram_source_resumed")
	return nil
}

func (r *Recognizer) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.quit)
	cancel := r.cancel
	dgClient := r.dgClient
	r.mu.Unlock()

	r.logger.Info("closing deepgram connection")
	if cancel != nil {
		cancel()
	}
	if r.source != nil {
		_ = r.source.Close()
	}
	if dgClient == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		dgClient.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emit drops partials when the consumer lags; final and canceled events wait
// for room until Stop.
func (r *Recognizer) emit(ev speech.Event) {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}
	if ev.Kind == speech.EventPartial {
		select {
		case r.out <- ev:
		default:
			r.logger.Warn("deepgram_out_channel_full", slog.String("kind", string(ev.Kind)))
		}
		return
	}
	select {
	case r.out <- ev:
	case <-r.quit:
	}
}

// --- Callback Implementation ---

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript

	c.parent.logger.Debug("transcript_received",
		slog.String("transcript", redact.Text(transcript)),
		slog.Bool("is_final", mr.IsFinal),
		slog.Bool("speech_final", mr.SpeechFinal))

	if ev, ok := c.parent.utter.transcript(transcript, mr.IsFinal, mr.SpeechFinal); ok {
		c.parent.emit(ev)
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.mu.Lock()
	first := !c.parent.metaLogged
	c.parent.metaLogged = true
	c.parent.mu.Unlock()
	if first {
		c.parent.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event")
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Info("utterance_end_event", slog.Int("utterance_end_ms", c.parent.cfg.UtteranceEndMS))
	if ev, ok := c.parent.utter.utteranceEnd(); ok {
		c.parent.emit(ev)
	}
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	if ev, ok := c.parent.utter.failure("connection closed"); ok {
		c.parent.emit(ev)
	}
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	reason := er.ErrMsg
	if reason == "" {
		reason = er.ErrCode
	}
	if ev, ok := c.parent.utter.failure(reason); ok {
		c.parent.emit(ev)
	}
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.String("data", string(byData)))
	return nil
}

var (
	_ speech.Recognizer = (*Recognizer)(nil)
	_ speech.Pausable   = (*Recognizer)(nil)
)
