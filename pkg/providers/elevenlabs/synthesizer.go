package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/tutur/pkg/adapters/speech"
	"github.com/harunnryd/tutur/pkg/audio"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/redact"
	"github.com/harunnryd/tutur/pkg/resilience"
)

const DefaultBaseURL = "wss://api.elevenlabs.io"

type Config struct {
	// APIKey overrides the session credential when the deployment uses a static key.
	APIKey       string
	BaseURL      string
	VoiceID      string
	ModelID      string
	OutputFormat string
}

// Synthesizer speaks one text over the stream-input websocket and writes the
// returned audio to a player.
type Synthesizer struct {
	cfg    Config
	token  string
	player *audio.Player
	out    chan speech.Event
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	text    string
	stopped bool
	done    bool
	bytes   int64
}

// New builds a synthesizer for one session. The player must already exist.
func New(cfg Config, token string, player *audio.Player) (*Synthesizer, error) {
	if player == nil {
		return nil, errors.New("elevenlabs synthesizer requires an audio player")
	}
	if cfg.APIKey != "" {
		token = cfg.APIKey
	}
	if token == "" || cfg.VoiceID == "" {
		return nil, errors.New("missing elevenlabs config")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Synthesizer{
		cfg:    cfg,
		token:  token,
		player: player,
		out:    make(chan speech.Event, 4),
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_synthesizer"),
	}, nil
}

func (s *Synthesizer) Name() string { return "elevenlabs_stream" }

func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("nothing to speak")
	}
	u, err := s.buildURL()
	if err != nil {
		return err
	}

	s.logger.Debug("connecting to ElevenLabs",
		slog.String("voice_id", s.cfg.VoiceID),
		slog.String("output_format", s.cfg.OutputFormat),
		slog.String("token", redact.Token(s.token)))

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u, http.Header{
		"xi-api-key": []string{s.token},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Error("ElevenLabs rate limit exceeded", slog.String("status", resp.Status))
			return resilience.RateLimitError{Endpoint: "elevenlabs", Message: resp.Status}
		}
		s.logger.Error("failed to connect to ElevenLabs", slog.String("error", err.Error()))
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return errors.New("synthesizer stopped")
	}
	s.conn = conn
	s.text = text
	s.mu.Unlock()

	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	for _, payload := range []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        0.5,
				"similarity_boost": 0.8,
			},
			"generation_config": map[string]any{
				"chunk_length_schedule": []int{120, 160, 250, 290},
			},
		},
		{"text": text, "try_trigger_generation": true},
		// Empty text closes the input stream; the server then flushes and sends isFinal.
		{"text": ""},
	} {
		if err := s.send(payload); err != nil {
			_ = conn.Close()
			return fmt.Errorf("elevenlabs send: %w", err)
		}
	}

	s.logger.Info("connected to ElevenLabs", slog.String("voice_id", s.cfg.VoiceID))
	go s.readLoop(conn)
	return nil
}

func (s *Synthesizer) Results() <-chan speech.Event { return s.out }

// Pause holds playback; synthesis keeps streaming into the player's buffer.
func (s *Synthesizer) Pause() error {
	s.player.Pause()
	return nil
}

func (s *Synthesizer) Resume() error {
	return s.player.Resume()
}

func (s *Synthesizer) SetMuted(muted bool) error {
	return s.player.SetMuted(muted)
}

func (s *Synthesizer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	conn := s.conn
	s.mu.Unlock()

	s.logger.Info("tts stop called")
	// Drop audio still buffered so nothing plays after the session ends.
	s.player.Discard()
	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

func (s *Synthesizer) buildURL() (string, error) {
	base, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("elevenlabs base url: %w", err)
	}
	base.Path += "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	if s.cfg.OutputFormat != "" {
		q.Set("output_format", s.cfg.OutputFormat)
	}
	q.Set("optimize_streaming_latency", "4")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (s *Synthesizer) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			quiet := s.stopped || s.done
			s.mu.Unlock()
			if quiet {
				return
			}
			s.logger.Error("tts read loop error", slog.String("error", err.Error()))
			s.finish(speech.Canceled(err.Error()))
			return
		}
		if s.handleMessage(data) {
			_ = conn.Close()
			return
		}
	}
}

// handleMessage applies one server message and reports whether the stream is finished.
func (s *Synthesizer) handleMessage(data []byte) bool {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("tts websocket raw data", "data", string(data))
		return false
	}
	if reason := errorReason(msg); reason != "" {
		s.logger.Error("tts vendor error", slog.String("reason", reason))
		s.finish(speech.Canceled(reason))
		return true
	}
	if chunk, ok := audioChunk(msg); ok {
		raw, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			s.logger.Error("tts audio decode error", "error", err)
		} else if len(raw) > 0 {
			n, werr := s.player.Write(raw)
			s.mu.Lock()
			s.bytes += int64(n)
			s.mu.Unlock()
			if werr != nil {
				s.finish(speech.Canceled(werr.Error()))
				return true
			}
			s.logger.Debug("tts audio chunk received", slog.Int("size_bytes", len(raw)))
		}
	}
	if final, _ := msg["isFinal"].(bool); final {
		s.mu.Lock()
		ev := speech.Final(s.text)
		ev.AudioBytes = s.bytes
		s.mu.Unlock()
		s.finish(ev)
		return true
	}
	return false
}

func (s *Synthesizer) finish(ev speech.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.stopped {
		return
	}
	s.done = true
	s.out <- ev
}

func (s *Synthesizer) send(payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func audioChunk(msg map[string]any) (string, bool) {
	for _, key := range []string{"audio", "audio_base_64", "audio_base64"} {
		if a, ok := msg[key].(string); ok && a != "" {
			return a, true
		}
	}
	return "", false
}

func errorReason(msg map[string]any) string {
	for _, key := range []string{"error", "message"} {
		switch v := msg[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	return ""
}

var (
	_ speech.Synthesizer = (*Synthesizer)(nil)
	_ speech.Pausable    = (*Synthesizer)(nil)
	_ speech.Mutable     = (*Synthesizer)(nil)
)
