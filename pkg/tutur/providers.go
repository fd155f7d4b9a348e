package tutur

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/tutur/pkg/adapters/speech"
	"github.com/harunnryd/tutur/pkg/audio"
	"github.com/harunnryd/tutur/pkg/configutil"
	"github.com/harunnryd/tutur/pkg/credential"
	"github.com/harunnryd/tutur/pkg/providers/deepgram"
	"github.com/harunnryd/tutur/pkg/providers/elevenlabs"
	"github.com/harunnryd/tutur/pkg/providers/mock"
)

type deepgramSettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	Language          string `mapstructure:"language"`
	SampleRate        int    `mapstructure:"sample_rate"`
	Encoding          string `mapstructure:"encoding"`
	Interim           *bool  `mapstructure:"interim"`
	UtteranceEndMS    *int   `mapstructure:"utterance_end_ms"`
	EndOfAudioGraceMS *int   `mapstructure:"end_of_audio_grace_ms"`
}

type elevenlabsSettings struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
}

type mockRecognizerSettings struct {
	Transcript        string `mapstructure:"transcript"`
	InterimTranscript string `mapstructure:"interim_transcript"`
	EmitInterim       *bool  `mapstructure:"emit_interim"`
	IntervalMS        int    `mapstructure:"interval_ms"`
}

type mockSynthesizerSettings struct {
	Chunks     int    `mapstructure:"chunks"`
	ChunkSize  int    `mapstructure:"chunk_size"`
	IntervalMS int    `mapstructure:"interval_ms"`
	FailReason string `mapstructure:"fail_reason"`
}

// RegisterDefaultProviders installs the deepgram, elevenlabs and mock engines.
func RegisterDefaultProviders(reg *ProviderRegistry) {
	reg.RegisterRecognizer("deepgram", func(cfg Config, open SourceOpener) (speech.RecognizerFactory, error) {
		if err := validateSettings("vendors.recognition.settings", cfg.Vendors.Recognition.Settings, configutil.Schema{
			Optional: []string{"api_key", "model", "language", "sample_rate", "encoding", "interim", "utterance_end_ms", "end_of_audio_grace_ms"},
		}); err != nil {
			return nil, err
		}
		var settings deepgramSettings
		if err := configutil.DecodeSettings(cfg.Vendors.Recognition.Settings, &settings); err != nil {
			return nil, err
		}
		if settings.Model == "" {
			settings.Model = "nova-2"
		}
		if settings.Language == "" {
			settings.Language = "en-US"
		}
		if settings.SampleRate == 0 {
			settings.SampleRate = 16000
		}
		if settings.Encoding == "" {
			settings.Encoding = "linear16"
		}
		if !validDeepgramEncoding(settings.Encoding) {
			return nil, fmt.Errorf("vendors.recognition.settings.encoding must be one of [linear16, mulaw], got %s", settings.Encoding)
		}
		utteranceEnd := configutil.IntValue(settings.UtteranceEndMS, 1000)
		if utteranceEnd < 0 || utteranceEnd > 5000 {
			return nil, fmt.Errorf("vendors.recognition.settings.utterance_end_ms must be between 0 and 5000, got %d", utteranceEnd)
		}
		grace := configutil.DurationMS(settings.EndOfAudioGraceMS, 2*time.Second)
		if grace <= 0 {
			return nil, fmt.Errorf("vendors.recognition.settings.end_of_audio_grace_ms must be positive")
		}
		dgCfg := deepgram.Config{
			APIKey:          settings.APIKey,
			Model:           settings.Model,
			Language:        settings.Language,
			SampleRate:      settings.SampleRate,
			Encoding:        settings.Encoding,
			Interim:         configutil.BoolValue(settings.Interim, true),
			UtteranceEndMS:  utteranceEnd,
			EndOfAudioGrace: grace,
		}
		if open == nil {
			return nil, fmt.Errorf("deepgram recognizer requires an audio source")
		}
		return func(ctx context.Context, cred credential.Credential) (speech.Recognizer, error) {
			src, err := open()
			if err != nil {
				return nil, fmt.Errorf("open audio source: %w", err)
			}
			return deepgram.New(dgCfg, cred.Token, cred.Region, src), nil
		}, nil
	})

	reg.RegisterRecognizer("mock", func(cfg Config, open SourceOpener) (speech.RecognizerFactory, error) {
		if err := validateSettings("vendors.recognition.settings", cfg.Vendors.Recognition.Settings, configutil.Schema{
			Optional: []string{"transcript", "interim_transcript", "emit_interim", "interval_ms"},
		}); err != nil {
			return nil, err
		}
		var settings mockRecognizerSettings
		if err := configutil.DecodeSettings(cfg.Vendors.Recognition.Settings, &settings); err != nil {
			return nil, err
		}
		mockCfg := mock.RecognizerConfig{
			Transcript:        settings.Transcript,
			InterimTranscript: settings.InterimTranscript,
			EmitInterim:       configutil.BoolValue(settings.EmitInterim, true),
			Interval:          ms(settings.IntervalMS),
		}
		return func(ctx context.Context, cred credential.Credential) (speech.Recognizer, error) {
			return mock.NewRecognizer(mockCfg), nil
		}, nil
	})

	reg.RegisterSynthesizer("elevenlabs", func(cfg Config, player *audio.Player) (speech.SynthesizerFactory, error) {
		if err := validateSettings("vendors.synthesis.settings", cfg.Vendors.Synthesis.Settings, configutil.Schema{
			Required: []string{"voice_id"},
			Optional: []string{"api_key", "base_url", "model_id", "output_format"},
		}); err != nil {
			return nil, err
		}
		var settings elevenlabsSettings
		if err := configutil.DecodeSettings(cfg.Vendors.Synthesis.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.VoiceID, "vendors.synthesis.settings.voice_id"); err != nil {
			return nil, err
		}
		if settings.ModelID == "" {
			settings.ModelID = "eleven_flash_v2_5"
		}
		if settings.OutputFormat == "" {
			settings.OutputFormat = "pcm_16000"
		}
		elCfg := elevenlabs.Config{
			APIKey:       settings.APIKey,
			BaseURL:      settings.BaseURL,
			VoiceID:      settings.VoiceID,
			ModelID:      settings.ModelID,
			OutputFormat: settings.OutputFormat,
		}
		return func(ctx context.Context, cred credential.Credential) (speech.Synthesizer, error) {
			return elevenlabs.New(elCfg, cred.Token, player)
		}, nil
	})

	reg.RegisterSynthesizer("mock", func(cfg Config, player *audio.Player) (speech.SynthesizerFactory, error) {
		if err := validateSettings("vendors.synthesis.settings", cfg.Vendors.Synthesis.Settings, configutil.Schema{
			Optional: []string{"chunks", "chunk_size", "interval_ms", "fail_reason"},
		}); err != nil {
			return nil, err
		}
		var settings mockSynthesizerSettings
		if err := configutil.DecodeSettings(cfg.Vendors.Synthesis.Settings, &settings); err != nil {
			return nil, err
		}
		mockCfg := mock.SynthesizerConfig{
			Chunks:     settings.Chunks,
			ChunkSize:  settings.ChunkSize,
			Interval:   ms(settings.IntervalMS),
			FailReason: settings.FailReason,
		}
		return func(ctx context.Context, cred credential.Credential) (speech.Synthesizer, error) {
			return mock.NewSynthesizer(mockCfg, player)
		}, nil
	})
}

func validateSettings(path string, input map[string]any, schema configutil.Schema) error {
	if err := configutil.ValidateSettings(input, schema); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func validDeepgramEncoding(enc string) bool {
	switch enc {
	case "linear16", "mulaw":
		return true
	}
	return false
}
