package configutil

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type sample struct {
	APIKey     string `mapstructure:"api_key"`
	SampleRate int    `mapstructure:"sample_rate"`
	Interim    *bool  `mapstructure:"interim"`
	GraceMS    *int   `mapstructure:"grace_ms"`
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out sample
	err := DecodeSettings(map[string]any{
		"API-KEY":    "k",
		"sampleRate": "16000",
		"interim":    false,
		"grace_ms":   250,
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "k" || out.SampleRate != 16000 {
		t.Fatalf("unexpected decode %+v", out)
	}
	if BoolValue(out.Interim, true) {
		t.Fatalf("expected explicit false to win over fallback")
	}
	if got := DurationMS(out.GraceMS, time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}
	if got := DurationMS(nil, time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %v", got)
	}
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"voice_id"}, Optional: []string{"model_id"}}
	if err := ValidateSettings(map[string]any{"voice-id": "v", "MODEL_ID": "m"}, schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ValidateSettings(map[string]any{"voice_id": "  ", "colour": "blue"}, schema)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "missing: voice_id") || !strings.Contains(err.Error(), "unknown: colour") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var serr *SettingsError
	if !errors.As(err, &serr) || len(serr.Missing) != 1 || len(serr.Unknown) != 1 {
		t.Fatalf("expected SettingsError with one missing and one unknown key, got %#v", err)
	}
	if err := ValidateSettings(map[string]any{"voice_id": "v", "extra": 1}, Schema{Required: []string{"voice_id"}, AllowUnknown: true}); err != nil {
		t.Fatalf("expected unknown keys to be allowed: %v", err)
	}
}

func TestRequireString(t *testing.T) {
	if err := RequireString(" ", "vendors.synthesis.settings.voice_id"); err == nil || !strings.Contains(err.Error(), "voice_id is required") {
		t.Fatalf("unexpected error %v", err)
	}
	if err := RequireString("x", "a"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
