package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/tutur/pkg/audio"
	"github.com/harunnryd/tutur/pkg/results"
	"github.com/harunnryd/tutur/pkg/session"
	"github.com/harunnryd/tutur/pkg/tutur"
)

type fakeController struct {
	calls []string
	err   error
}

func (f *fakeController) Pause() error { f.calls = append(f.calls, "pause"); return f.err }
func (f *fakeController) Resume() error { f.calls = append(f.calls, "resume"); return f.err }
func (f *fakeController) ToggleMute() error { f.calls = append(f.calls, "toggle"); return f.err }
func (f *fakeController) Stop() error { f.calls = append(f.calls, "stop"); return f.err }
func (f *fakeController) Mute(on bool) error {
	if on {
		f.calls = append(f.calls, "mute")
	} else {
		f.calls = append(f.calls, "unmute")
	}
	return f.err
}

func TestControlMapsLines(t *testing.T) {
	c := &fakeController{}
	var status bytes.Buffer
	control(strings.NewReader("pause\n\n RESUME \nmute\nunmute\nhelp\nstop\n"), c, &status)

	want := []string{"pause", "resume", "toggle", "unmute", "stop"}
	if strings.Join(c.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, c.calls)
	}
	if !strings.Contains(status.String(), "commands:") {
		t.Fatalf("expected usage for unknown line, got %q", status.String())
	}
}

func TestControlReportsErrors(t *testing.T) {
	c := &fakeController{err: errors.New("not now")}
	var status bytes.Buffer
	control(strings.NewReader("pause\n"), c, &status)
	if !strings.Contains(status.String(), "pause: not now") {
		t.Fatalf("expected error line, got %q", status.String())
	}
}

func TestPrintEvent(t *testing.T) {
	var out, status bytes.Buffer
	printEvent(session.ModeRecognition, results.Event{Kind: results.KindPartial, Text: "hel"}, &out, &status)
	printEvent(session.ModeRecognition, results.Event{Kind: results.KindFinal, Text: "hello"}, &out, &status)
	if out.String() != "hello\n" {
		t.Fatalf("expected final on out, got %q", out.String())
	}
	if status.String() != "... hel\n" {
		t.Fatalf("expected partial on status, got %q", status.String())
	}

	out.Reset()
	status.Reset()
	printEvent(session.ModeSynthesis, results.Event{Kind: results.KindFinal, Text: "hi", AudioBytes: 640}, &out, &status)
	if out.Len() != 0 || !strings.Contains(status.String(), "640 bytes") {
		t.Fatalf("unexpected synthesis output out=%q status=%q", out.String(), status.String())
	}
}

func TestRunSessionWithMockRecognizer(t *testing.T) {
	cfg, err := tutur.LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Credential = tutur.CredentialConfig{Source: "static", Token: "tok", Region: "eastus"}
	cfg.Vendors.Recognition = tutur.VendorConfig{Provider: "mock", Settings: map[string]any{"transcript": "good morning"}}

	app, err := tutur.NewApp(cfg, tutur.Options{Source: func() (*audio.Source, error) {
		return audio.NewSource("test", strings.NewReader("")), nil
	}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	var out, status bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runSession(ctx, app, session.Request{Mode: session.ModeRecognition}, nil, &out, &status); err != nil {
		t.Fatalf("run session: %v", err)
	}
	if err := app.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if out.String() != "good morning\n" {
		t.Fatalf("expected transcript, got %q (status %q)", out.String(), status.String())
	}
}
