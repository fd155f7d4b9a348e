package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harunnryd/tutur/pkg/results"
	"github.com/harunnryd/tutur/pkg/session"
	"github.com/harunnryd/tutur/pkg/tutur"
)

// controller is the part of the coordinator driven by stdin control lines.
type controller interface {
	Pause() error
	Resume() error
	Mute(bool) error
	ToggleMute() error
	Stop() error
}

// runSession starts req and blocks until the session ends or ctx is done.
// Final text goes to out; partials, status and errors go to status.
func runSession(ctx context.Context, app *tutur.App, req session.Request, controls io.Reader, out, status io.Writer) error {
	c := app.Coordinator
	ended := make(chan session.StateChange, 1)
	c.AddListener(session.ListenerFunc(func(ev session.StateChange) {
		if ev.ToState == session.StateError || (ev.ToState == session.StateIdle && ev.FromState == session.StateStopping) {
			select {
			case ended <- ev:
			default:
			}
		}
	}))
	// The subscription lives as long as app; closing app flushes pending events.
	c.Subscribe(func(ev results.Event) { printEvent(req.Mode, ev, out, status) })

	if err := c.Start(req); err != nil {
		return err
	}
	if controls != nil {
		go control(controls, c, status)
	}

	select {
	case ev := <-ended:
		return sessionResult(ev)
	case <-ctx.Done():
	}
	if err := c.Stop(); err != nil {
		return err
	}
	grace := time.Duration(app.Config.Session.StopTimeoutMS)*time.Millisecond + time.Second
	select {
	case ev := <-ended:
		return sessionResult(ev)
	case <-time.After(grace):
		return errors.New("session did not stop in time")
	}
}

func sessionResult(ev session.StateChange) error {
	if ev.ToState == session.StateError {
		return fmt.Errorf("session %s failed: %s", ev.SessionID, ev.Reason)
	}
	return nil
}

func printEvent(mode session.Mode, ev results.Event, out, status io.Writer) {
	switch ev.Kind {
	case results.KindPartial:
		fmt.Fprintf(status, "... %s\n", ev.Text)
	case results.KindFinal:
		if mode == session.ModeSynthesis {
			fmt.Fprintf(status, "spoke %d bytes of audio\n", ev.AudioBytes)
			return
		}
		fmt.Fprintln(out, ev.Text)
	case results.KindError:
		fmt.Fprintf(status, "error: %v\n", ev.Err)
	}
}

// control maps stdin lines onto coordinator operations until r is exhausted.
func control(r io.Reader, c controller, status io.Writer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd := strings.ToLower(strings.TrimSpace(scanner.Text()))
		var err error
		switch cmd {
		case "":
			continue
		case "pause", "p":
			err = c.Pause()
		case "resume", "r":
			err = c.Resume()
		case "mute", "m":
			err = c.ToggleMute()
		case "unmute":
			err = c.Mute(false)
		case "stop", "s", "q":
			err = c.Stop()
		default:
			fmt.Fprintln(status, "commands: pause, resume, mute, unmute, stop")
			continue
		}
		if err != nil {
			fmt.Fprintf(status, "%s: %v\n", cmd, err)
		}
	}
}
