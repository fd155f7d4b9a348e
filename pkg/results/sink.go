package results

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Retention controls what the sink keeps for display.
// Subscribers always receive every event regardless of retention.
type Retention string

const (
	RetainLatest Retention = "keep-latest-only"
	RetainAll    Retention = "append-all"
)

// ParseRetention accepts the config spellings of a retention policy.
func ParseRetention(v string) (Retention, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", string(RetainLatest), "latest":
		return RetainLatest, nil
	case string(RetainAll), "all":
		return RetainAll, nil
	}
	return "", fmt.Errorf("unknown sink retention %q", v)
}

// Sink is an ordered buffer of result events per session.
type Sink struct {
	retention Retention

	mu       sync.Mutex
	cond     *sync.Cond
	buffers  map[string][]Event
	order    []string
	done     map[string]bool
	subs     map[int]func(Event)
	nextSub  int
	pending  []Event
	closed   bool
	finished chan struct{}
}

func NewSink(retention Retention) *Sink {
	if retention == "" {
		retention = RetainLatest
	}
	s := &Sink{
		retention: retention,
		buffers:   make(map[string][]Event),
		done:      make(map[string]bool),
		subs:      make(map[int]func(Event)),
		finished:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.deliver()
	return s
}

func (s *Sink) Retention() Retention { return s.retention }

// Append records ev and queues it for subscribers. Events after a session's
// terminal event are rejected, and timestamps are clamped so they never go
// backwards within a session.
func (s *Sink) Append(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ev.SessionID == "" || s.done[ev.SessionID] {
		return false
	}
	buf, known := s.buffers[ev.SessionID]
	if !known {
		s.order = append(s.order, ev.SessionID)
	}
	if n := len(buf); n > 0 && ev.Time.Before(buf[n-1].Time) {
		ev.Time = buf[n-1].Time
	}
	if s.retention == RetainLatest {
		if n := len(buf); n > 0 && buf[n-1].Kind == KindPartial {
			buf = buf[:n-1]
		}
	}
	s.buffers[ev.SessionID] = append(buf, ev)
	if ev.Kind.Terminal() {
		s.done[ev.SessionID] = true
	}
	s.pending = append(s.pending, ev)
	s.cond.Signal()
	return true
}

// Subscribe registers fn to receive every future event in order, on the
// sink's delivery goroutine. The returned func removes the subscription.
func (s *Sink) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Events returns the retained events of a session.
func (s *Sink) Events(sessionID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.buffers[sessionID]...)
}

// Latest returns the most recent retained event of a session.
func (s *Sink) Latest(sessionID string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.buffers[sessionID]
	if len(buf) == 0 {
		return Event{}, false
	}
	return buf[len(buf)-1], true
}

// Text is the display text of a session: the latest event's text.
func (s *Sink) Text(sessionID string) string {
	ev, ok := s.Latest(sessionID)
	if !ok {
		return ""
	}
	return ev.Text
}

// Sessions lists session ids in first-seen order.
func (s *Sink) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Forget drops a session's buffer.
func (s *Sink) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, sessionID)
	delete(s.done, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Close stops accepting events and waits for queued events to reach subscribers.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.cond.Broadcast()
	}
	s.mu.Unlock()
	<-s.finished
}

func (s *Sink) deliver() {
	defer close(s.finished)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		batch := s.pending
		s.pending = nil
		subs := s.subscribers()
		s.mu.Unlock()

		for _, ev := range batch {
			for _, fn := range subs {
				fn(ev)
			}
		}
	}
}

// subscribers returns callbacks in registration order; caller holds mu.
func (s *Sink) subscribers() []func(Event) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}
