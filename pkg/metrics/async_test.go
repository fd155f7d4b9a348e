package metrics

import (
	"testing"
	"time"
)

func TestAsyncObserverDrainsOnClose(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 16)
	for i := 0; i < 5; i++ {
		async.RecordEvent(MetricsEvent{Name: EventSessionState, Time: time.Now()})
	}
	async.Close()

	if got := len(mem.Named(EventSessionState)); got != 5 {
		t.Fatalf("expected 5 events after close, got %d", got)
	}
	async.RecordEvent(MetricsEvent{Name: EventSessionState})
	async.Close()
	if got := len(mem.Named(EventSessionState)); got != 5 {
		t.Fatalf("expected events after close to be ignored, got %d", got)
	}
}
