package deepgram

import (
	"strings"
	"sync"

	"github.com/harunnryd/tutur/pkg/adapters/speech"
)

// assembler turns Deepgram transcript callbacks into recognize-once events:
// partials while the utterance grows, then one final.
type assembler struct {
	mu       sync.Mutex
	segments []string
	done     bool
}

func (a *assembler) transcript(text string, isFinal, speechFinal bool) (speech.Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return speech.Event{}, false
	}
	text = strings.TrimSpace(text)
	if !isFinal && !speechFinal {
		if text == "" {
			return speech.Event{}, false
		}
		return speech.Partial(a.joinWith(text)), true
	}
	if text != "" {
		a.segments = append(a.segments, text)
	}
	if speechFinal {
		a.done = true
		return speech.Final(a.joinWith("")), true
	}
	if text == "" {
		return speech.Event{}, false
	}
	return speech.Partial(a.joinWith("")), true
}

// utteranceEnd closes the utterance when Deepgram detects a gap after words.
func (a *assembler) utteranceEnd() (speech.Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done || len(a.segments) == 0 {
		return speech.Event{}, false
	}
	a.done = true
	return speech.Final(a.joinWith("")), true
}

// endOfAudio finalizes whatever was recognized once the source is exhausted.
func (a *assembler) endOfAudio() (speech.Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return speech.Event{}, false
	}
	a.done = true
	return speech.Final(a.joinWith("")), true
}

func (a *assembler) failure(reason string) (speech.Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return speech.Event{}, false
	}
	a.done = true
	return speech.Canceled(reason), true
}

func (a *assembler) joinWith(tail string) string {
	parts := a.segments
	if tail != "" {
		parts = append(append([]string(nil), parts...), tail)
	}
	return strings.Join(parts, " ")
}
