package tutur

import (
	"fmt"
	"strings"

	"github.com/harunnryd/tutur/pkg/adapters/speech"
	"github.com/harunnryd/tutur/pkg/audio"
)

// SourceOpener opens the audio input for one recognition session.
type SourceOpener func() (*audio.Source, error)

type RecognizerBuilder func(cfg Config, open SourceOpener) (speech.RecognizerFactory, error)
type SynthesizerBuilder func(cfg Config, player *audio.Player) (speech.SynthesizerFactory, error)

type ProviderRegistry struct {
	recognizers  map[string]RecognizerBuilder
	synthesizers map[string]SynthesizerBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		recognizers:  make(map[string]RecognizerBuilder),
		synthesizers: make(map[string]SynthesizerBuilder),
	}
}

func (r *ProviderRegistry) RegisterRecognizer(name string, builder RecognizerBuilder) {
	r.recognizers[providerKey(name)] = builder
}

func (r *ProviderRegistry) RegisterSynthesizer(name string, builder SynthesizerBuilder) {
	r.synthesizers[providerKey(name)] = builder
}

func (r *ProviderRegistry) BuildRecognizerFactory(provider string, cfg Config, open SourceOpener) (speech.RecognizerFactory, error) {
	fn := r.recognizers[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("recognition provider not registered: %s", provider)
	}
	return fn(cfg, open)
}

// BuildSynthesizerFactory fails when no player exists yet, so a synthesizer
// is never bound to a missing or stale destination.
func (r *ProviderRegistry) BuildSynthesizerFactory(provider string, cfg Config, player *audio.Player) (speech.SynthesizerFactory, error) {
	fn := r.synthesizers[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("synthesis provider not registered: %s", provider)
	}
	if player == nil {
		return nil, fmt.Errorf("synthesis provider %s: audio player is not ready", provider)
	}
	return fn(cfg, player)
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
