package speech

import (
	"context"

	"github.com/harunnryd/tutur/pkg/credential"
)

// RecognizerFactory builds a recognizer for one session using the shared credential.
type RecognizerFactory func(ctx context.Context, cred credential.Credential) (Recognizer, error)

// SynthesizerFactory builds a synthesizer for one session using the shared credential.
type SynthesizerFactory func(ctx context.Context, cred credential.Credential) (Synthesizer, error)
