package tts

import "context"

// SynthRequest contains parameters to synthesize one spoken reply.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// Synthesizer is the contract for producing reply audio. Implementations
// return a complete WAV container.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) ([]byte, error)
}
