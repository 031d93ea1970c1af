package tts

import (
	"context"
	"fmt"

	"github.com/perchlabs/voicerelay/internal/audio"
)

// mockSynth returns a short silent WAV so the pipeline can run end to
// end without any vendor credentials.
type mockSynth struct {
	sampleRate int
}

func NewMockSynth(sampleRate int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("synthesize: empty text")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	// 200ms of silence, mono 16-bit PCM.
	pcm := make([]byte, m.sampleRate/5*2)
	return audio.EncodeWAV(pcm, m.sampleRate, 1)
}
