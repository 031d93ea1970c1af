package stt

import (
	"context"
)

// TranscriptResult captures recognizer output for one audio payload.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. The audio argument is a complete
// decodable waveform container, not a raw PCM stream.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (TranscriptResult, error)
}
