package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, audio []byte, _ string) (TranscriptResult, error) {
	return TranscriptResult{
		Text:       fmt.Sprintf("[mock transcript length=%d]", len(audio)),
		Confidence: 0,
	}, nil
}
