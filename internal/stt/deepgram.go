package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/perchlabs/voicerelay/internal/config"
)

type deepgramRecognizer struct {
	endpoint   string
	apiKey     string
	model      string
	language   string
	httpClient *http.Client
}

// NewDeepgramRecognizer transcribes prerecorded audio through Deepgram's
// /v1/listen endpoint.
func NewDeepgramRecognizer(cfg config.STTConfig) Recognizer {
	return &deepgramRecognizer{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		language:   cfg.Language,
		httpClient: &http.Client{},
	}
}

type deepgramListenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (r *deepgramRecognizer) Transcribe(ctx context.Context, audio []byte, contentType string) (TranscriptResult, error) {
	if len(audio) == 0 {
		return TranscriptResult{}, fmt.Errorf("empty audio payload")
	}

	query := url.Values{}
	query.Set("model", r.model)
	query.Set("smart_format", "true")
	if r.language != "" {
		query.Set("language", r.language)
	}
	endpoint := r.endpoint + "/v1/listen?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("build listen request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+r.apiKey)
	if contentType == "" {
		contentType = "audio/wav"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("deepgram listen request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("read listen response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TranscriptResult{}, fmt.Errorf("deepgram listen returned status %d: %s", resp.StatusCode, body)
	}

	var parsed deepgramListenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode listen response: %w", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return TranscriptResult{}, nil
	}

	alt := parsed.Results.Channels[0].Alternatives[0]
	return TranscriptResult{Text: alt.Transcript, Confidence: alt.Confidence}, nil
}
