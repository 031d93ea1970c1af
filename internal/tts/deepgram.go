package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/perchlabs/voicerelay/internal/config"
)

type deepgramSynth struct {
	endpoint   string
	apiKey     string
	voice      string
	sampleRate int
	httpClient *http.Client
}

// NewDeepgramSynth synthesizes speech through Deepgram's /v1/speak endpoint,
// requesting a linear16 WAV container.
func NewDeepgramSynth(cfg config.TTSConfig) Synthesizer {
	return &deepgramSynth{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		voice:      cfg.Voice,
		sampleRate: cfg.SampleRate,
		httpClient: &http.Client{},
	}
}

func (s *deepgramSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("empty text")
	}

	voice := req.Voice
	if voice == "" {
		voice = s.voice
	}
	query := url.Values{}
	query.Set("model", voice)
	query.Set("encoding", "linear16")
	query.Set("container", "wav")
	if s.sampleRate > 0 {
		query.Set("sample_rate", strconv.Itoa(s.sampleRate))
	}
	endpoint := s.endpoint + "/v1/speak?" + query.Encode()

	payload, err := json.Marshal(map[string]string{"text": req.Text})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build speak request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram speak request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speak response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("deepgram speak returned status %d: %s", resp.StatusCode, body)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("deepgram speak returned empty audio")
	}
	return body, nil
}
