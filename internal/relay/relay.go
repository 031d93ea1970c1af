package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"time"

	"github.com/perchlabs/voicerelay/internal/config"
)

// ErrMissingPayload is returned when a submission carries no audio.
var ErrMissingPayload = errors.New("relay: missing audio payload")

// ErrEmptyResult is returned when the boundary answers 2xx but the body
// carries neither text nor an audio locator.
var ErrEmptyResult = errors.New("relay: boundary returned an empty result")

// BoundaryError means the boundary answered with a non-2xx status.
type BoundaryError struct {
	Status int
	Body   string
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("relay: boundary returned status %d", e.Status)
}

// TransportError means the boundary could not be reached at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("relay: boundary unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Response is the boundary's successful reply.
type Response struct {
	Transcript   string `json:"transcript"`
	TextResponse string `json:"text_response"`
	AudioURL     string `json:"audio_url"`
}

// Relay forwards captured audio to the processing boundary. Each
// submission is a single attempt with no retries; the caller decides
// what a failure means for its session.
type Relay struct {
	boundaryURL string
	spoolDir    string
	httpClient  *http.Client
	log         *slog.Logger
}

func New(cfg config.RelayConfig, log *slog.Logger) *Relay {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Relay{
		boundaryURL: cfg.BoundaryURL,
		spoolDir:    cfg.SpoolDir,
		httpClient:  &http.Client{Timeout: timeout},
		log:         log.With(slog.String("component", "relay")),
	}
}

// Submit spools the audio to a temp file, posts it to the boundary as a
// multipart "audio" part, and decodes the reply. The spool file is
// removed before Submit returns regardless of outcome.
func (r *Relay) Submit(ctx context.Context, sessionID string, audio []byte, contentType string) (Response, error) {
	if len(audio) == 0 {
		return Response{}, ErrMissingPayload
	}
	if contentType == "" {
		contentType = "audio/wav"
	}

	spool, err := os.CreateTemp(r.spoolDir, "voicerelay_submit_*.wav")
	if err != nil {
		return Response{}, fmt.Errorf("relay: create spool file: %w", err)
	}
	spoolPath := spool.Name()
	defer func() {
		if err := os.Remove(spoolPath); err != nil && !os.IsNotExist(err) {
			r.log.Warn("failed to remove spool file",
				slog.String("path", spoolPath), slog.String("error", err.Error()))
		}
	}()

	if _, err := spool.Write(audio); err != nil {
		spool.Close()
		return Response{}, fmt.Errorf("relay: write spool file: %w", err)
	}
	if err := spool.Close(); err != nil {
		return Response{}, fmt.Errorf("relay: close spool file: %w", err)
	}

	body, formContentType, err := r.buildForm(spoolPath, sessionID, contentType)
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.boundaryURL, body)
	if err != nil {
		return Response{}, fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", formContentType)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, &BoundaryError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Response{}, fmt.Errorf("relay: decode boundary response: %w", err)
	}
	if out.TextResponse == "" && out.AudioURL == "" {
		return Response{}, ErrEmptyResult
	}
	return out, nil
}

func (r *Relay) buildForm(spoolPath, sessionID, contentType string) (*bytes.Buffer, string, error) {
	file, err := os.Open(spoolPath)
	if err != nil {
		return nil, "", fmt.Errorf("relay: open spool file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="audio"; filename="capture.wav"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("relay: create audio part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("relay: copy spool file: %w", err)
	}
	if sessionID != "" {
		if err := writer.WriteField("session_id", sessionID); err != nil {
			return nil, "", fmt.Errorf("relay: write session field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("relay: finalize form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
