package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// HTTPSubmitter posts finalized captures to the relay's submission
// endpoint and decodes the reshaped client reply.
type HTTPSubmitter struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPSubmitter(endpoint string, timeout time.Duration) *HTTPSubmitter {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPSubmitter{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPSubmitter) Submit(ctx context.Context, sessionID string, wav []byte) (Reply, error) {
	if len(wav) == 0 {
		return Reply{}, ErrNoCapture
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="audio"; filename="capture.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(header)
	if err != nil {
		return Reply{}, fmt.Errorf("build submission: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return Reply{}, fmt.Errorf("build submission: %w", err)
	}
	if sessionID != "" {
		if err := writer.WriteField("session_id", sessionID); err != nil {
			return Reply{}, fmt.Errorf("build submission: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return Reply{}, fmt.Errorf("build submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return Reply{}, fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("submit capture: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("read submission reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return Reply{}, fmt.Errorf("submission rejected (%d): %s", resp.StatusCode, errResp.Error)
		}
		return Reply{}, fmt.Errorf("submission rejected with status %d", resp.StatusCode)
	}

	var out struct {
		Response string `json:"response"`
		AudioURL string `json:"audioUrl"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Reply{}, fmt.Errorf("decode submission reply: %w", err)
	}
	return Reply{Text: out.Response, AudioURL: out.AudioURL}, nil
}
