package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/perchlabs/voicerelay/internal/eventstore"
	"github.com/perchlabs/voicerelay/internal/pipeline"
)

type stubProcessor struct {
	result pipeline.Result
	err    error
	calls  int
	got    pipeline.Submission
}

func (s *stubProcessor) Process(ctx context.Context, sub pipeline.Submission) (pipeline.Result, error) {
	s.calls++
	s.got = sub
	return s.result, s.err
}

type stubHistory struct {
	events []eventstore.Event
	err    error
}

func (s *stubHistory) ListExchangeEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error) {
	return s.events, s.err
}

func multipartAudio(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, "capture.wav")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	writer.Close()
	return &buf, writer.FormDataContentType()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessAudioHappyPath(t *testing.T) {
	proc := &stubProcessor{result: pipeline.Result{
		Transcript:   "hello",
		TextResponse: "hi there",
		AudioURL:     "/audio/response-1.wav",
	}}
	h := NewHandler(proc, nil, 0, testLogger())

	body, contentType := multipartAudio(t, "audio", []byte("wav-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/process-audio", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ProcessAudio(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var got pipeline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.TextResponse != "hi there" || got.AudioURL != "/audio/response-1.wav" {
		t.Fatalf("unexpected response %+v", got)
	}
	if proc.calls != 1 {
		t.Fatalf("pipeline called %d times", proc.calls)
	}
	if string(proc.got.Audio) != "wav-bytes" {
		t.Fatalf("pipeline got audio %q", proc.got.Audio)
	}
	if proc.got.SessionID == "" {
		t.Fatal("pipeline got empty session id")
	}
}

func TestProcessAudioMissingPart(t *testing.T) {
	proc := &stubProcessor{}
	h := NewHandler(proc, nil, 0, testLogger())

	body, contentType := multipartAudio(t, "file", []byte("wav-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/process-audio", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ProcessAudio(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatal("missing error field")
	}
	if proc.calls != 0 {
		t.Fatalf("pipeline called %d times for bad request", proc.calls)
	}
}

func TestProcessAudioPipelineError(t *testing.T) {
	proc := &stubProcessor{err: errors.New("vendor down")}
	h := NewHandler(proc, nil, 0, testLogger())

	body, contentType := multipartAudio(t, "audio", []byte("wav-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/process-audio", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ProcessAudio(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestProcessAudioTimeout(t *testing.T) {
	proc := &stubProcessor{err: context.DeadlineExceeded}
	h := NewHandler(proc, nil, 0, testLogger())

	body, contentType := multipartAudio(t, "audio", []byte("wav-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/process-audio", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ProcessAudio(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestProcessAudioRejectsGet(t *testing.T) {
	h := NewHandler(&stubProcessor{}, nil, 0, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/process-audio", nil)
	rec := httptest.NewRecorder()
	h.ProcessAudio(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestExchanges(t *testing.T) {
	history := &stubHistory{events: []eventstore.Event{
		{
			SessionID: "s1",
			Type:      "exchange.transcript",
			Payload:   []byte(`{"session_id":"s1","text":"hello"}`),
			CreatedAt: time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
		},
	}}
	h := NewHandler(&stubProcessor{}, history, 0, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/exchanges/s1", nil)
	rec := httptest.NewRecorder()
	h.Exchanges(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		SessionID string `json:"session_id"`
		Events    []struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		} `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != "s1" || len(resp.Events) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Events[0].Type != "exchange.transcript" {
		t.Fatalf("event type = %q", resp.Events[0].Type)
	}
}

func TestExchangesMissingSession(t *testing.T) {
	h := NewHandler(&stubProcessor{}, &stubHistory{}, 0, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/exchanges/", nil)
	rec := httptest.NewRecorder()
	h.Exchanges(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
