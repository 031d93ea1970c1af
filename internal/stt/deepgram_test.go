package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/perchlabs/voicerelay/internal/config"
)

func TestDeepgramTranscribe(t *testing.T) {
	var gotAuth, gotContentType, gotQuery string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"how much data do I have left","confidence":0.97}]}]}}`))
	}))
	defer server.Close()

	rec := NewDeepgramRecognizer(config.STTConfig{
		Endpoint: server.URL,
		APIKey:   "dg-key",
		Model:    "nova-2",
		Language: "en",
	})

	result, err := rec.Transcribe(context.Background(), []byte("fake-wav-bytes"), "audio/wav")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "how much data do I have left" {
		t.Fatalf("unexpected transcript: %q", result.Text)
	}
	if result.Confidence != 0.97 {
		t.Fatalf("unexpected confidence: %f", result.Confidence)
	}
	if gotAuth != "Token dg-key" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotContentType != "audio/wav" {
		t.Fatalf("unexpected content type: %q", gotContentType)
	}
	if string(gotBody) != "fake-wav-bytes" {
		t.Fatalf("body not forwarded verbatim: %q", gotBody)
	}
	for _, want := range []string{"model=nova-2", "smart_format=true", "language=en"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestDeepgramTranscribeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	rec := NewDeepgramRecognizer(config.STTConfig{Endpoint: server.URL, APIKey: "dg-key", Model: "nova-2"})
	if _, err := rec.Transcribe(context.Background(), []byte("audio"), "audio/wav"); err == nil {
		t.Fatal("expected error on non-2xx status")
	}
}

func TestDeepgramTranscribeEmptyChannels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer server.Close()

	rec := NewDeepgramRecognizer(config.STTConfig{Endpoint: server.URL, APIKey: "dg-key", Model: "nova-2"})
	result, err := rec.Transcribe(context.Background(), []byte("audio"), "audio/wav")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "" {
		t.Fatalf("expected empty transcript, got %q", result.Text)
	}
}

func TestDeepgramTranscribeRejectsEmptyPayload(t *testing.T) {
	rec := NewDeepgramRecognizer(config.STTConfig{Endpoint: "http://unused", APIKey: "dg-key", Model: "nova-2"})
	if _, err := rec.Transcribe(context.Background(), nil, "audio/wav"); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
