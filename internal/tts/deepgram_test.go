package tts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/perchlabs/voicerelay/internal/config"
)

func deepgramTestConfig(endpoint string) config.TTSConfig {
	return config.TTSConfig{
		Mode:       "deepgram",
		APIKey:     "dg-key",
		Endpoint:   endpoint,
		Voice:      "aura-asteria-en",
		SampleRate: 24000,
	}
}

func TestDeepgramSynthesize(t *testing.T) {
	audioBody := []byte("RIFFfakewav")
	var gotAuth, gotQuery string
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speak" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		gotText = req["text"]
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(audioBody)
	}))
	defer srv.Close()

	synth := NewDeepgramSynth(deepgramTestConfig(srv.URL))
	out, err := synth.Synthesize(context.Background(), SynthRequest{
		SessionID: "s1",
		Text:      "Your plan includes 10GB of data.",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(out) != string(audioBody) {
		t.Fatalf("audio body mismatch")
	}
	if gotAuth != "Token dg-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotText != "Your plan includes 10GB of data." {
		t.Errorf("text = %q", gotText)
	}
	for _, want := range []string{"model=aura-asteria-en", "encoding=linear16", "container=wav", "sample_rate=24000"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestDeepgramSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err_msg":"bad voice"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	synth := NewDeepgramSynth(deepgramTestConfig(srv.URL))
	if _, err := synth.Synthesize(context.Background(), SynthRequest{Text: "hi", Voice: "nope"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestDeepgramSynthesizeEmptyText(t *testing.T) {
	synth := NewDeepgramSynth(deepgramTestConfig("http://127.0.0.1:0"))
	if _, err := synth.Synthesize(context.Background(), SynthRequest{Text: ""}); err == nil {
		t.Fatal("expected error for empty text")
	}
}
