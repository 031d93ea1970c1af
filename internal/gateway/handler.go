package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/perchlabs/voicerelay/internal/eventstore"
	"github.com/perchlabs/voicerelay/internal/pipeline"
)

// Processor runs one submission through the exchange pipeline.
type Processor interface {
	Process(ctx context.Context, sub pipeline.Submission) (pipeline.Result, error)
}

// History reads persisted exchange events for one session.
type History interface {
	ListExchangeEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
}

// Handler is the vendor-facing boundary: it accepts multipart audio on
// /process-audio and exposes persisted exchange history.
type Handler struct {
	processor Processor
	history   History
	log       *slog.Logger
	maxBody   int64
}

func NewHandler(processor Processor, history History, maxBody int64, log *slog.Logger) *Handler {
	if maxBody <= 0 {
		maxBody = 16 << 20
	}
	return &Handler{
		processor: processor,
		history:   history,
		log:       log.With(slog.String("component", "gateway")),
		maxBody:   maxBody,
	}
}

// ProcessAudio handles POST /process-audio. The request must carry a
// multipart form with an "audio" part; a missing part is rejected with
// 400 before the pipeline is touched.
func (h *Handler) ProcessAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio part")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable audio part")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio part")
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/wav"
	}

	result, err := h.processor.Process(r.Context(), pipeline.Submission{
		SessionID:   sessionID,
		Audio:       data,
		ContentType: contentType,
	})
	if err != nil {
		h.log.Error("exchange failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "exchange timed out")
			return
		}
		writeError(w, http.StatusInternalServerError, "exchange failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type exchangeEvent struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

// Exchanges handles GET /api/exchanges/{session}.
func (h *Handler) Exchanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/exchanges"), "/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}
	if h.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "events": []exchangeEvent{}})
		return
	}

	events, err := h.history.ListExchangeEvents(r.Context(), sessionID, 200)
	if err != nil {
		h.log.Error("history lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	out := make([]exchangeEvent, 0, len(events))
	for _, evt := range events {
		payload := json.RawMessage(evt.Payload)
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		out = append(out, exchangeEvent{
			Type:      evt.Type,
			Payload:   payload,
			CreatedAt: evt.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "events": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
