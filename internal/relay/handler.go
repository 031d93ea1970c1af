package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
)

// clientResponse is the reshaped reply the browser client consumes.
type clientResponse struct {
	Response string `json:"response"`
	AudioURL string `json:"audioUrl,omitempty"`
}

// Handler accepts browser submissions on /api/submissions and forwards
// them through the relay, reshaping the boundary contract into the
// client one.
type Handler struct {
	relay   *Relay
	log     *slog.Logger
	maxBody int64
}

func NewHandler(r *Relay, maxBody int64, log *slog.Logger) *Handler {
	if maxBody <= 0 {
		maxBody = 16 << 20
	}
	return &Handler{
		relay:   r,
		log:     log.With(slog.String("component", "relay-handler")),
		maxBody: maxBody,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	audio, contentType, sessionID, err := readSubmission(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio payload")
		return
	}

	resp, err := h.relay.Submit(r.Context(), sessionID, audio, contentType)
	if err != nil {
		h.log.Error("submission failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))

		var boundaryErr *BoundaryError
		var transportErr *TransportError
		switch {
		case errors.Is(err, ErrMissingPayload):
			writeError(w, http.StatusBadRequest, "missing audio payload")
		case errors.Is(err, ErrEmptyResult):
			writeError(w, http.StatusBadGateway, "processing failed")
		case errors.As(err, &boundaryErr):
			writeError(w, http.StatusBadGateway, "processing failed")
		case errors.As(err, &transportErr):
			writeError(w, http.StatusBadGateway, "processing unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, clientResponse{
		Response: resp.TextResponse,
		AudioURL: resp.AudioURL,
	})
}

// readSubmission accepts either a multipart form with an "audio" part
// or a raw audio body.
func readSubmission(r *http.Request) ([]byte, string, string, error) {
	contentType := r.Header.Get("Content-Type")

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType == "multipart/form-data" {
		reader := multipart.NewReader(r.Body, params["boundary"])
		form, err := reader.ReadForm(32 << 20)
		if err != nil {
			return nil, "", "", err
		}
		defer form.RemoveAll()

		files := form.File["audio"]
		if len(files) == 0 {
			return nil, "", "", ErrMissingPayload
		}
		file, err := files[0].Open()
		if err != nil {
			return nil, "", "", err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", "", err
		}
		if len(data) == 0 {
			return nil, "", "", ErrMissingPayload
		}
		partType := files[0].Header.Get("Content-Type")
		var sessionID string
		if vals := form.Value["session_id"]; len(vals) > 0 {
			sessionID = vals[0]
		}
		return data, partType, sessionID, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", "", err
	}
	if len(data) == 0 {
		return nil, "", "", ErrMissingPayload
	}
	return data, contentType, r.URL.Query().Get("session_id"), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
