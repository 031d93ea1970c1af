package protocol

import "time"

// SubmissionReceived is published when the boundary accepts an audio payload.
type SubmissionReceived struct {
	SessionID   string    `json:"session_id"`
	ContentType string    `json:"content_type"`
	Bytes       int       `json:"bytes"`
	Timestamp   time.Time `json:"timestamp"`
}

// Transcript carries the STT output for one submission.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Reply carries the generated assistant response.
type Reply struct {
	SessionID        string    `json:"session_id"`
	Text             string    `json:"text"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	LatencyMS        int64     `json:"latency_ms,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Speech points at synthesized reply audio in the audio store.
type Speech struct {
	SessionID string    `json:"session_id"`
	AudioURL  string    `json:"audio_url"`
	Bytes     int       `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// Failure records a pipeline stage error for one submission.
type Failure struct {
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectExchangeSubmitted  = "exchange.submitted"
	SubjectExchangeTranscript = "exchange.transcript"
	SubjectExchangeReply      = "exchange.reply"
	SubjectExchangeSpeech     = "exchange.speech"
	SubjectExchangeFailed     = "exchange.failed"
)

// Subjects lists every exchange subject the journal persists.
func Subjects() []string {
	return []string{
		SubjectExchangeSubmitted,
		SubjectExchangeTranscript,
		SubjectExchangeReply,
		SubjectExchangeSpeech,
		SubjectExchangeFailed,
	}
}
