// Package protocol defines the bus subjects and JSON payloads exchanged
// between services.
package protocol

import "time"

// Subjects. Per-request subjects append the request id.
const (
	SubjectSpeechRequest        = "speech.request"
	SubjectSpeechProgressPrefix = "speech.progress"
	SubjectSpeechCompletePrefix = "speech.complete"
	SubjectNotify               = "notify.event"
	SubjectNodeAnnounce         = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix  = "ctrl.node.heartbeat"
)

func ProgressSubject(requestID string) string {
	return SubjectSpeechProgressPrefix + "." + requestID
}

func CompleteSubject(requestID string) string {
	return SubjectSpeechCompletePrefix + "." + requestID
}

func HeartbeatSubject(nodeID string) string {
	return SubjectNodeHeartbeatPrefix + "." + nodeID
}

// SpeechRequest asks the speech service to synthesize text.
type SpeechRequest struct {
	RequestID string    `json:"request_id"`
	Text      string    `json:"text"`
	Voice     string    `json:"voice,omitempty"`
	Model     string    `json:"model,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	MaxChars  int       `json:"max_chars,omitempty"`
	Separate  bool      `json:"separate,omitempty"`
	Validate  bool      `json:"validate,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechProgress reports the chunk counter for one request. Stage is
// "synthesizing" while chunks are in flight and "assembling" at the end.
type SpeechProgress struct {
	RequestID string    `json:"request_id"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// AssetPayload carries one finished audio file.
type AssetPayload struct {
	FileName    string `json:"file_name"`
	Format      string `json:"format"`
	AudioBase64 string `json:"audio_base64"`
}

// ValidationSummary mirrors the analyzer's repetition report.
type ValidationSummary struct {
	HasRepetition   bool     `json:"has_repetition"`
	RepetitionScore float64  `json:"repetition_score"`
	TranscribedText string   `json:"transcribed_text,omitempty"`
	RepeatedPhrases []string `json:"repeated_phrases,omitempty"`
}

// SpeechComplete closes out a request, successfully or not. On failure Error
// is set and Assets is empty; Guidance may carry a remediation hint.
type SpeechComplete struct {
	RequestID  string             `json:"request_id"`
	Assets     []AssetPayload     `json:"assets,omitempty"`
	HistoryID  string             `json:"history_id,omitempty"`
	Validation *ValidationSummary `json:"validation,omitempty"`
	Error      string             `json:"error,omitempty"`
	Guidance   string             `json:"guidance,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Notice is a transient user-facing message with an expiry.
type Notice struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NodeAnnounce is published once when a node joins the bus.
type NodeAnnounce struct {
	NodeID       string            `json:"node_id"`
	Role         string            `json:"role"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// NodeHeartbeat is published on the node's heartbeat subject at the
// configured interval.
type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}
