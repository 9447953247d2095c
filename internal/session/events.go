package session

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/confab/internal/insight"
)

// Outbound wire event types. Every event pushed to the client is a JSON object
// with a "type" discriminator; the remaining fields depend on the type.
const (
	EventConnection         = "connection"
	EventTranscript         = "transcript"
	EventAudioAck           = "audio_ack"
	EventTextAck            = "text_ack"
	EventSummary            = "summary"
	EventConversationPoints = "conversation_points"
	EventAIAnswer           = "ai_answer"
	EventPong               = "pong"
	EventError              = "error"
)

// ConnectionEvent confirms session establishment.
type ConnectionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// TranscriptEvent carries one transcribed fragment. IsFinal is false for
// interim results, which are display-only and never indexed.
type TranscriptEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// AudioAckEvent acknowledges receipt of one binary audio frame. It reports
// receipt, not transcription success.
type AudioAckEvent struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	ChunkSize int    `json:"chunk_size"`
}

// TextAckEvent acknowledges a verbatim text fragment stored via the "text"
// control message.
type TextAckEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Text   string `json:"text"`
}

// SummaryEvent carries the periodic running summary.
type SummaryEvent struct {
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// ConversationPointsEvent carries the structured conversation analysis.
type ConversationPointsEvent struct {
	Type string `json:"type"`
	insight.Points
}

// AIAnswerEvent carries the answer to a user question.
type AIAnswerEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// PongEvent answers a ping with a Unix-millisecond timestamp.
type PongEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorEvent reports a non-fatal session error to the client.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EventWriter delivers outbound events to the client connection. The server
// implements it over the WebSocket; tests implement it with a recording slice.
type EventWriter interface {
	Push(event any) error
}

// safeWriter wraps an EventWriter with a closed flag so that events produced
// by in-flight work after teardown are discarded instead of being written to a
// dead connection.
type safeWriter struct {
	mu     sync.Mutex
	closed bool
	w      EventWriter
	log    *slog.Logger
}

func newSafeWriter(w EventWriter, log *slog.Logger) *safeWriter {
	return &safeWriter{w: w, log: log}
}

// push delivers ev unless the writer has been closed. Write failures are
// logged, never propagated: a broken client connection is handled by the
// server's read loop, not by event producers.
func (w *safeWriter) push(ev any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.log.Debug("discarding event after teardown", "event", ev)
		return
	}
	if err := w.w.Push(ev); err != nil {
		w.log.Warn("failed to push event", "error", err)
	}
}

// close marks the writer closed. Idempotent.
func (w *safeWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}
