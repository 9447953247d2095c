// Package session implements the real-time meeting session orchestrator.
//
// A [Session] owns one client connection's lifecycle: it relays inbound audio
// to a streaming transcription channel, commits final transcript fragments to
// an append-only log and a per-session semantic index, answers on-demand user
// questions with retrieved context, and runs a background summarizer loop.
// [Registry] is the process-wide id → Session map used by the server for
// lookup and cleanup.
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/confab/internal/insight"
	"github.com/MrWong99/confab/internal/observe"
	"github.com/MrWong99/confab/pkg/memory"
	"github.com/MrWong99/confab/pkg/provider/embeddings"
	"github.com/MrWong99/confab/pkg/provider/stt"
)

const (
	// defaultRetrievalK is the number of fragments retrieved as context for a
	// user question.
	defaultRetrievalK = 5

	// defaultSummaryInterval is the period of the background summarizer loop.
	defaultSummaryInterval = 5 * time.Second

	// sttUnavailableMessage is pushed once at session start when the
	// transcription channel could not be established. The session continues
	// without transcription.
	sttUnavailableMessage = "Failed to connect to speech recognition service"
)

// InsightClient is the summarization boundary consumed by the orchestrator.
// Implementations are boundary-safe: remote failures surface as false/degraded
// values, never as errors. *insight.Client satisfies this; tests use
// instrumented fakes.
type InsightClient interface {
	Summary(ctx context.Context, transcript string) (string, bool)
	ConversationPoints(ctx context.Context, transcript string) (*insight.Points, bool)
	Answer(ctx context.Context, contextText, question string) string
}

// Config assembles the collaborators a [Session] owns or borrows.
type Config struct {
	// ID is the opaque session identifier, unique per connection.
	ID string

	// Writer delivers outbound events to the client.
	Writer EventWriter

	// Handle is the established transcription stream. Nil means the STT
	// channel could not be connected; the session runs without transcription.
	Handle stt.SessionHandle

	// Embedder produces vectors for transcript fragments and questions.
	Embedder embeddings.Provider

	// Index is the session-scoped semantic index. Owned by the session and
	// closed at teardown.
	Index memory.SemanticIndex

	// Insight produces summaries, conversation points, and answers.
	Insight InsightClient

	// Registry, when non-nil, receives the session at Start and loses it as
	// the final teardown step.
	Registry *Registry

	// RetrievalK is the number of context fragments retrieved per question.
	// Defaults to 5.
	RetrievalK int

	// SummaryInterval is the summarizer loop period. Defaults to 5s.
	SummaryInterval time.Duration

	// Logger receives session-scoped log records. Defaults to slog.Default.
	Logger *slog.Logger

	// Metrics receives session instrumentation. Defaults to
	// observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Session orchestrates one live meeting connection.
type Session struct {
	id        string
	createdAt time.Time

	writer   *safeWriter
	handle   stt.SessionHandle
	embedder embeddings.Provider
	index    memory.SemanticIndex
	insight  InsightClient
	registry *Registry
	log      *slog.Logger
	metrics  *observe.Metrics

	retrievalK      int
	summaryInterval time.Duration

	// transcript log, append-only in finalization order.
	mu             sync.Mutex
	fragments      []string
	lastSummarized int
	started        bool

	// summarize mutex: at most one summarization in flight per session.
	sumMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New assembles a Session from cfg. The session is inert until [Session.Start]
// is called.
func New(cfg Config) (*Session, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("session: ID must not be empty")
	}
	if cfg.Writer == nil {
		return nil, fmt.Errorf("session: Writer must not be nil")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("session: Embedder must not be nil")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("session: Index must not be nil")
	}
	if cfg.Insight == nil {
		return nil, fmt.Errorf("session: Insight must not be nil")
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = defaultRetrievalK
	}
	if cfg.SummaryInterval <= 0 {
		cfg.SummaryInterval = defaultSummaryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	log := cfg.Logger.With("session_id", cfg.ID)
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:              cfg.ID,
		createdAt:       time.Now(),
		writer:          newSafeWriter(cfg.Writer, log),
		handle:          cfg.Handle,
		embedder:        cfg.Embedder,
		index:           cfg.Index,
		insight:         cfg.Insight,
		registry:        cfg.Registry,
		log:             log,
		metrics:         cfg.Metrics,
		retrievalK:      cfg.RetrievalK,
		summaryInterval: cfg.SummaryInterval,
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// FragmentCount returns the number of committed transcript fragments.
func (s *Session) FragmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fragments)
}

// RecentFragments returns up to n most recent transcript fragments in
// commit order.
func (s *Session) RecentFragments(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || len(s.fragments) == 0 {
		return []string{}
	}
	start := len(s.fragments) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, len(s.fragments)-start)
	copy(out, s.fragments[start:])
	return out
}

// Start registers the session, confirms establishment to the client, and
// launches the transcript drains and the summarizer loop.
func (s *Session) Start() error {
	if s.registry != nil {
		if err := s.registry.Insert(s); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.metrics.ActiveSessions.Add(s.ctx, 1)

	s.push(ConnectionEvent{
		Type:      EventConnection,
		SessionID: s.id,
		Message:   "session established",
	})
	if s.handle == nil {
		// STT connect failed earlier; the session continues without
		// transcription.
		s.push(ErrorEvent{Type: EventError, Message: sttUnavailableMessage})
	} else {
		s.wg.Add(2)
		go s.drainFinals()
		go s.drainPartials()
	}

	s.wg.Add(1)
	go s.summarizeLoop()

	s.log.Info("session started", "stt_connected", s.handle != nil)
	return nil
}

// HandleAudio forwards one binary audio frame to the transcription channel.
// The audio_ack acknowledges receipt and is pushed regardless of transcription
// outcome.
func (s *Session) HandleAudio(chunk []byte) {
	s.metrics.RecordAudio(s.ctx, len(chunk))
	if s.handle != nil {
		if err := s.handle.SendAudio(chunk); err != nil {
			s.log.Warn("failed to forward audio", "error", err)
			s.push(ErrorEvent{Type: EventError, Message: "transcription channel unavailable"})
		}
	}
	s.push(AudioAckEvent{Type: EventAudioAck, Status: "received", ChunkSize: len(chunk)})
}

// controlMessage is the envelope of every inbound text frame.
type controlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Text    string `json:"text"`
}

// HandleControl dispatches one inbound text frame. Malformed or unrecognized
// messages produce error events; they never terminate the session.
func (s *Session) HandleControl(raw []byte) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Debug("malformed control message", "error", err)
		s.push(ErrorEvent{Type: EventError, Message: "invalid message format"})
		return
	}

	switch msg.Type {
	case "user_message":
		question := strings.TrimSpace(msg.Message)
		if question == "" {
			return
		}
		// Answered on its own goroutine so a slow LLM call never blocks
		// audio handling.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.answer(question)
		}()

	case "ping":
		s.push(PongEvent{Type: EventPong, Timestamp: time.Now().UnixMilli()})

	case "text":
		if strings.TrimSpace(msg.Text) == "" {
			return
		}
		s.commitFragment(msg.Text)
		s.push(TextAckEvent{Type: EventTextAck, Status: "received", Text: msg.Text})

	default:
		s.push(ErrorEvent{
			Type:    EventError,
			Message: fmt.Sprintf("unknown message type: %s", msg.Type),
		})
	}
}

// answer resolves one user question: embed, retrieve top-k context, fall back
// to the full transcript when retrieval yields nothing, then ask the insight
// client. Failures degrade to fallback text; an ai_answer event is always
// pushed.
func (s *Session) answer(question string) {
	contextText := s.retrieveContext(question)
	reply := s.insight.Answer(s.ctx, contextText, question)
	s.push(AIAnswerEvent{Type: EventAIAnswer, Text: reply})
}

// retrieveContext assembles the context string for a question.
func (s *Session) retrieveContext(question string) string {
	start := time.Now()
	vec, err := s.embedder.Embed(s.ctx, question)
	s.metrics.EmbeddingDuration.Record(s.ctx, time.Since(start).Seconds())
	if err != nil {
		s.log.Warn("failed to embed question", "error", err)
		return s.allText()
	}

	chunks, err := s.index.Query(s.ctx, vec, s.retrievalK)
	if err != nil {
		s.log.Warn("semantic query failed", "error", err)
		return s.allText()
	}
	if len(chunks) == 0 {
		return s.allText()
	}
	return strings.Join(chunks, "\n")
}

// allText is the degraded-context fallback.
func (s *Session) allText() string {
	text, err := s.index.AllText(s.ctx)
	if err != nil {
		s.log.Warn("transcript fallback failed", "error", err)
		return ""
	}
	return text
}

// drainFinals consumes final transcripts and runs the commit path in
// finalization order: push transcript event, append to log, embed, insert.
func (s *Session) drainFinals() {
	defer s.wg.Done()
	for t := range s.handle.Finals() {
		s.push(TranscriptEvent{Type: EventTranscript, Text: t.Text, IsFinal: true})
		s.commitFragment(t.Text)
	}
	s.log.Debug("final transcript channel closed")
}

// drainPartials surfaces interim transcripts for display. Partials are never
// embedded or indexed.
func (s *Session) drainPartials() {
	defer s.wg.Done()
	for t := range s.handle.Partials() {
		s.push(TranscriptEvent{Type: EventTranscript, Text: t.Text, IsFinal: false})
	}
}

// commitFragment appends text to the transcript log and indexes it. Embedding
// or insert failures drop the fragment from the index with a warning; the
// session continues.
func (s *Session) commitFragment(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.mu.Lock()
	s.fragments = append(s.fragments, text)
	s.mu.Unlock()
	s.metrics.RecordFragment(s.ctx)

	start := time.Now()
	vec, err := s.embedder.Embed(s.ctx, text)
	s.metrics.EmbeddingDuration.Record(s.ctx, time.Since(start).Seconds())
	if err != nil {
		s.log.Warn("failed to embed fragment, dropping from index", "error", err)
		return
	}
	if err := s.index.Insert(s.ctx, text, vec); err != nil {
		s.log.Warn("failed to index fragment, dropping", "error", err)
	}
}

// push delivers an event through the teardown-safe writer.
func (s *Session) push(ev any) {
	s.writer.push(ev)
}

// Close tears the session down exactly once: cancel the context so the
// summarizer stops at its next safe point, close the transcription channel,
// mark the writer closed so late events are discarded, close the index, and
// finally remove the session from the registry. No unit of work started after
// registry removal can reference this session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()

		if s.handle != nil {
			if err := s.handle.Close(); err != nil {
				s.log.Warn("failed to close transcription stream", "error", err)
			}
		}

		s.writer.close()
		if err := s.index.Close(); err != nil {
			s.log.Warn("failed to close semantic index", "error", err)
		}

		// A session whose Start failed (duplicate id) never made it into the
		// registry or the gauge; removing here would evict the live session
		// registered under the same id.
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			if s.registry != nil {
				if err := s.registry.Remove(s.id); err != nil {
					s.log.Debug("session already removed from registry")
				}
			}
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		s.log.Info("session closed", "fragments", s.FragmentCount())
	})
}

// Wait blocks until all session goroutines have exited. Intended for tests
// and graceful shutdown.
func (s *Session) Wait() {
	s.wg.Wait()
}
