package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/confab/internal/observe"
	"github.com/MrWong99/confab/internal/session"
	"github.com/MrWong99/confab/pkg/provider/stt"
)

// writeTimeout bounds a single outbound event write. A client that stops
// reading for this long is considered dead.
const writeTimeout = 10 * time.Second

// handleWS upgrades the connection and runs one meeting session over it. The
// session id comes from the URL path; a missing id gets a fresh UUID so the
// client can connect to /ws without pre-registering.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients connect from arbitrary app origins; auth happens at
		// the deployment's edge, not here.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	err = s.runSession(r.Context(), conn, sessionID)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		if err != nil {
			s.log.Debug("session connection ended", "session_id", sessionID, "error", err)
		}
		conn.Close(websocket.StatusInternalError, "session ended")
	}
}

// runSession assembles a Session bound to conn and pumps inbound frames into
// it until the connection drops or ctx is cancelled. Returns the read error
// that ended the loop.
func (s *Server) runSession(ctx context.Context, conn *websocket.Conn, sessionID string) error {
	index, err := s.newIndex(ctx, sessionID)
	if err != nil {
		s.log.Error("failed to create semantic index", "session_id", sessionID, "error", err)
		return err
	}

	// A failed STT connect degrades the session instead of rejecting the
	// client: the session reports the failure and keeps serving text, Q&A,
	// and summaries.
	var handle stt.SessionHandle
	if s.cfg.STT != nil {
		handle, err = s.cfg.STT.StartStream(ctx, stt.StreamConfig{
			SampleRate: s.cfg.Session.SampleRate,
			Channels:   1,
			Language:   s.cfg.Session.Language,
		})
		if err != nil {
			s.log.Warn("failed to start transcription stream", "session_id", sessionID, "error", err)
			handle = nil
		}
	}

	sess, err := session.New(session.Config{
		ID:              sessionID,
		Writer:          &wsWriter{conn: conn, metrics: s.metrics},
		Handle:          handle,
		Embedder:        s.cfg.Embedder,
		Index:           index,
		Insight:         s.cfg.Insight,
		Registry:        s.registry,
		RetrievalK:      s.cfg.Session.RetrievalK,
		SummaryInterval: s.cfg.Session.SummaryInterval,
		Logger:          s.log,
		Metrics:         s.metrics,
	})
	if err != nil {
		index.Close()
		if handle != nil {
			handle.Close()
		}
		return err
	}
	if err := sess.Start(); err != nil {
		// Duplicate session id: the index and handle were handed to the
		// session, so its Close releases them.
		s.log.Warn("failed to start session", "session_id", sessionID, "error", err)
		sess.Close()
		return err
	}
	defer sess.Close()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			sess.HandleAudio(data)
		case websocket.MessageText:
			sess.HandleControl(data)
		}
	}
}

// wsWriter delivers session events to the client as JSON text frames. It
// implements session.EventWriter; serialization of concurrent pushes is the
// session's safeWriter's job, so Push itself carries no lock.
type wsWriter struct {
	conn    *websocket.Conn
	metrics *observe.Metrics
}

// Push writes one event with a bounded deadline.
func (w *wsWriter) Push(event any) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, w.conn, event); err != nil {
		return err
	}
	if w.metrics != nil {
		if t, ok := eventType(event); ok {
			w.metrics.RecordWSEvent(ctx, t)
		}
	}
	return nil
}

// eventType extracts the wire discriminator from a session event.
func eventType(event any) (string, bool) {
	switch ev := event.(type) {
	case session.ConnectionEvent:
		return ev.Type, true
	case session.TranscriptEvent:
		return ev.Type, true
	case session.AudioAckEvent:
		return ev.Type, true
	case session.TextAckEvent:
		return ev.Type, true
	case session.SummaryEvent:
		return ev.Type, true
	case session.ConversationPointsEvent:
		return ev.Type, true
	case session.AIAnswerEvent:
		return ev.Type, true
	case session.PongEvent:
		return ev.Type, true
	case session.ErrorEvent:
		return ev.Type, true
	default:
		return "", false
	}
}
