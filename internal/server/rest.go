package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrWong99/confab/internal/session"
)

// sessionSummary is the list entry returned by GET /sessions.
type sessionSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Fragments int       `json:"fragments"`
}

// sessionDetail is returned by GET /sessions/{id}.
type sessionDetail struct {
	sessionSummary
	RecentFragments []string `json:"recent_fragments"`
}

// recentFragmentCount caps the transcript tail exposed over REST.
const recentFragmentCount = 20

// handleRoot reports service identity, mirroring the connection banner.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service":         "confab",
		"active_sessions": s.registry.Len(),
	})
}

// handleSessions lists the live sessions.
func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	ids := s.registry.IDs()
	sessions := make([]sessionSummary, 0, len(ids))
	for _, id := range ids {
		sess, err := s.registry.Get(id)
		if err != nil {
			// Closed between IDs and Get; skip.
			continue
		}
		sessions = append(sessions, summarize(sess))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// handleSessionDetail returns one session with its recent transcript tail.
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if errors.Is(err, session.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, sessionDetail{
		sessionSummary:  summarize(sess),
		RecentFragments: sess.RecentFragments(recentFragmentCount),
	})
}

func summarize(sess *session.Session) sessionSummary {
	return sessionSummary{
		ID:        sess.ID(),
		CreatedAt: sess.CreatedAt(),
		Fragments: sess.FragmentCount(),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", "error", err)
	}
}
