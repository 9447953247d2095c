// Package server exposes Confab over HTTP: the /ws/{session_id} WebSocket
// endpoint that carries a live meeting session, a small REST surface for
// inspecting active sessions, and the operational endpoints (/metrics,
// /healthz, /readyz).
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/confab/internal/config"
	"github.com/MrWong99/confab/internal/health"
	"github.com/MrWong99/confab/internal/observe"
	"github.com/MrWong99/confab/internal/session"
	"github.com/MrWong99/confab/pkg/memory"
	"github.com/MrWong99/confab/pkg/memory/postgres"
	"github.com/MrWong99/confab/pkg/provider/embeddings"
	"github.com/MrWong99/confab/pkg/provider/stt"
)

// shutdownTimeout bounds graceful HTTP shutdown after ctx cancellation.
const shutdownTimeout = 10 * time.Second

// Config assembles everything the server needs. STT may be nil; sessions then
// run without transcription and report the degraded state to the client.
type Config struct {
	// ListenAddr is the address the HTTP server binds to (e.g. ":8080").
	ListenAddr string

	// TLS, when non-nil, switches the listener to HTTPS.
	TLS *config.TLSConfig

	// STT opens streaming transcription sessions. Nil disables transcription.
	STT stt.Provider

	// Embedder produces vectors for fragments and questions. Required.
	Embedder embeddings.Provider

	// Insight produces summaries, conversation points, and answers. Required.
	Insight session.InsightClient

	// Pool, when non-nil, backs each session's semantic index with Postgres.
	// Nil selects the in-process index.
	Pool *pgxpool.Pool

	// Session carries per-session tuning from the config file.
	Session config.SessionConfig

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Server is the Confab HTTP/WebSocket front end.
type Server struct {
	cfg      Config
	registry *session.Registry
	log      *slog.Logger
	metrics  *observe.Metrics
}

// New validates cfg and assembles a Server.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("server: Embedder must not be nil")
	}
	if cfg.Insight == nil {
		return nil, fmt.Errorf("server: Insight must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Server{
		cfg:      cfg,
		registry: session.NewRegistry(),
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Registry returns the live session registry.
func (s *Server) Registry() *session.Registry { return s.registry }

// Handler builds the full route table wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionDetail)
	mux.HandleFunc("/ws/{id}", s.handleWS)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.healthHandler().Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

// healthHandler assembles readiness checks for the configured dependencies.
func (s *Server) healthHandler() *health.Handler {
	var checkers []health.Checker
	if s.cfg.Pool != nil {
		checkers = append(checkers, health.Checker{
			Name:  "postgres",
			Check: s.cfg.Pool.Ping,
		})
	}
	checkers = append(checkers, health.Checker{
		Name: "providers",
		Check: func(context.Context) error {
			if s.cfg.STT == nil {
				return errors.New("stt provider not configured")
			}
			return nil
		},
	})
	return health.New(checkers...)
}

// Run serves HTTP until ctx is cancelled, then drains open sessions and shuts
// the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if s.cfg.TLS != nil {
			s.log.Info("listening", "addr", s.cfg.ListenAddr, "tls", true)
			err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.log.Info("listening", "addr", s.cfg.ListenAddr, "tls", false)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		s.closeAllSessions()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// closeAllSessions tears down every live session during shutdown.
func (s *Server) closeAllSessions() {
	for _, id := range s.registry.IDs() {
		if sess, err := s.registry.Get(id); err == nil {
			sess.Close()
		}
	}
}

// newIndex builds the per-session semantic index for the configured backend.
func (s *Server) newIndex(ctx context.Context, sessionID string) (memory.SemanticIndex, error) {
	if s.cfg.Pool != nil {
		return postgres.NewIndex(ctx, s.cfg.Pool, sessionID)
	}
	return memory.NewMemIndex(), nil
}
