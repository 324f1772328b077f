package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"ollama-chat-bridge/internal/backend"
	"ollama-chat-bridge/internal/config"
	"ollama-chat-bridge/internal/session"
	"ollama-chat-bridge/internal/store"
	"ollama-chat-bridge/internal/telemetry"
	"ollama-chat-bridge/internal/types"
)

const (
	healthCheckTimeout  = 3 * time.Second
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// modelLister is implemented by backends that can report installed models.
type modelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

type Server struct {
	router     *chi.Mux
	cfg        config.Config
	backend    backend.Client
	ledger     store.Ledger
	sessions   *session.Manager
	catalog    *config.ModelCatalog
	catalogErr error
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

func NewServer(cfg config.Config) (*Server, error) {
	logger := slog.Default()

	ledger, err := store.Open(context.Background(), cfg.DatabaseURL, cfg.LedgerMaxRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to open generation ledger: %w", err)
	}

	catalog, catalogErr := config.LoadModelCatalog(cfg.ModelsFile)
	if catalogErr != nil {
		if errors.Is(catalogErr, fs.ErrNotExist) {
			logger.Warn("models file not found", "path", cfg.ModelsFile)
		} else {
			logger.Error("failed to load models file", "path", cfg.ModelsFile, "error", catalogErr)
		}
	}
	defaultModel := config.ResolveDefaultModel(cfg.DefaultModel, catalog)

	metrics, err := telemetry.NewMetrics(otel.Meter(telemetry.InstrumentationName))
	if err != nil {
		logger.Warn("failed to create metrics, continuing without them", "error", err)
		metrics = nil
	}

	client := backend.New(cfg)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:  r,
		cfg:     cfg,
		backend: client,
		ledger:  ledger,
		sessions: session.NewManager(session.Options{
			Backend:      client,
			DefaultModel: defaultModel,
			Ledger:       ledger,
			Logger:       logger,
			Metrics:      metrics,
		}),
		catalog:    catalog,
		catalogErr: catalogErr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	s.routes()

	logger.Info("server configured",
		"backend", cfg.BackendAPI,
		"ollama_host", cfg.OllamaHost,
		"default_model", defaultModel,
		"static_dir", cfg.StaticDir)
	return s, nil
}

func (s *Server) routes() {
	s.router.Get("/", s.handleIndex)
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/models", s.handleModels)
	s.router.Get("/api/sessions", s.handleSessions)
	s.router.Get("/api/generations", s.handleGenerations)
	s.router.Get("/ws/chat", s.handleChatSocket)
}

func (s *Server) Router() http.Handler { return s.router }

// Sessions exposes the session manager, mainly for shutdown and tests.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Close ends every live session and releases the ledger.
func (s *Server) Close() error {
	s.sessions.CloseAll()
	return s.ledger.Close()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, "index.html"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:         "ok",
		ActiveSessions: s.sessions.Registry().Len(),
		Backend:        s.cfg.BackendAPI,
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	if lister, ok := s.backend.(modelLister); ok {
		if _, err := lister.ListModels(ctx); err != nil {
			resp.Status = "degraded"
			resp.BackendError = err.Error()
		}
	}
	if p, ok := s.ledger.(store.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.LedgerError = err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.catalogErr != nil {
		if errors.Is(s.catalogErr, fs.ErrNotExist) {
			s.writeError(w, http.StatusNotFound, "models file not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load models file")
		return
	}
	s.writeJSON(w, http.StatusOK, s.catalog)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.sessions.Registry().Snapshot(),
	})
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	recs, err := s.ledger.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read generation ledger", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read generations")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"generations": recs})
}

func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	err = s.sessions.Serve(r.Context(), conn)
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.logger.Debug("chat socket ended", "remote", r.RemoteAddr, "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg})
}
