// Package dashboard serves the REST API behind the Kanban dashboard: the
// notepad, the task board, stored memories, the agent status and the Live
// Canvas WebSocket.
package dashboard

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/agent"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/board"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/memory"
)

// Config holds dashboard configuration.
type Config struct {
	// Enabled turns the dashboard API on/off.
	Enabled bool `yaml:"enabled"`

	// Address is the listen address (default: ":4001").
	Address string `yaml:"address"`

	// AuthToken is the Bearer token for authentication (empty = no auth).
	AuthToken string `yaml:"auth_token"`

	// AllowedOrigins is the CORS allowlist; also used for the canvas
	// WebSocket handshake. "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Canvas is the Live Canvas endpoint. canvas.Hub satisfies it.
type Canvas interface {
	http.Handler
	Count() int
}

// Deps are the stores the API reads and writes. Facts, Episodes and Canvas
// are optional.
type Deps struct {
	Board    *board.Board
	Notepad  *board.Notepad
	Facts    *memory.FactStore
	Episodes *memory.EpisodicStore
	Status   *agent.StatusBoard
	Canvas   Canvas

	// Notifier announces tasks moved to Review from the dashboard.
	Notifier board.Notifier
}

// Server is the dashboard HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// New creates a dashboard server.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = ":4001"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "dashboard"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(cors(s.cfg.AllowedOrigins))

	r.Group(func(r chi.Router) {
		r.Use(s.auth)

		r.Get("/api/status", s.handleStatus)
		r.Get("/api/agent-status", s.handleStatus)

		r.Get("/api/notepad", s.handleGetNotepad)
		r.Put("/api/notepad", s.handlePutNotepad)
		r.Post("/api/notepad", s.handlePutNotepad)

		r.Get("/api/facts", s.handleFacts)
		r.Get("/api/memories", s.handleMemories)

		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Patch("/{id}", s.handleUpdateTask)
			r.Put("/{id}", s.handleUpdateTask)
			r.Delete("/{id}", s.handleDeleteTask)
		})

		if s.deps.Canvas != nil {
			r.Get("/ws/canvas", s.deps.Canvas.ServeHTTP)
		}
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Address,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard API starting", "address", s.cfg.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("dashboard API stopped")
	return nil
}

// auth validates the bearer token if configured. Browsers cannot set headers
// on WebSocket handshakes, so the token is also accepted as a query param.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors answers preflights and sets headers for allowed origins.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					break
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
