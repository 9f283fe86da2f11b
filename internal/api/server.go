// Package api provides the HTTP API server and handlers for the Tome application.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tomeapp/tome-server/internal/service"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	authService *service.AuthService
	bookService *service.BookService
	router      *chi.Mux
	logger      *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(authService *service.AuthService, bookService *service.BookService, allowedOrigins []string, logger *slog.Logger) *Server {
	s := &Server{
		authService: authService,
		bookService: bookService,
		router:      chi.NewRouter(),
		logger:      logger,
	}

	s.setupMiddleware(allowedOrigins)
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware(allowedOrigins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Health check.
	s.router.Get("/health", s.handleHealthCheck)

	// API v1.
	s.router.Route("/api/v1", func(r chi.Router) {
		// Auth endpoints (public, rate limited by IP).
		r.Route("/auth", func(r chi.Router) {
			r.Use(RateLimitMiddleware(NewRateLimiter(20, time.Minute, 5), s.logger))
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
		})

		// Protected user endpoints.
		r.Route("/users", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/me", s.handleGetCurrentUser)
		})

		// Books (require auth for ownership checks).
		r.Route("/books", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/", s.handleCreateBook)
			r.Get("/", s.handleListBooks)
			r.Get("/{id}", s.handleGetBook)
			r.Delete("/{id}", s.handleDeleteBook)
			r.Post("/{id}/start", s.handleStartBook)
			r.Post("/{id}/progress", s.handleUpdateProgress)
			r.Post("/{id}/finish", s.handleFinishBook)
			r.Post("/{id}/archive", s.handleArchiveBook)
			r.Get("/{id}/events", s.handleGetEvents)
		})
	})
}
