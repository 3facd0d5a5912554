package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/takakanai/github-issue-linker/pkg/domain/interfaces"
	"github.com/takakanai/github-issue-linker/pkg/usecase"
)

// config holds internal HTTP server configuration
type config struct {
	addr string
}

// Option is a functional option for Server configuration
type Option func(*config)

// WithAddr sets the server address
func WithAddr(addr string) Option {
	return func(c *config) {
		c.addr = addr
	}
}

// Server represents the HTTP server
type Server struct {
	*http.Server
}

// NewServer creates the API surface: stateless scans, page sessions,
// mapping CRUD, and preferences.
func NewServer(
	ctx context.Context,
	scanner *usecase.PageScanner,
	sessions *usecase.SessionManager,
	store interfaces.Storage,
	opts ...Option,
) (*Server, error) {
	// Default configuration
	cfg := &config{
		addr: "localhost:8080",
	}

	// Apply options
	for _, opt := range opts {
		opt(cfg)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggingMiddleware(ctx))
	router.Use(middleware.Recoverer)

	// Health check
	router.Get("/health", handleHealth(sessions))

	scanH := newScanHandler(scanner, validate)
	sessionH := newSessionHandler(sessions, validate)
	mappingH := newMappingHandler(store, validate)
	prefsH := newPreferencesHandler(store)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/scan", scanH.handleScan)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionH.handleOpen)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Delete("/", sessionH.handleClose)
				r.Post("/mutations", sessionH.handleMutations)
				r.Post("/navigation", sessionH.handleNavigation)
				r.Post("/visibility", sessionH.handleVisibility)
				r.Get("/detections", sessionH.handleDetections)
			})
		})

		r.Route("/mappings", func(r chi.Router) {
			r.Get("/", mappingH.handleList)
			r.Post("/", mappingH.handleCreate)
			r.Put("/{mappingID}", mappingH.handleUpdate)
			r.Delete("/{mappingID}", mappingH.handleDelete)
		})

		r.Get("/preferences", prefsH.handleGet)
		r.Put("/preferences", prefsH.handlePut)
	})

	server := &Server{
		Server: &http.Server{
			Addr:              cfg.addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
		},
	}

	return server, nil
}
