package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// corsMaxAge is how long browsers may cache a preflight answer, in seconds.
const corsMaxAge = 300

type Options struct {
	Port      string
	ClientURL string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type Server struct {
	logger *slog.Logger
	srv    *http.Server
}

// NewRouter wires every HTTP route of the service.
func NewRouter(logger *slog.Logger, useCase sessionUseCase, gatherer prometheus.Gatherer, opts Options) http.Handler {
	clientURL := strings.TrimRight(opts.ClientURL, "/")
	sessions := NewSessionHandlers(logger, useCase, clientURL)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if clientURL != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{clientURL},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         corsMaxAge,
		}))
	}
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/ping", PingHandler)
	r.Get("/health", HealthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", sessions.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", sessions.Get)
			r.Get("/qr", sessions.QRCode)
			r.Post("/join", sessions.Join)
			r.Post("/move", sessions.Move)
			r.Post("/reset", sessions.Reset)
		})
	})

	return r
}

func NewServer(logger *slog.Logger, handler http.Handler, opts Options) *Server {
	return &Server{
		logger: logger.With("component", "http"),
		srv: &http.Server{
			Addr:         ":" + opts.Port,
			Handler:      handler,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
	}
}

// Start blocks until the server fails or is shut down.
func (that *Server) Start() error {
	that.logger.Info("Starting HTTP server", "addr", that.srv.Addr)

	if err := that.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (that *Server) Shutdown(ctx context.Context) error {
	if err := that.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
