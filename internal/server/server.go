package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"hospital-backend/internal/db"
	"hospital-backend/internal/web"
)

// APIPrefix is the versioned root the route groups are mounted under.
const APIPrefix = "/api/v2"

// AllowedMethods is the static CORS method allow-list.
var AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// Mount binds a route group to a path prefix below APIPrefix.
type Mount struct {
	Prefix  string // e.g. "/message"
	Handler http.Handler
}

// Database is the view of the database connector the server needs.
type Database interface {
	State() db.State
	Ping(ctx context.Context) error
}

// Checker reports whether an external dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

type Config struct {
	Addr           string // e.g. ":4000"
	Version        string
	AllowedOrigins []string
	UploadDir      string
	MaxUploadBytes int64
	MaxJSONBytes   int64
	Mounts         []Mount
	Database       Database
	Storage        Checker // nil when object storage is not configured
	Metrics        *Metrics
	Logger         zerolog.Logger
}

type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
	version    string
	database   Database
	storage    Checker
	metrics    *Metrics
}

// New composes the middleware chain and routes. Order, outermost first:
// request id, security headers, access log, error handler, CORS, cookies,
// JSON, URL-encoded, multipart, routes.
func New(cfg Config) *Server {
	s := &Server{
		log:      cfg.Logger.With().Str("component", "http").Logger(),
		version:  cfg.Version,
		database: cfg.Database,
		storage:  cfg.Storage,
		metrics:  cfg.Metrics,
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(cfg.Database)
	}

	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(securityHeadersMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(web.ErrorHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   AllowedMethods,
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerRequestID},
		ExposedHeaders:   []string{headerRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(web.ParseCookies)
	r.Use(web.ParseJSON(cfg.MaxJSONBytes))
	r.Use(web.ParseURLEncoded(cfg.MaxJSONBytes))
	r.Use(web.ParseMultipart(web.UploadOptions{
		Dir:      cfg.UploadDir,
		MaxBytes: cfg.MaxUploadBytes,
		OnFile:   s.metrics.RecordUpload,
	}))

	r.NotFound(web.Handle(func(w http.ResponseWriter, r *http.Request) error {
		return web.NewError(http.StatusNotFound, "route not found")
	}))
	r.MethodNotAllowed(web.Handle(func(w http.ResponseWriter, r *http.Request) error {
		return web.NewError(http.StatusMethodNotAllowed, "method not allowed")
	}))

	r.Get("/live", s.HandleLive)
	r.Get("/ready", s.HandleReady)
	r.Get("/health", s.HandleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route(APIPrefix, func(api chi.Router) {
		for _, m := range cfg.Mounts {
			api.Mount(m.Prefix, m.Handler)
		}
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the composed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.httpServer.Addr)
}

// Serve accepts connections on ln until Shutdown. A clean shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start binds and serves.
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
