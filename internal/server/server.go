package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/christopherjohns/chatline/internal/auth"
	"github.com/christopherjohns/chatline/internal/config"
	"github.com/christopherjohns/chatline/internal/logging"
	"github.com/christopherjohns/chatline/internal/message"
	"github.com/christopherjohns/chatline/internal/ratelimit"
	"github.com/christopherjohns/chatline/internal/user"
	"github.com/christopherjohns/chatline/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Hub        *ws.Hub
	Auth       *auth.Service
	Tokens     *auth.Tokens
	Users      user.Repository
	Messages   message.Store
	UploadsDir string
	Log        *slog.Logger
}

// Server is the HTTP and WebSocket front end of chatline.
type Server struct {
	cfg     *config.Config
	router  chi.Router
	hub     *ws.Hub
	auth    *auth.Service
	tokens  *auth.Tokens
	users   user.Repository
	store   message.Store
	uploads string
	limiter *ratelimit.IPLimiter
	log     *slog.Logger
	started time.Time
}

// New creates a Server from cfg and d.
func New(cfg *config.Config, d Deps) *Server {
	log := d.Log
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{
		cfg:     cfg,
		router:  chi.NewRouter(),
		hub:     d.Hub,
		auth:    d.Auth,
		tokens:  d.Tokens,
		users:   d.Users,
		store:   d.Messages,
		uploads: d.UploadsDir,
		limiter: ratelimit.NewIPLimiter(cfg.Auth.RateLimit, cfg.Auth.RateWindow),
		log:     log,
		started: time.Now(),
	}
	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.cfg.HTTP.ClientOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
	})
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/profile", s.handleProfile)
		r.Get("/people", s.handlePeople)
		r.Get("/online", s.handleOnline)
		r.Get("/messages/{userId}", s.handleConversation)
		r.Delete("/messages/{id}", s.handleDeleteMessage)
	})

	if s.uploads != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", noListing(http.FileServer(http.Dir(s.uploads)))))
	}

	r.Method(http.MethodGet, "/ws", ws.NewHandler(s.hub, s.tokens,
		ws.WithOriginPatterns(originPatterns(s.cfg.HTTP.ClientOrigin)...),
		ws.WithMaxFrameBytes(s.cfg.Hub.MaxFrameBytes),
		ws.WithHandlerLogger(s.log),
	))
}

// Run serves until ctx is cancelled, then stops accepting requests and
// closes every WebSocket connection.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.HTTP.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.HTTP.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		s.hub.Shutdown()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.hub.Shutdown()
	if serveErr := <-errc; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// originPatterns turns the configured client origin into the host pattern
// the WebSocket accept check expects.
func originPatterns(origin string) []string {
	if origin == "" {
		return nil
	}
	if origin == "*" {
		return []string{"*"}
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
