// Package server is the browser front end: a JSON API over per-session
// desks plus the embedded single-page UI that renders them.
package server

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/bucketdesk/internal/config"
	"github.com/koustreak/bucketdesk/internal/desk"
	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/filestore/provider"
	"github.com/koustreak/bucketdesk/internal/journal"
	"github.com/koustreak/bucketdesk/internal/logger"
	"golang.org/x/sync/errgroup"
)

//go:embed web
var webFS embed.FS

// DefaultBlobPath is where signed links of self-serving stores are mounted.
const DefaultBlobPath = "/_blob"

// sweepInterval is how often idle sessions are looked for.
const sweepInterval = time.Minute

// Option configures a Server.
type Option func(*Server)

// WithJournal records uploads and deletes and serves them on /api/activity.
func WithJournal(j journal.Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithLogger sets the logger. Default: logger.Global().
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithHTTPClient sets the client desks use to fetch signed links.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.client = c }
}

// WithBlobPath mounts a self-serving store's links under path instead of
// DefaultBlobPath. It must match the path of the store's endpoint.
func WithBlobPath(path string) Option {
	return func(s *Server) { s.blobPath = path }
}

// Server serves the UI and API for one bucket.
type Server struct {
	cfg      config.ServerConfig
	store    filestore.Store
	deskCfg  desk.Config
	journal  journal.Journal
	log      *logger.Logger
	client   *http.Client
	blobPath string
	sessions *sessions
	handler  http.Handler
}

// New wires the routes. The store is shared by every session.
func New(cfg config.ServerConfig, store filestore.Store, deskCfg desk.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		deskCfg:  deskCfg,
		journal:  journal.Discard,
		log:      logger.Global(),
		client:   http.DefaultClient,
		blobPath: DefaultBlobPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Component("server")
	s.sessions = newSessions(s.newDesk, s.log)
	s.handler = s.routes()
	return s
}

func (s *Server) newDesk() *desk.Desk {
	return desk.New(s.store, s.deskCfg,
		desk.WithJournal(s.journal),
		desk.WithLogger(s.log),
		desk.WithHTTPClient(s.client),
	)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders)

	static, _ := fs.Sub(webFS, "web")
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		// The page's first API calls race each other; starting the session
		// here gives them one cookie to share. A failure is reported by the
		// API once the page asks for state.
		if _, err := s.ensureSession(w, r); err != nil {
			logger.FromContext(r.Context()).With().Err(err).Logger().Debug("session not started")
		}
		http.ServeFileFS(w, r, static, "index.html")
	})
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(static)))
	r.Get("/healthz", s.healthz)

	if bs, ok := s.store.(provider.BlobServer); ok {
		r.Handle(s.blobPath+"/*", bs.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.sessionMiddleware)
		r.Get("/state", s.state)
		r.Post("/selection", s.addFiles)
		r.Delete("/selection", s.clearSelection)
		r.Delete("/selection/{name}", s.removeFile)
		r.Post("/upload", s.upload)
		r.Post("/refresh", s.refresh)
		r.Get("/search", s.search)
		r.Get("/objects/download", s.download)
		r.Get("/objects/open", s.open)
		r.Delete("/objects", s.deleteObject)
		r.Get("/activity", s.activity)
	})
	return r
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down within
// ShutdownTimeout and closes every session.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.log.WithContext(context.Background()) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.With().Str("addr", ln.Addr().String()).Logger().Info("listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if s.cfg.SessionIdleTimeout <= 0 {
			<-gctx.Done()
			return nil
		}
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-t.C:
				if n := s.sessions.sweep(now, s.cfg.SessionIdleTimeout); n > 0 {
					s.log.With().Int("sessions", n).Logger().Info("idle sessions closed")
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.sessions.closeAll()
		return err
	})
	return g.Wait()
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout
	}
	return 10 * time.Second
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context(), s.deskCfg.Bucket); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "bucket": s.deskCfg.Bucket})
}
