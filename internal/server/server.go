// Package server exposes the Murmur HTTP API: audio processing, capture
// ingest over WebSocket, note CRUD, account/session endpoints, and the
// operational surface (/healthz, /metrics).
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/murmurhq/murmur/internal/auth"
	"github.com/murmurhq/murmur/internal/capture"
	"github.com/murmurhq/murmur/internal/config"
	"github.com/murmurhq/murmur/internal/enhance"
	"github.com/murmurhq/murmur/internal/observe"
	"github.com/murmurhq/murmur/internal/pipeline"
	"github.com/murmurhq/murmur/internal/store"
	"github.com/murmurhq/murmur/internal/style"
	"github.com/murmurhq/murmur/internal/transcribe"
)

// shutdownGrace bounds how long in-flight requests may run after a shutdown
// signal.
const shutdownGrace = 15 * time.Second

// Deps bundles everything the server needs. Auth and Notes may be nil, in
// which case the account and note endpoints respond 503 and audio processing
// runs guest-only.
type Deps struct {
	Transcriber *transcribe.Gateway
	Enhancer    *enhance.Gateway
	Capture     *capture.Manager
	Styles      *style.Table
	Auth        *auth.Service
	Notes       store.NoteStore
	Metrics     *observe.Metrics
}

// Server is the Murmur HTTP server.
type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	router  chi.Router
	log     *slog.Logger
	metrics *observe.Metrics

	// mu guards pipelines, one per caller identity so that a single caller
	// cannot run two processing jobs at once. Entries are reference-counted
	// and evicted once no request holds them, so the map is bounded by the
	// number of concurrent callers.
	mu        sync.Mutex
	pipelines map[string]*pipelineEntry
}

// pipelineEntry tracks how many in-flight requests hold a caller's pipeline.
type pipelineEntry struct {
	p    *pipeline.Pipeline
	refs int
}

// New assembles the server and its routes.
func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Transcriber == nil || deps.Enhancer == nil {
		return nil, errors.New("server: transcriber and enhancer are required")
	}
	if deps.Capture == nil {
		return nil, errors.New("server: capture manager is required")
	}
	if deps.Styles == nil {
		return nil, errors.New("server: style table is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		log:       slog.Default().With("component", "server"),
		metrics:   deps.Metrics,
		pipelines: make(map[string]*pipelineEntry),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(observe.Middleware(s.metrics))
	if s.deps.Auth != nil {
		r.Use(s.deps.Auth.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/process-audio", s.handleProcessAudio)
		r.Get("/styles", s.handleListStyles)
		r.Get("/capture", s.handleCapture)

		r.Post("/auth/signup", s.handleSignUp)
		r.Post("/auth/signin", s.handleSignIn)
		r.Post("/auth/signout", s.handleSignOut)
		r.Get("/auth/me", s.handleMe)

		r.Group(func(r chi.Router) {
			r.Use(auth.Require)
			r.Route("/notes", func(r chi.Router) {
				r.Get("/", s.handleListNotes)
				r.Post("/", s.handleCreateNote)
				r.Get("/{noteID}", s.handleGetNote)
				r.Put("/{noteID}", s.handleUpdateNote)
				r.Delete("/{noteID}", s.handleDeleteNote)
			})
			r.Route("/folders", func(r chi.Router) {
				r.Get("/", s.handleListFolders)
				r.Post("/", s.handleCreateFolder)
			})
			r.Route("/tags", func(r chi.Router) {
				r.Get("/", s.handleListTags)
				r.Post("/", s.handleCreateTag)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// callerKey identifies the caller for the one-run-at-a-time guard: the
// account ID when authenticated, otherwise the client host. Guest keys
// exclude the source port so that parallel uploads from one host share a
// single in-flight slot instead of each TCP connection getting its own.
func callerKey(r *http.Request) (key string, authenticated bool) {
	if id := auth.FromContext(r.Context()); id != nil {
		return id.UserID.String(), true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "guest:" + host, false
}

// acquirePipeline returns the caller's pipeline, creating it on first use.
// Each identity gets its own so one caller cannot occupy another's in-flight
// slot. Every successful acquire must be paired with a releasePipeline call.
func (s *Server) acquirePipeline(key string) (*pipeline.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pipelines[key]; ok {
		e.refs++
		return e.p, nil
	}
	p, err := pipeline.New(s.deps.Transcriber, s.deps.Enhancer, s.metrics)
	if err != nil {
		return nil, err
	}
	s.pipelines[key] = &pipelineEntry{p: p, refs: 1}
	return p, nil
}

// releasePipeline drops one reference to key's pipeline and evicts the entry
// once nothing holds it.
func (s *Server) releasePipeline(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pipelines[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(s.pipelines, key)
	}
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests for
// up to shutdownGrace.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLS != nil)
		var err error
		if s.cfg.TLS != nil {
			err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
