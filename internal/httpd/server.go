package httpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"imagestash/internal/logging"
	"imagestash/pkg/bytestore"
	"imagestash/pkg/displayurl"
	"imagestash/pkg/filebytes"
)

var httplog = logging.For("httpd")

const shutdownTimeout = 5 * time.Second

// Options wires the server to the image components.
type Options struct {
	Addr           string
	Store          bytestore.Store
	Converter      *displayurl.Converter
	Registry       *displayurl.Registry // serves /blob/{id}; nil disables the route's content
	AllowedOrigins []string
	MaxUploadBytes int64
	// WritesPerSecond throttles PUT and POST per client; 0 disables.
	WritesPerSecond float64
}

// Server exposes blob URLs and the store over HTTP.
type Server struct {
	addr      string
	store     bytestore.Store
	files     filebytes.Reader
	converter *displayurl.Converter
	registry  *displayurl.Registry
	maxUpload int64
	limiter   *RateLimiter
	handler   http.Handler

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// NewServer builds the router. Call Listen and Serve, or Start, to run it.
func NewServer(opts Options) *Server {
	s := &Server{
		addr:      opts.Addr,
		store:     opts.Store,
		files:     filebytes.Reader{MaxBytes: opts.MaxUploadBytes},
		converter: opts.Converter,
		registry:  opts.Registry,
		maxUpload: opts.MaxUploadBytes,
	}
	if opts.WritesPerSecond > 0 {
		s.limiter = NewRateLimiter(opts.WritesPerSecond, nil)
	}
	s.handler = s.routes(opts.AllowedOrigins)
	return s
}

func (s *Server) routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "PUT", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "If-None-Match"},
		ExposedHeaders: []string{"Content-Length", "ETag"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/"+displayurl.BlobPath+"/{id}", s.handleBlob)

	r.Route("/stores/{store}/images/{key}", func(ir chi.Router) {
		ir.Get("/", s.handleFetch)
		ir.Group(func(wr chi.Router) {
			if s.limiter != nil {
				wr.Use(s.limiter.Middleware)
			}
			wr.Put("/", s.handleUpload)
			wr.Post("/url", s.handleDisplayURL)
		})
	})
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the server socket. Call Serve to start handling requests.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()
	return nil
}

// Addr returns the listener's address. Useful when listening on :0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve handles requests until ctx is cancelled. Call Listen first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln, srv := s.listener, s.srv
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		s.shutdown(srv)
	}()
	if s.limiter != nil {
		go s.limiter.CleanupLoop(ctx.Done(), time.Minute)
	}

	httplog.Info("serving", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Start is a convenience that calls Listen + Serve.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv != nil {
		s.shutdown(srv)
	}
}

func (s *Server) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		httplog.Warn("shutdown", "err", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		httplog.Debug("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
		)
	})
}
