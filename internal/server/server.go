// Package server exposes the analysis pipeline over HTTP. Analysis and
// explanation responses are server-sent event streams.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/examprep/examprep-cli/internal/gateway"
	"github.com/examprep/examprep-cli/internal/model"
	"github.com/examprep/examprep-cli/internal/pipeline"
	"github.com/examprep/examprep-cli/internal/resilience"
	"github.com/examprep/examprep-cli/internal/store"
)

// Analyzer runs analyses and explanations.
type Analyzer interface {
	Analyze(ctx context.Context, src model.SourceInput, meta model.RunMetadata, opts ...pipeline.Option) (*model.AnalysisResult, error)
	Explain(ctx context.Context, topic string) (io.ReadCloser, error)
}

// Server holds the HTTP handlers.
type Server struct {
	engine     Analyzer
	store      store.CheckpointStore
	breakers   *resilience.Breakers
	origins    []string
	maxUpload  int64
	chunkLines int
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithMaxUploadMB caps the multipart request size.
func WithMaxUploadMB(mb int) Option {
	return func(s *Server) {
		if mb > 0 {
			s.maxUpload = int64(mb) << 20
		}
	}
}

// WithBreakers reports provider circuit states on /health.
func WithBreakers(b *resilience.Breakers) Option {
	return func(s *Server) { s.breakers = b }
}

// New creates a Server. st may be nil, in which case the checkpoint routes
// answer 503.
func New(engine Analyzer, st store.CheckpointStore, opts ...Option) *Server {
	s := &Server{
		engine:     engine,
		store:      st,
		origins:    []string{"*"},
		maxUpload:  gateway.MaxImageBytes,
		chunkLines: 8,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/explain", s.handleExplain)
		r.Route("/checkpoints", func(r chi.Router) {
			r.Get("/", s.handleListCheckpoints)
			r.Get("/{id}", s.handleGetCheckpoint)
			r.Delete("/{id}", s.handleDiscardCheckpoint)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.breakers != nil {
		circuits := make(map[string]string)
		for _, p := range []string{gateway.ProviderAnthropic, gateway.ProviderPerplexity} {
			circuits[p] = s.breakers.Get(p).State().String()
		}
		body["circuits"] = circuits
	}
	writeJSON(w, http.StatusOK, body)
}

// Run serves h on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("server: listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "server: shutdown")
	})
	return g.Wait()
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

func statusFor(c gateway.Category) int {
	switch c {
	case gateway.CategoryConfig:
		return http.StatusServiceUnavailable
	case gateway.CategoryInput:
		return http.StatusBadRequest
	case gateway.CategoryRateLimit:
		return http.StatusTooManyRequests
	case gateway.CategoryQuota:
		return http.StatusPaymentRequired
	case gateway.CategoryUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorFor(err error) errorBody {
	cat := gateway.CategoryOf(err)
	msg := "Something went wrong. Please try again."
	if cat != "" {
		msg = cat.UserMessage()
	}
	return errorBody{Error: err.Error(), Category: string(cat), Message: msg}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(gateway.CategoryOf(err)), errorFor(err))
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, &gateway.Error{Category: gateway.CategoryInput, Err: errors.New(msg)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}
