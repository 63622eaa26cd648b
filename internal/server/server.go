// File: internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/analysis"
	"github.com/xkilldash9x/bitesense/internal/chat"
	"github.com/xkilldash9x/bitesense/internal/config"
	"github.com/xkilldash9x/bitesense/internal/imageprep"
)

const (
	shutdownTimeout = 30 * time.Second
	maxChatBody     = 1 << 20
	// Uploads beyond this stay on disk while the form is parsed.
	multipartMemory = 8 << 20
)

// Analyzer runs and loads bite analyses.
type Analyzer interface {
	Analyze(ctx context.Context, img *schemas.Image, opts analysis.RunOptions) analysis.Outcome
	Open(ctx context.Context, recordID string) (analysis.Outcome, error)
}

// History lists and clears stored records.
type History interface {
	List(ctx context.Context) ([]schemas.BiteRecord, error)
	Clear(ctx context.Context) error
}

// ChatSender answers follow-up questions about a record.
type ChatSender interface {
	Send(ctx context.Context, conv *chat.Conversation, text string, onFragment func(string)) (chat.Message, error)
}

// Server exposes analysis, history and chat over HTTP.
type Server struct {
	cfg        config.ServerConfig
	analyzer   Analyzer
	history    History
	chat       ChatSender
	prep       *imageprep.Preparer
	logger     *zap.Logger
	runTimeout time.Duration
	httpServer *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithRunTimeout bounds each analysis request.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Server) { s.runTimeout = d }
}

// New creates a Server. Call Run to start listening, or mount Handler.
func New(cfg config.ServerConfig, analyzer Analyzer, history History, chatSender ChatSender, prep *imageprep.Preparer, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		analyzer: analyzer,
		history:  history,
		chat:     chatSender,
		prep:     prep,
		logger:   logger.Named("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthCheck)

	// WebSocket routes stay outside the request logger, which wraps the writer.
	r.Get("/ws/v1/history/{id}/chat", s.handleChatSocket)

	r.Group(func(r chi.Router) {
		r.Use(requestLogger(s.logger))
		r.Route("/v1", func(r chi.Router) {
			r.Post("/analyses", s.handleAnalyze)
			r.Get("/history", s.handleListHistory)
			r.Delete("/history", s.handleClearHistory)
			r.Get("/history/{id}", s.handleGetRecord)
			r.Post("/history/{id}/chat", s.handleChat)
		})
	})
	return r
}

// Run listens until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", zap.String("address", s.cfg.Address))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	<-errCh
	s.logger.Info("HTTP API stopped")
	return nil
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

func (s *Server) maxUpload() int64 {
	if s.cfg.MaxUploadBytes <= 0 {
		return 16 << 20
	}
	return s.cfg.MaxUploadBytes
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("Request served",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
