package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lectura-app/ai-service/pkg/agent"
	"github.com/lectura-app/ai-service/pkg/config"
	"github.com/lectura-app/ai-service/pkg/ingest"
)

// Ingestor runs the document ingestion pipeline.
type Ingestor interface {
	Process(ctx context.Context, courseID, slideID, s3FileName string) (ingest.Result, error)
}

// QueryAgent answers conversation turns.
type QueryAgent interface {
	ProcessQuery(ctx context.Context, req agent.Request) agent.Response
}

// ChunkDeleter removes a document's chunks from the vector store.
type ChunkDeleter interface {
	DeleteByDocument(ctx context.Context, courseID, slideID, s3FileName string) (int64, error)
}

// ConversationClearer wipes a conversation thread.
type ConversationClearer interface {
	Clear(ctx context.Context, threadID string) error
}

// Dependencies wires the HTTP surface to the pipelines behind it.
type Dependencies struct {
	Ingestor      Ingestor
	Agent         QueryAgent
	Deleter       ChunkDeleter
	Conversations ConversationClearer
}

// Server exposes the service over HTTP.
type Server struct {
	deps       Dependencies
	logger     *slog.Logger
	httpServer *http.Server
}

func NewServer(cfg *config.ServerConfig, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{deps: deps, logger: logger}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// Router builds the route table. Exposed so tests can drive handlers
// without a listening socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Post("/inbound", s.handleInbound)
	r.Post("/outbound", s.handleOutbound)
	r.Post("/management/delete", s.handleDelete)
	r.Post("/conversation/clear", s.handleClearConversation)

	return r
}

func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(started))
	})
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	respondJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
