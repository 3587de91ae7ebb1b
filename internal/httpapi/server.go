// Package httpapi exposes the chat service over a small JSON HTTP surface,
// with completions streamed as server-sent events.
package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/binnykanjur/caption-zen/internal/chat"
	"github.com/binnykanjur/caption-zen/internal/metrics"
	"github.com/binnykanjur/caption-zen/internal/queue"
	"github.com/binnykanjur/caption-zen/internal/settings"
)

type Server struct {
	chats    *chat.Service
	settings *settings.Service
	limiter  *queue.RateLimiter
	ingest   *queue.StreamQueue
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type Config struct {
	Chats       *chat.Service
	Settings    *settings.Service
	RateLimiter *queue.RateLimiter
	Ingest      *queue.StreamQueue
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

func NewServer(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Server{
		chats:    cfg.Chats,
		settings: cfg.Settings,
		limiter:  cfg.RateLimiter,
		ingest:   cfg.Ingest,
		logger:   cfg.Logger,
		metrics:  m,
	}
}

// Handler builds the full route table. Health and metrics paths are
// configurable so deployments can hide them behind their own prefixes.
func (s *Server) Handler(healthPath, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET "+metricsPath, promhttp.Handler())

	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("POST /api/chats", s.handleCreateChat)
	mux.HandleFunc("GET /api/chats/{id}", s.handleGetChat)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)
	mux.HandleFunc("POST /api/chats/{id}/messages", s.handleAppendMessage)
	mux.HandleFunc("POST /api/chats/{id}/completions", s.handleStreamCompletion)

	mux.HandleFunc("GET /api/providers", s.handleListProviders)
	mux.HandleFunc("PUT /api/providers/{id}", s.handleSaveProvider)
	mux.HandleFunc("GET /api/settings/default-provider", s.handleGetDefaultProvider)

	return mux
}
