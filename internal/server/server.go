// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/metrics"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/sse"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxMessageCount is the maximum number of messages in a chat request.
	MaxMessageCount = 500

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// Version is the server version.
	Version = "0.1.0"
)

// ============================================================================
// WIRE TYPES
// ============================================================================

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages []model.Message `json:"messages"`
}

// ExportRequest is the body of POST /export.
type ExportRequest struct {
	Dialogue *model.Conversation `json:"dialogue"`
}

// ExportResponse is the body of a successful POST /export.
type ExportResponse struct {
	URL string `json:"url"`
}

// ModelsResponse is the body of GET /models.
type ModelsResponse struct {
	Models []string `json:"models"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Exports int    `json:"exports"`
}

// validateChat checks a chat request.
// SECURITY: roles are restricted to the known set.
func validateChat(req *ChatRequest, models []string) error {
	if strings.TrimSpace(req.Model) == "" {
		return errors.New("model is required")
	}
	if !slices.Contains(models, req.Model) {
		return fmt.Errorf("unknown model '%s'", req.Model)
	}
	if len(req.Messages) == 0 {
		return errors.New("messages are required")
	}
	if len(req.Messages) > MaxMessageCount {
		return fmt.Errorf("too many messages: %d (max %d)", len(req.Messages), MaxMessageCount)
	}
	for i, m := range req.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("invalid role '%s' at message %d: must be one of user, assistant, system", m.Role, i)
		}
	}
	return nil
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the chat backend.
type Server struct {
	cfg      config.ServerConfig
	upstream Upstream
	exports  *ExportStore
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	router   *http.ServeMux
	started  time.Time
}

// New creates a server streaming from up. Pass nil metrics to disable
// them.
func New(cfg config.ServerConfig, up Upstream, logger zerolog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		upstream: up,
		exports:  NewExportStore(m),
		logger:   logger,
		metrics:  m,
		router:   http.NewServeMux(),
		started:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// Exports returns the export store.
func (s *Server) Exports() *ExportStore {
	return s.exports
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /models", s.handleModels)
	s.router.HandleFunc("POST /chat", s.handleChat)
	s.router.HandleFunc("POST /export", s.handleExport)
	s.router.HandleFunc("GET /view-data/{id}", s.handleViewData)
	s.router.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger, s.metrics),
		CORSMiddleware(DefaultCORSConfig()),
		RateLimitMiddleware(NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst)),
		BodyLimitMiddleware(s.cfg.MaxBodyBytes),
	)(s.router)
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{Models: s.cfg.Models})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateChat(&req, s.cfg.Models); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sse.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	out := sse.NewWriter(w)

	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	ctx := r.Context()
	start := time.Now()
	tokens := 0
	err := s.upstream.Stream(ctx, req.Model, req.Messages, func(token string) error {
		tokens++
		return out.Token(token)
	})

	switch {
	case err == nil:
		out.End()
		s.logger.Info().Str("model", req.Model).Int("tokens", tokens).Dur("elapsed", time.Since(start)).Msg("CHAT_COMPLETE")
	case ctx.Err() != nil:
		// Client went away; nothing left to write to.
		s.logger.Debug().Str("model", req.Model).Int("tokens", tokens).Msg("CHAT_CLIENT_GONE")
	default:
		s.metrics.UpstreamError()
		msg, status := err.Error(), http.StatusBadGateway
		var ue *UpstreamError
		if errors.As(err, &ue) {
			msg = ue.Message
			if ue.Status != 0 {
				status = ue.Status
			}
		}
		s.logger.Warn().Err(err).Str("model", req.Model).Int("status", status).Int("tokens", tokens).Msg("CHAT_UPSTREAM_ERROR")
		out.Error(msg, status)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d := req.Dialogue
	switch {
	case d == nil || strings.TrimSpace(d.Title) == "":
		writeError(w, http.StatusBadRequest, "title is required")
		return
	case len(d.Messages) == 0:
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}

	msgs := make([]model.Message, 0, len(d.Messages))
	for _, m := range d.Messages {
		if m != nil {
			msgs = append(msgs, *m)
		}
	}
	id := s.exports.Put(&Export{Title: d.Title, Messages: msgs})

	s.logger.Info().Str("export", id).Int("messages", len(msgs)).Msg("EXPORT_STORED")
	writeJSON(w, http.StatusCreated, ExportResponse{URL: s.baseURL(r) + "/view/" + id})
}

func (s *Server) handleViewData(w http.ResponseWriter, r *http.Request) {
	e, ok := s.exports.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Exports: s.exports.Len(),
	})
}

// baseURL is the configured public URL, or one derived from the request.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Name implements Service.
func (s *Server) Name() string { return "http" }

// Run serves on the configured address until ctx ends, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: chat responses stream for as long as they take.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Str("version", Version).Msg("SERVER_START")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("SERVER_SHUTDOWN")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Services returns the HTTP server and the export pruner as a group.
func (s *Server) Services() Group {
	return Group{
		s,
		NewPruner(s.exports, s.cfg.PruneSchedule, s.cfg.ExportTTL, s.logger),
	}
}

// ============================================================================
// HELPERS
// ============================================================================

// decodeJSON reads the request body into v, answering 400 or 413 itself
// on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, "request body is empty")
	default:
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
