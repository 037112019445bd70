// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/llm/factory"
	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/rem"
	"github.com/teradata-labs/rem/pkg/session"
	"github.com/teradata-labs/rem/pkg/types"
)

// Request headers mapped into the request context.
const (
	HeaderUserID      = "X-User-Id"
	HeaderTenantID    = "X-Tenant-Id"
	HeaderSessionID   = "X-Session-Id"
	HeaderModelName   = "X-Model-Name"
	HeaderAgentSchema = "X-Agent-Schema"
)

// sessionURIPrefix keys session records in the resources table.
const sessionURIPrefix = "rem:session:"

// Store is the storage surface the HTTP handlers need.
// *storage.Adapter implements it.
type Store interface {
	Upsert(ctx context.Context, rc types.RequestContext, entities ...rem.Entity) ([]string, error)
	FetchOne(ctx context.Context, sql string, args ...interface{}) (map[string]interface{}, error)
	FetchMany(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
	Execute(ctx context.Context, sql string, args ...interface{}) (int64, error)
}

// AuthProvider handles the OAuth surface. The server mounts the endpoints
// either way; without a provider they answer 401 with a hint.
type AuthProvider interface {
	HandleLogin(w http.ResponseWriter, r *http.Request, provider string)
	HandleCallback(w http.ResponseWriter, r *http.Request, provider string)
	Identity(r *http.Request) (map[string]interface{}, bool)
	HandleLogout(w http.ResponseWriter, r *http.Request)
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// DefaultCORSConfig returns a permissive CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	}
}

// Config wires the HTTP server.
type Config struct {
	Addr string

	Orchestrator *Orchestrator
	Sessions     *session.Store
	Store        Store

	// Auth is optional; nil leaves the auth endpoints as 401 stubs.
	Auth AuthProvider

	// MCPHandler, when set, is mounted at /mcp.
	MCPHandler http.Handler

	CORS   CORSConfig
	Tracer observability.Tracer
	Logger *zap.Logger
}

// Server is the REM HTTP surface.
type Server struct {
	orchestrator *Orchestrator
	sessions     *session.Store
	store        Store
	auth         AuthProvider
	mcpHandler   http.Handler
	cors         CORSConfig
	tracer       observability.Tracer
	logger       *zap.Logger
	httpServer   *http.Server
}

// NewServer creates the HTTP server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		orchestrator: cfg.Orchestrator,
		sessions:     cfg.Sessions,
		store:        cfg.Store,
		auth:         cfg.Auth,
		mcpHandler:   cfg.MCPHandler,
		cors:         cfg.CORS,
		tracer:       cfg.Tracer,
		logger:       cfg.Logger,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // no timeout, SSE streams stay open
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat/completions", s.handleChat)
	mux.HandleFunc("GET /api/v1/chat/completions", s.handleChat)
	mux.HandleFunc("GET /api/v1/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/v1/messages/feedback", s.handleFeedback)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("PUT /api/v1/sessions/{id}", s.handleUpdateSession)
	mux.HandleFunc("GET /api/v1/models", s.handleModels)

	mux.HandleFunc("GET /api/v1/auth/{provider}/login", s.handleAuthLogin)
	mux.HandleFunc("GET /api/v1/auth/{provider}/callback", s.handleAuthCallback)
	mux.HandleFunc("GET /api/v1/auth/me", s.handleAuthMe)
	mux.HandleFunc("POST /api/v1/auth/logout", s.handleAuthLogout)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	if s.mcpHandler != nil {
		mux.Handle("/mcp", s.mcpHandler)
		mux.Handle("/mcp/", s.mcpHandler)
	}

	var handler http.Handler = mux
	if s.cors.Enabled {
		handler = s.corsMiddleware(handler)
	}
	return handler
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains connections and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestContext maps identity headers into a RequestContext.
func requestContext(r *http.Request) types.RequestContext {
	rc := types.RequestContext{
		UserID:      r.Header.Get(HeaderUserID),
		TenantID:    r.Header.Get(HeaderTenantID),
		SessionID:   r.Header.Get(HeaderSessionID),
		Model:       r.Header.Get(HeaderModelName),
		AgentSchema: r.Header.Get(HeaderAgentSchema),
	}
	return rc.Normalized()
}

// chatRequest is the OpenAI-compatible request body.
type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)

	var req chatRequest
	switch r.Method {
	case http.MethodGet:
		// GET form for SSE clients: ?q=<prompt> streams by definition.
		q := r.URL.Query().Get("q")
		if q == "" {
			writeError(w, http.StatusBadRequest, "q parameter is required")
			return
		}
		req = chatRequest{Messages: []chatMessage{{Role: "user", Content: q}}, Stream: true}
	default:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}
	if req.Model != "" {
		rc.Model = req.Model
	}

	turns := make([]types.Message, len(req.Messages))
	for i, m := range req.Messages {
		turns[i] = types.Message{Role: m.Role, Content: m.Content}
	}

	if req.Stream {
		s.streamChat(w, r, rc, turns)
		return
	}

	resp, err := s.orchestrator.Complete(r.Context(), rc, turns, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      "chatcmpl-" + uuid.New().String(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   rc.Model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       map[string]interface{}{"role": "assistant", "content": resp.Content},
			"finish_reason": finishReason(resp.StopReason),
		}},
		"usage": map[string]interface{}{
			"prompt_tokens":     resp.Usage.InputTokens,
			"completion_tokens": resp.Usage.OutputTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	})
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, rc types.RequestContext, turns []types.Message) {
	sse, err := NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, err = s.orchestrator.Complete(r.Context(), rc, turns, func(ev StreamEvent) {
		if sendErr := sse.Send(ev); sendErr != nil {
			s.logger.Debug("client disconnected mid-stream", zap.Error(sendErr))
		}
	})
	if err != nil {
		// Already surfaced on the stream as an error event.
		s.logger.Warn("chat completion failed", zap.Error(err))
	}
	_ = sse.Done()
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	q := r.URL.Query()

	sql := `SELECT id, session_id, content, message_type, created_at, metadata
	          FROM messages WHERE tenant_id = $1 AND deleted_at IS NULL`
	args := []interface{}{rc.TenantID}

	if sessionID := q.Get("session_id"); sessionID != "" {
		args = append(args, sessionID)
		sql += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if userID := q.Get("user_id"); userID != "" {
		args = append(args, userID)
		sql += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if since := q.Get("since"); since != "" {
		ts, err := parseTime(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		args = append(args, ts)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if until := q.Get("until"); until != "" {
		ts, err := parseTime(until)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until: "+err.Error())
			return
		}
		args = append(args, ts)
		sql += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d", len(args))

	rows, err := s.store.FetchMany(r.Context(), sql, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": rows})
}

type feedbackRequest struct {
	MessageID string `json:"message_id"`
	Rating    int    `json:"rating"`
	Label     string `json:"label,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "message_id is required")
		return
	}

	feedback := map[string]interface{}{
		"rating":   req.Rating,
		"rated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if req.Label != "" {
		feedback["label"] = req.Label
	}
	if req.Comment != "" {
		feedback["comment"] = req.Comment
	}
	payload, err := json.Marshal(map[string]interface{}{"feedback": feedback})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	affected, err := s.store.Execute(r.Context(),
		`UPDATE messages SET metadata = metadata || $1::jsonb, updated_at = NOW()
		  WHERE tenant_id = $2 AND id = $3 AND deleted_at IS NULL`,
		string(payload), rc.TenantID, req.MessageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if affected == 0 {
		writeError(w, http.StatusNotFound, "message not found: "+req.MessageID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message_id": req.MessageID, "feedback": feedback})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	rows, err := s.store.FetchMany(r.Context(),
		`SELECT uri, name, metadata, created_at, updated_at
		   FROM resources
		  WHERE tenant_id = $1 AND category = 'session' AND deleted_at IS NULL
		  ORDER BY updated_at DESC`,
		rc.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sessions := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		uri, _ := row["uri"].(string)
		sessions = append(sessions, map[string]interface{}{
			"id":         strings.TrimPrefix(uri, sessionURIPrefix),
			"title":      row["name"],
			"metadata":   row["metadata"],
			"created_at": row["created_at"],
			"updated_at": row["updated_at"],
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

type sessionRequest struct {
	Title string `json:"title,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)

	var req sessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	id := uuid.New().String()
	if err := s.upsertSession(r.Context(), rc, id, req.Title); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "title": req.Title})
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	id := r.PathValue("id")

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.upsertSession(r.Context(), rc, id, req.Title); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "title": req.Title})
}

func (s *Server) upsertSession(ctx context.Context, rc types.RequestContext, id, title string) error {
	record := &rem.Resource{
		URI:      sessionURIPrefix + id,
		Name:     title,
		Category: "session",
	}
	if _, err := s.store.Upsert(ctx, rc, record); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := factory.Models()
	out := make([]map[string]interface{}, len(models))
	for i, m := range models {
		out[i] = map[string]interface{}{
			"id":             m.Provider + ":" + m.ID,
			"object":         "model",
			"name":           m.Name,
			"provider":       m.Provider,
			"context_window": m.ContextWindow,
			"capabilities":   m.Capabilities,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"object": "list", "data": out})
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	if s.auth == nil {
		writeAuthUnconfigured(w, provider)
		return
	}
	s.auth.HandleLogin(w, r, provider)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	if s.auth == nil {
		writeAuthUnconfigured(w, provider)
		return
	}
	s.auth.HandleCallback(w, r, provider)
}

func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeAuthUnconfigured(w, "")
		return
	}
	identity, ok := s.auth.Identity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.auth.HandleLogout(w, r)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", strings.Join(s.cors.AllowedOrigins, ", "))
		h.Set("Access-Control-Allow-Methods", strings.Join(s.cors.AllowedMethods, ", "))
		h.Set("Access-Control-Allow-Headers", strings.Join(s.cors.AllowedHeaders, ", "))
		h.Set("Access-Control-Max-Age", strconv.Itoa(s.cors.MaxAge))
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthUnconfigured(w http.ResponseWriter, provider string) {
	body := map[string]interface{}{"error": "authentication not configured"}
	if provider != "" {
		body["provider"] = provider
	}
	writeJSON(w, http.StatusUnauthorized, body)
}

func parseTime(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", raw)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
