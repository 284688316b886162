// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
)

// maxRequestBody caps assistant request bodies.
const maxRequestBody = 1 << 20

// ProviderCatalog is the part of llm.Catalog the HTTP surface needs.
type ProviderCatalog interface {
	Snapshot() *llm.Snapshot
	Refresh(ctx context.Context) error
}

// Server exposes the assistant over HTTP.
type Server struct {
	assistant      *Assistant
	catalog        ProviderCatalog
	jwtSecret      []byte
	allowedOrigins []string
	started        time.Time
}

// NewServer creates the HTTP surface. catalog may be nil.
func NewServer(assistant *Assistant, catalog ProviderCatalog, jwtSecret []byte, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Server{
		assistant:      assistant,
		catalog:        catalog,
		jwtSecret:      jwtSecret,
		allowedOrigins: allowedOrigins,
		started:        time.Now(),
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(requestIDMiddleware)
	api.Use(authMiddleware(s.jwtSecret))
	api.HandleFunc("/assistant", s.assistantHandler).Methods("POST")
	api.HandleFunc("/assistant/stream", s.streamHandler).Methods("POST")
	api.HandleFunc("/providers", s.listProvidersHandler).Methods("GET")
	api.HandleFunc("/providers/refresh", s.refreshProvidersHandler).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !containsWildcard(s.allowedOrigins),
	})
	return c.Handler(r)
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// AssistantBody is the JSON body accepted by the assistant endpoints.
type AssistantBody struct {
	AssistantRequest
	Action      string   `json:"action,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Providers   []string `json:"providers,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

func (b AssistantBody) options(p Principal, requestID string) RunOptions {
	return RunOptions{
		UserID:      p.UserID,
		Username:    p.Username,
		FullName:    p.Name,
		Email:       p.Email,
		Role:        p.Role,
		Action:      b.Action,
		RequestID:   requestID,
		Provider:    b.Provider,
		Providers:   b.Providers,
		Model:       b.Model,
		Temperature: b.Temperature,
		MaxTokens:   b.MaxTokens,
	}
}

type usageBody struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type assistantData struct {
	Provider  string        `json:"provider"`
	Messages  []llm.Message `json:"messages"`
	Content   string        `json:"content"`
	Usage     usageBody     `json:"usage"`
	LatencyMs int64         `json:"latency_ms"`
	FromCache bool          `json:"from_cache"`
}

func newAssistantData(resp llm.Response) assistantData {
	return assistantData{
		Provider: resp.ProviderKey,
		Messages: resp.Messages,
		Content:  resp.Content(),
		Usage: usageBody{
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			TotalTokens:      resp.TotalTokens(),
		},
		LatencyMs: resp.LatencyMs,
		FromCache: resp.FromCache,
	}
}

type successResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type errorResponse struct {
	Success  bool                   `json:"success"`
	Category string                 `json:"category,omitempty"`
	Message  string                 `json:"message"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request) (AssistantBody, bool) {
	var body AssistantBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "invalid request body", nil)
		return body, false
	}
	if len(llm.FilterUsable(body.Messages)) == 0 {
		sendErrorResponse(w, http.StatusUnprocessableEntity, "at least one message with a role and content is required", nil)
		return body, false
	}
	return body, true
}

func (s *Server) assistantHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	resp, err := s.assistant.RunAssistant(r.Context(), body.AssistantRequest, body.options(p, requestIDFrom(r)))
	if err != nil {
		sendProviderError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, successResponse{Success: true, Data: newAssistantData(resp)})
}

// streamHandler relays deltas as server-sent events. Errors raised before
// the first delta are sent as a regular JSON error response.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendErrorResponse(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}
	p, _ := PrincipalFrom(r.Context())
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	sse := &sseWriter{w: w, flusher: flusher}
	opts := body.options(p, requestIDFrom(r))
	opts.OnDelta = sse.data

	resp, err := s.assistant.RunAssistant(r.Context(), body.AssistantRequest, opts)
	if err != nil {
		if !sse.started {
			sendProviderError(w, err)
			return
		}
		pe := llm.AsProviderError("", err)
		_ = sse.event("error", errorResponse{Category: string(pe.Category), Message: pe.Message, Context: pe.Context})
		return
	}
	_ = sse.event("done", newAssistantData(resp))
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseWriter) begin() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
}

// data writes one delta. The delta is JSON-encoded so embedded newlines
// survive the event framing.
func (s *sseWriter) data(delta string) error {
	s.begin()
	encoded, err := json.Marshal(delta)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", encoded); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) event(name string, payload interface{}) error {
	s.begin()
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, encoded); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

type providerView struct {
	Registered    []string             `json:"registered"`
	FailoverOrder []string             `json:"failover_order"`
	Enabled       []llm.ProviderConfig `json:"enabled"`
	Skipped       map[string]string    `json:"skipped,omitempty"`
	LoadedAt      time.Time            `json:"loaded_at"`
}

func (s *Server) providerView() (providerView, bool) {
	if s.catalog == nil {
		return providerView{}, false
	}
	snap := s.catalog.Snapshot()
	if snap == nil {
		return providerView{}, false
	}
	return providerView{
		Registered:    snap.Registered,
		FailoverOrder: snap.FailoverOrder,
		Enabled:       snap.Enabled,
		Skipped:       snap.Skipped,
		LoadedAt:      snap.LoadedAt,
	}, true
}

func (s *Server) listProvidersHandler(w http.ResponseWriter, r *http.Request) {
	view, ok := s.providerView()
	if !ok {
		sendErrorResponse(w, http.StatusServiceUnavailable, "provider catalog not loaded", nil)
		return
	}
	sendJSON(w, http.StatusOK, successResponse{Success: true, Data: view})
}

func (s *Server) refreshProvidersHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	if !p.IsAdmin() {
		sendErrorResponse(w, http.StatusForbidden, "admin role required", nil)
		return
	}
	if s.catalog == nil {
		sendErrorResponse(w, http.StatusServiceUnavailable, "provider catalog not configured", nil)
		return
	}
	if err := s.catalog.Refresh(r.Context()); err != nil {
		log.Printf("Provider refresh failed: %v", err)
		sendErrorResponse(w, http.StatusBadGateway, "provider refresh failed", nil)
		return
	}
	view, _ := s.providerView()
	sendJSON(w, http.StatusOK, successResponse{Success: true, Data: view})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	providers := 0
	if view, ok := s.providerView(); ok {
		providers = len(view.Registered)
	}
	if providers == 0 {
		status = "degraded"
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"service":   "abbis-assistant",
		"providers": providers,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

// statusForCategory maps error categories to HTTP statuses. AUTH is an
// upstream credential problem, not the caller's.
func statusForCategory(c llm.Category) int {
	switch c {
	case llm.CategoryRateLimit:
		return http.StatusTooManyRequests
	case llm.CategoryAuth, llm.CategoryService:
		return http.StatusBadGateway
	case llm.CategoryValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func sendProviderError(w http.ResponseWriter, err error) {
	pe := llm.AsProviderError("", err)
	sendJSON(w, statusForCategory(pe.Category), errorResponse{
		Category: string(pe.Category),
		Message:  pe.Message,
		Context:  pe.Context,
	})
}

func sendErrorResponse(w http.ResponseWriter, statusCode int, message string, details map[string]interface{}) {
	sendJSON(w, statusCode, errorResponse{Message: message, Context: details})
}

func sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}
