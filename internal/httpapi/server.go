package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/focusspace/internal/docstore"
	"github.com/agentworkforce/focusspace/internal/workspace"
)

type ServerConfig struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// OriginPatterns lists extra browser origins allowed to open the
	// subscription websocket.
	OriginPatterns []string
	WriteTimeout   time.Duration
	Logger         zerolog.Logger
}

type Server struct {
	store       *docstore.Store
	cfg         ServerConfig
	rateLimiter *rateLimiter
	logger      zerolog.Logger
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

// subscriptionMessage is one frame of the subscribe feed.
type subscriptionMessage struct {
	Type     string              `json:"type"`
	Version  int64               `json:"version,omitempty"`
	Document *workspace.Document `json:"document,omitempty"`
}

func NewServer(store *docstore.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store *docstore.Store, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		store:       store,
		cfg:         cfg,
		rateLimiter: limiter,
		logger:      cfg.Logger.With().Str("component", "httpapi").Logger(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	correlationID := getCorrelationID(r)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set("X-Correlation-Id", correlationID)

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "v1" || parts[1] != "workspaces" || strings.TrimSpace(parts[2]) == "" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	workspaceID := parts[2]

	var route string
	switch {
	case parts[3] == "document" && r.Method == http.MethodGet:
		route = "read_document"
	case parts[3] == "document" && r.Method == http.MethodPut:
		route = "write_document"
	case parts[3] == "document" && r.Method == http.MethodDelete:
		route = "delete_document"
	case parts[3] == "subscribe" && r.Method == http.MethodGet:
		route = "subscribe"
	case parts[3] == "summary" && r.Method == http.MethodGet:
		route = "summary"
	case parts[3] == "document" || parts[3] == "subscribe" || parts[3] == "summary":
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", correlationID)
		return
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	if s.rateLimiter != nil {
		key := workspaceID + "|" + sessionKey(r)
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	switch route {
	case "read_document":
		s.handleReadDocument(w, r, workspaceID, correlationID)
	case "write_document":
		s.handleWriteDocument(w, r, workspaceID, correlationID)
	case "delete_document":
		s.handleDeleteDocument(w, r, workspaceID, correlationID)
	case "subscribe":
		s.handleSubscribe(w, r, workspaceID, correlationID)
	case "summary":
		s.handleSummary(w, r, workspaceID, correlationID)
	}
}

func (s *Server) handleReadDocument(w http.ResponseWriter, _ *http.Request, workspaceID, correlationID string) {
	record, err := s.store.Read(workspaceID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	w.Header().Set("ETag", strconv.FormatInt(record.Version, 10))
	writeJSON(w, http.StatusOK, record.Document)
}

func (s *Server) handleWriteDocument(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if err := workspace.ValidateDocumentJSON(body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_document", err.Error(), correlationID)
		return
	}
	doc, err := workspace.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}

	result, err := s.store.Write(docstore.WriteRequest{
		WorkspaceID:   workspaceID,
		Document:      doc,
		IfMatch:       normalizeIfMatchHeader(r.Header.Get("If-Match")),
		CorrelationID: correlationID,
	})
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	w.Header().Set("ETag", strconv.FormatInt(result.Version, 10))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	err := s.store.Delete(workspaceID, normalizeIfMatchHeader(r.Header.Get("If-Match")), correlationID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request, workspaceID, correlationID string) {
	record, err := s.store.Read(workspaceID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, workspace.Summarize(record.Document))
}

// handleSubscribe streams the workspace feed over a websocket: the current
// state first, then every later change.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	watcher, err := s.store.Watch(workspaceID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	defer watcher.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.logger.Warn().Err(err).Str("workspace", workspaceID).Str("correlation_id", correlationID).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	logger := s.logger.With().Str("workspace", workspaceID).Str("session", sessionKey(r)).Logger()
	logger.Debug().Msg("subscriber connected")
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("subscriber disconnected")
			return
		case change, ok := <-watcher.Changes():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "store closed")
				return
			}
			if err := s.sendChange(ctx, conn, change); err != nil {
				logger.Debug().Err(err).Msg("subscriber write failed")
				return
			}
		}
	}
}

func (s *Server) sendChange(ctx context.Context, conn *websocket.Conn, change docstore.Change) error {
	msg := subscriptionMessage{Type: "absent"}
	if !change.Deleted {
		doc := change.Document
		msg = subscriptionMessage{Type: "snapshot", Version: change.Version, Document: &doc}
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	var conflict *docstore.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":            "revision_conflict",
			"message":         err.Error(),
			"correlationId":   correlationID,
			"expectedVersion": conflict.ExpectedVersion,
			"currentVersion":  conflict.CurrentVersion,
		})
		return
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, docstore.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, docstore.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error(), correlationID)
	default:
		s.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("store operation failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

// sessionKey identifies the caller for rate limiting: the anonymous session
// id when the client sends one, else the remote host.
func sessionKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Session-Id")); id != "" {
		return id
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func normalizeIfMatchHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "W/") || strings.HasPrefix(value, "w/") {
		value = strings.TrimSpace(value[2:])
	}
	if len(value) >= 2 && strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") {
		value = strings.TrimSpace(value[1 : len(value)-1])
	}
	return value
}
