package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/focusspace/internal/workspace"
)

var ErrConflict = errors.New("revision conflict")

// maxFrameBytes bounds one subscription frame. The server caps document
// bodies at 1 MiB by default; the envelope adds a little.
const maxFrameBytes = 4 << 20

type ConflictError struct {
	WorkspaceID     string
	CurrentVersion  int64
	ExpectedVersion string
}

func (e *ConflictError) Error() string {
	if e.WorkspaceID == "" {
		return "revision conflict"
	}
	return fmt.Sprintf("revision conflict for workspace %s", e.WorkspaceID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type WriteResult struct {
	WorkspaceID string `json:"workspaceId"`
	Version     int64  `json:"version"`
	UpdatedAt   string `json:"updatedAt"`
}

// subscriptionFrame mirrors the server's subscribe message.
type subscriptionFrame struct {
	Type     string              `json:"type"`
	Version  int64               `json:"version,omitempty"`
	Document *workspace.Document `json:"document,omitempty"`
}

type HTTPAdapterOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// ReconnectBaseDelay and ReconnectMaxDelay bound the subscription's
	// exponential backoff between websocket sessions.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	Logger             zerolog.Logger
}

// HTTPAdapter talks to a focusspace server for a single workspace.
type HTTPAdapter struct {
	baseURL       string
	workspaceID   string
	sessionID     string
	httpClient    *http.Client
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	reconnectBase time.Duration
	reconnectMax  time.Duration
	logger        zerolog.Logger
}

func NewHTTPAdapter(baseURL, workspaceID, sessionID string, httpClient *http.Client, opts HTTPAdapterOptions) *HTTPAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 2 * time.Second
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = 250 * time.Millisecond
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = 30 * time.Second
	}
	return &HTTPAdapter{
		baseURL:       baseURL,
		workspaceID:   workspaceID,
		sessionID:     sessionID,
		httpClient:    httpClient,
		maxRetries:    opts.MaxRetries,
		baseDelay:     opts.BaseDelay,
		maxDelay:      opts.MaxDelay,
		reconnectBase: opts.ReconnectBaseDelay,
		reconnectMax:  opts.ReconnectMaxDelay,
		logger:        opts.Logger.With().Str("workspace", workspaceID).Logger(),
	}
}

func (a *HTTPAdapter) documentPath() string {
	return fmt.Sprintf("/v1/workspaces/%s/document", url.PathEscape(a.workspaceID))
}

// Read fetches the current document. The boolean is false when the
// workspace has no document yet.
func (a *HTTPAdapter) Read(ctx context.Context) (workspace.Document, bool, error) {
	var doc workspace.Document
	err := a.doJSON(ctx, http.MethodGet, a.documentPath(), nil, nil, &doc)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return workspace.Document{}, false, nil
		}
		return workspace.Document{}, false, err
	}
	doc.EnsureCollections()
	return doc, true, nil
}

func (a *HTTPAdapter) Write(ctx context.Context, doc workspace.Document) error {
	_, err := a.Put(ctx, doc, "")
	return err
}

// Put replaces the document. A non-empty ifMatch makes the write conditional
// on the store's current version.
func (a *HTTPAdapter) Put(ctx context.Context, doc workspace.Document, ifMatch string) (WriteResult, error) {
	var headers map[string]string
	if ifMatch != "" {
		headers = map[string]string{"If-Match": ifMatch}
	}
	var out WriteResult
	err := a.doJSON(ctx, http.MethodPut, a.documentPath(), headers, doc, &out)
	return out, err
}

func (a *HTTPAdapter) Delete(ctx context.Context) error {
	return a.doJSON(ctx, http.MethodDelete, a.documentPath(), nil, nil, nil)
}

func (a *HTTPAdapter) Summary(ctx context.Context) (workspace.Summary, error) {
	var out workspace.Summary
	err := a.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/workspaces/%s/summary", url.PathEscape(a.workspaceID)), nil, nil, &out)
	return out, err
}

func (a *HTTPAdapter) doJSON(
	ctx context.Context,
	method, requestPath string,
	headers map[string]string,
	body any,
	out any,
) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		a.setHeaders(req.Header)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			if attempt < a.maxRetries {
				if waitErr := waitWithContext(ctx, a.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < a.maxRetries {
			a.logger.Debug().Int("status", resp.StatusCode).Int("attempt", attempt+1).Str("path", requestPath).Msg("retrying request")
			if waitErr := waitWithContext(ctx, a.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code            string `json:"code"`
			Message         string `json:"message"`
			ExpectedVersion string `json:"expectedVersion"`
			CurrentVersion  int64  `json:"currentVersion"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		if resp.StatusCode == http.StatusConflict {
			return &ConflictError{
				WorkspaceID:     a.workspaceID,
				CurrentVersion:  errPayload.CurrentVersion,
				ExpectedVersion: errPayload.ExpectedVersion,
			}
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (a *HTTPAdapter) setHeaders(h http.Header) {
	h.Set("X-Correlation-Id", correlationID())
	if a.sessionID != "" {
		h.Set("X-Session-Id", a.sessionID)
	}
}

// Subscribe opens the live feed. The returned subscription keeps
// reconnecting until it is closed or ctx ends; every failed session yields
// one error event, and each new session starts with the current state.
func (a *HTTPAdapter) Subscribe(ctx context.Context) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &httpSubscription{
		adapter: a,
		events:  make(chan Event, 8),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go sub.run(ctx)
	return sub, nil
}

type httpSubscription struct {
	adapter *HTTPAdapter
	events  chan Event
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (s *httpSubscription) Events() <-chan Event {
	return s.events
}

func (s *httpSubscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

func (s *httpSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	attempt := 0
	for {
		received, err := s.adapter.stream(ctx, s.emit)
		if ctx.Err() != nil {
			return
		}
		if received {
			attempt = 0
		}
		attempt++
		if err == nil {
			err = errors.New("subscription ended by server")
		}
		s.adapter.logger.Warn().Err(err).Int("attempt", attempt).Msg("subscription interrupted")
		if !s.emit(ctx, Failure(err)) {
			return
		}
		if waitWithContext(ctx, s.adapter.reconnectDelay(attempt)) != nil {
			return
		}
	}
}

func (s *httpSubscription) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// stream runs one websocket session. received reports whether at least one
// frame was delivered, which resets the reconnect backoff.
func (a *HTTPAdapter) stream(ctx context.Context, emit func(context.Context, Event) bool) (received bool, err error) {
	headers := http.Header{}
	a.setHeaders(headers)
	target := a.baseURL + fmt.Sprintf("/v1/workspaces/%s/subscribe", url.PathEscape(a.workspaceID))
	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: a.httpClient,
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil {
			return false, &HTTPError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return false, err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	for {
		var frame subscriptionFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return received, nil
			}
			return received, err
		}
		var ev Event
		switch frame.Type {
		case string(EventSnapshot):
			if frame.Document == nil {
				a.logger.Warn().Msg("snapshot frame without document")
				continue
			}
			doc := *frame.Document
			doc.EnsureCollections()
			ev = Snapshot(doc, frame.Version)
		case string(EventAbsent):
			ev = Absent()
		default:
			a.logger.Warn().Str("type", frame.Type).Msg("unknown subscription frame")
			continue
		}
		if !emit(ctx, ev) {
			conn.Close(websocket.StatusNormalClosure, "")
			return true, ctx.Err()
		}
		received = true
	}
}

func (a *HTTPAdapter) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := a.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	return backoff(a.baseDelay, maxDelay, attempt)
}

func (a *HTTPAdapter) reconnectDelay(attempt int) time.Duration {
	return backoff(a.reconnectBase, a.reconnectMax, attempt)
}

func backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := base
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func correlationID() string {
	return "client_" + uuid.NewString()
}
