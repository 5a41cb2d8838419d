// Package gateway is the single entry point for backend calls. It attaches
// the current credential, normalises transport and application failures
// into *Error, and is the only place where a rejected credential (HTTP 401)
// is detected and cleared.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/campuskeeper/internal/client/credential"
	"github.com/dmitrijs2005/campuskeeper/internal/client/metrics"
	"github.com/dmitrijs2005/campuskeeper/internal/common"
	"github.com/dmitrijs2005/campuskeeper/internal/logging"
)

type Gateway struct {
	baseURL string
	store   credential.Store
	http    *http.Client
	timeout time.Duration
	logger  logging.Logger
	metrics *metrics.Metrics

	mu          sync.RWMutex
	subscribers []func(ctx context.Context)
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the HTTP client used for backend calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.http = c }
}

// WithTimeout bounds every call. Zero (the default) leaves calls bounded
// only by the caller's context and the transport.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

func WithLogger(l logging.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a gateway for the backend at baseURL. All request paths are
// resolved relative to it.
func New(baseURL string, store credential.Store, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("gateway: base url must be absolute http(s), got %q", baseURL)
	}
	if store == nil {
		return nil, fmt.Errorf("gateway: credential store is required")
	}

	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		http:    &http.Client{},
		logger:  logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.timeout > 0 {
		c := *g.http
		c.Timeout = g.timeout
		g.http = &c
	}
	return g, nil
}

// OnUnauthorized registers fn to run after a 401 has cleared the credential.
// Subscribers run synchronously on the goroutine that observed the 401.
func (g *Gateway) OnUnauthorized(fn func(ctx context.Context)) {
	g.mu.Lock()
	g.subscribers = append(g.subscribers, fn)
	g.mu.Unlock()
}

// BaseURL returns the configured backend address.
func (g *Gateway) BaseURL() string { return g.baseURL }

func (g *Gateway) resolve(path string) string {
	return g.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Do issues one call and returns the raw body of a 2xx response (nil when
// the body is empty or unreadable). body, when non-nil, is sent as JSON.
// Failures are *Error values, except local setup problems (marshalling,
// credential storage) which are wrapped plain errors.
func (g *Gateway) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	start := time.Now()

	tok, err := g.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gateway: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.resolve(path), reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(common.RequestIDHeaderName, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !tok.IsZero() {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerScheme+" "+string(tok))
	}

	log := g.logger.With("request_id", requestID, "method", method, "path", path)

	resp, err := g.http.Do(req)
	if err != nil {
		g.metrics.ObserveRequest(method, KindNetwork.String(), time.Since(start))
		log.Debug(ctx, "backend unreachable", "error", err)
		return nil, &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		g.metrics.ObserveRequest(method, KindUnauthorized.String(), time.Since(start))
		log.Warn(ctx, "credential rejected by backend")
		g.invalidate(ctx, log)
		return nil, &Error{Kind: KindUnauthorized, Status: resp.StatusCode, Message: errorMessage(respBody, resp)}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		g.metrics.ObserveRequest(method, KindApplication.String(), time.Since(start))
		msg := errorMessage(respBody, resp)
		log.Debug(ctx, "backend returned error", "status", resp.StatusCode, "message", msg)
		return nil, &Error{Kind: KindApplication, Status: resp.StatusCode, Message: msg}
	}

	g.metrics.ObserveRequest(method, "ok", time.Since(start))
	log.Debug(ctx, "backend call completed", "status", resp.StatusCode, "duration", time.Since(start))

	if readErr != nil {
		log.Debug(ctx, "success body unreadable, treating as empty", "error", readErr)
		return nil, nil
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}
	return respBody, nil
}

// invalidate clears the credential and notifies subscribers. It runs even
// when the request context is already done.
func (g *Gateway) invalidate(ctx context.Context, log logging.Logger) {
	ctx = context.WithoutCancel(ctx)

	if err := g.store.Clear(ctx); err != nil {
		log.Error(ctx, "failed to clear rejected credential", "error", err)
	}
	g.metrics.CredentialCleared("unauthorized")

	g.mu.RLock()
	subs := make([]func(context.Context), len(g.subscribers))
	copy(subs, g.subscribers)
	g.mu.RUnlock()

	for _, fn := range subs {
		fn(ctx)
	}
}

// Request calls g.Do and decodes a successful body into T. An empty or
// unparseable success body yields the zero T and no error.
func Request[T any](ctx context.Context, g *Gateway, method, path string, body any) (T, error) {
	var out T

	b, err := g.Do(ctx, method, path, body)
	if err != nil || b == nil {
		return out, err
	}

	if err := json.Unmarshal(b, &out); err != nil {
		g.logger.Debug(ctx, "success body did not match expected shape", "path", path, "error", err)
		var zero T
		return zero, nil
	}
	return out, nil
}

// errorMessage extracts {detail|message} from an error body, falling back
// to the transport status text.
func errorMessage(body []byte, resp *http.Response) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if s := rawText(payload.Detail); s != "" {
			return s
		}
		if s := rawText(payload.Message); s != "" {
			return s
		}
	}
	return statusText(resp)
}

// rawText accepts a plain string or a list of {"msg": ...} items.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	if text == "" {
		text = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return text
}
