package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "widget",
	Name:      "gateway_requests_total",
	Help:      "Backend calls issued by widget instances, by outcome.",
}, []string{"method", "outcome"})

// Envelope wraps every backend JSON response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Options carries the per-call inputs of Endpoint.Call.
type Options struct {
	Headers map[string]string
	Params  map[string]string
	Query   map[string]string
	Body    any
}

// Client issues backend calls on behalf of one widget instance.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu      sync.RWMutex
	headers map[string]string
}

// NewClient builds a client rooted at baseURL. A nil httpClient gets a
// default one with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		headers:    make(map[string]string),
	}
}

// SetHeader attaches a header to every subsequent call.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	c.headers[key] = value
	c.mu.Unlock()
}

func (c *Client) defaultHeaders() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

// Endpoint opens an abortable call site for template.
func (c *Client) Endpoint(template string) *Endpoint {
	ep := &Endpoint{client: c, template: template}
	ep.ctx, ep.cancel = context.WithCancel(context.Background())
	return ep
}

// Endpoint is one call site bound to a url template. Calls in flight are
// aborted when the endpoint is retargeted or closed.
type Endpoint struct {
	client *Client

	mu       sync.Mutex
	template string
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
}

// Template returns the current url template.
func (e *Endpoint) Template() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.template
}

// Retarget aborts in-flight calls and switches to template.
func (e *Endpoint) Retarget(template string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.cancel()
	e.template = template
	e.ctx, e.cancel = context.WithCancel(context.Background())
}

// Close aborts in-flight calls. Later calls fail as aborted.
func (e *Endpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.cancel()
}

func (e *Endpoint) scope() (context.Context, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx, e.template, e.closed
}

// Call performs one request and returns the envelope data.
func (e *Endpoint) Call(ctx context.Context, method string, opts Options) (json.RawMessage, error) {
	scope, template, closed := e.scope()
	if closed {
		return nil, e.record(method, &Error{Kind: KindAborted, Err: ErrEndpointClosed})
	}

	path, err := Expand(template, opts.Params)
	if err != nil {
		return nil, e.record(method, err)
	}
	target := e.client.baseURL + path
	if len(opts.Query) > 0 {
		values := url.Values{}
		for k, v := range opts.Query {
			values.Set(k, v)
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + values.Encode()
	}

	callCtx, cancel := context.WithCancel(scope)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := e.newRequest(callCtx, method, target, opts)
	if err != nil {
		return nil, e.record(method, err)
	}

	resp, err := e.client.httpClient.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, e.record(method, &Error{Kind: KindAborted, Err: callCtx.Err()})
		}
		return nil, e.record(method, &Error{Kind: KindNetwork, Err: err})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if callCtx.Err() != nil {
		// The owner went away while the body was in flight; drop the result.
		return nil, e.record(method, &Error{Kind: KindAborted, Err: callCtx.Err()})
	}
	if err != nil {
		return nil, e.record(method, &Error{Kind: KindNetwork, Status: resp.StatusCode, Err: err})
	}

	data, err := decodeEnvelope(resp.StatusCode, raw)
	return e.finish(method, data, err)
}

func (e *Endpoint) newRequest(ctx context.Context, method, target string, opts Options) (*http.Request, error) {
	var body io.Reader
	hasBody := false
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		payload := opts.Body
		if payload == nil {
			payload = struct{}{}
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Kind: KindContract, Err: fmt.Errorf("encode body: %w", err)}
		}
		body = bytes.NewReader(encoded)
		hasBody = true
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &Error{Kind: KindContract, Err: fmt.Errorf("build request: %w", err)}
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range e.client.defaultHeaders() {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func decodeEnvelope(status int, raw []byte) (json.RawMessage, error) {
	var env Envelope
	decodeErr := json.Unmarshal(raw, &env)

	if status == http.StatusUnauthorized {
		return nil, &Error{Kind: KindAuth, Status: status, Message: env.Message}
	}
	if decodeErr != nil {
		return nil, &Error{Kind: KindNetwork, Status: status, Err: fmt.Errorf("decode envelope: %w", decodeErr)}
	}
	if !env.Success {
		return nil, &Error{Kind: KindApplication, Status: status, Message: env.Message}
	}
	if status >= http.StatusBadRequest {
		return nil, &Error{Kind: KindNetwork, Status: status, Message: env.Message}
	}
	return env.Data, nil
}

func (e *Endpoint) record(method string, err error) error {
	_, err = e.finish(method, nil, err)
	return err
}

func (e *Endpoint) finish(method string, data json.RawMessage, err error) (json.RawMessage, error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "unknown"
		}
		if !errors.Is(err, context.Canceled) && !IsAborted(err) {
			log.Printf("[gateway] %s %s failed: %v", method, e.Template(), err)
		}
	}
	metricRequests.WithLabelValues(method, outcome).Inc()
	return data, err
}
