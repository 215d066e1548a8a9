// Package relay performs HTTP calls against the target API on behalf of the
// conversation protocols.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/egeucak/api-doc-gpt/internal/config"
	"github.com/egeucak/api-doc-gpt/internal/filter"
)

const maxErrorBody = 512

// Relay sends requests to one API.
type Relay struct {
	BaseURL string
	Client  *http.Client
	// Limiter paces outgoing requests when set.
	Limiter *rate.Limiter
	// Timeout bounds each call. Zero means no timeout.
	Timeout  time.Duration
	Logger   *slog.Logger
	Redactor *filter.Redactor
}

// New builds a Relay from config.
func New(baseURL string, cfg config.RelayConfig, logger *slog.Logger, redactor *filter.Redactor) *Relay {
	r := &Relay{
		BaseURL:  baseURL,
		Client:   &http.Client{},
		Timeout:  cfg.Timeout,
		Logger:   logger,
		Redactor: redactor,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		r.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return r
}

// Send performs a command issued in the single-command protocol and returns
// the text fed back to the model. JSON response bodies are compacted, other
// bodies are returned raw, and transport failures are returned as text.
func (r *Relay) Send(ctx context.Context, method, path string, body json.RawMessage, headers map[string]string) string {
	var payload []byte
	if len(body) > 0 {
		payload = body
	}
	h := make(http.Header, len(headers)+1)
	for k, v := range headers {
		h.Set(k, v)
	}
	if payload != nil && h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}

	_, data, err := r.do(ctx, strings.ToUpper(method), r.BaseURL+path, h, payload, r.Timeout)
	if err != nil {
		return "error: " + err.Error()
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err == nil {
		return buf.String()
	}
	return string(data)
}

// Args mirrors the keyword arguments a model passes to the Request tool.
type Args struct {
	Method  string         `json:"method"`
	URL     string         `json:"url"`
	Params  map[string]any `json:"params,omitempty"`
	Headers map[string]any `json:"headers,omitempty"`
	JSON    any            `json:"json,omitempty"`
	Data    any            `json:"data,omitempty"`
	// Timeout in seconds.
	Timeout float64 `json:"timeout,omitempty"`
}

// ArgsFromMap converts a decoded JSON object into Args. Numbers inside
// params, json and data are kept as json.Number.
func ArgsFromMap(m map[string]any) (Args, error) {
	var args Args
	b, err := json.Marshal(m)
	if err != nil {
		return args, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, fmt.Errorf("invalid request arguments: %w", err)
	}
	if strings.TrimSpace(args.Method) == "" {
		return args, errors.New("invalid request arguments: method is required")
	}
	if strings.TrimSpace(args.URL) == "" {
		return args, errors.New("invalid request arguments: url is required")
	}
	return args, nil
}

// Do performs a Request tool call and returns the compacted JSON response.
// Transport failures and non-JSON responses are returned as errors.
func (r *Relay) Do(ctx context.Context, args Args) (json.RawMessage, error) {
	target, err := r.resolve(args.URL, args.Params)
	if err != nil {
		return nil, err
	}

	h := make(http.Header, len(args.Headers)+1)
	for k, v := range args.Headers {
		h.Set(k, fmt.Sprint(v))
	}
	var payload []byte
	switch {
	case args.JSON != nil:
		if payload, err = encodeBody(args.JSON); err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		if h.Get("Content-Type") == "" {
			h.Set("Content-Type", "application/json")
		}
	case args.Data != nil:
		switch d := args.Data.(type) {
		case string:
			payload = []byte(d)
		case map[string]any:
			form := url.Values{}
			for k, v := range d {
				form.Set(k, fmt.Sprint(v))
			}
			payload = []byte(form.Encode())
			if h.Get("Content-Type") == "" {
				h.Set("Content-Type", "application/x-www-form-urlencoded")
			}
		default:
			if payload, err = encodeBody(d); err != nil {
				return nil, fmt.Errorf("encode data body: %w", err)
			}
		}
	}

	timeout := r.Timeout
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout * float64(time.Second))
	}
	status, data, err := r.do(ctx, strings.ToUpper(args.Method), target, h, payload, timeout)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Compact(&out, data); err != nil {
		return nil, fmt.Errorf("response is not JSON (status %d): %s", status, truncate(string(data), maxErrorBody))
	}
	return json.RawMessage(out.Bytes()), nil
}

func encodeBody(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (r *Relay) resolve(raw string, params map[string]any) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if !u.IsAbs() {
		u, err = url.Parse(strings.TrimRight(r.BaseURL, "/") + "/" + strings.TrimLeft(raw, "/"))
		if err != nil {
			return "", fmt.Errorf("invalid url: %w", err)
		}
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			if list, ok := v.([]any); ok {
				for _, item := range list {
					q.Add(k, fmt.Sprint(item))
				}
				continue
			}
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (r *Relay) do(ctx context.Context, method, target string, h http.Header, payload []byte, timeout time.Duration) (int, []byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header = h
	r.logRequest(req, payload)

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if r.Logger != nil {
		r.Logger.Debug("relay response", "status", resp.StatusCode, "bytes", len(data))
	}
	return resp.StatusCode, data, nil
}

func (r *Relay) logRequest(req *http.Request, payload []byte) {
	if r.Logger == nil {
		return
	}
	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		headers[k] = req.Header.Get(k)
	}
	r.Logger.Debug("relay request",
		"method", req.Method,
		"url", r.redactedURL(req.URL),
		"headers", r.Redactor.Headers(headers),
		"body", r.Redactor.Body(string(payload)),
	)
}

func (r *Relay) redactedURL(u *url.URL) string {
	if u.RawQuery == "" {
		return u.Redacted()
	}
	masked := *u
	masked.RawQuery = url.Values(r.Redactor.Query(u.Query())).Encode()
	return masked.Redacted()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
