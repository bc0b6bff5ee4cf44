package tooladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"kiromemory/internal/config"
)

// Client is a thin HTTP client for the worker API, shared by the tool
// adapter and the CLI. The adapter holds no state of its own; every tool
// call round-trips through the worker.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient targets base, e.g. "http://127.0.0.1:3001". The token may be
// empty; it is attached as a bearer credential when present.
func NewClient(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ClientFromConfig targets the configured worker and picks up the token the
// worker wrote at startup, when it exists.
func ClientFromConfig(cfg *config.Config) *Client {
	token := ""
	if b, err := os.ReadFile(cfg.TokenPath()); err == nil {
		token = strings.TrimSpace(string(b))
	}
	return NewClient("http://"+cfg.ListenAddr(), token)
}

// Get fetches path and decodes the JSON reply into out (skipped when out is
// nil).
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	body, _, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// GetText fetches a non-JSON body, e.g. a Markdown report.
func (c *Client) GetText(ctx context.Context, path string, query url.Values) (string, error) {
	body, _, err := c.do(ctx, http.MethodGet, path, query, nil)
	return string(body), err
}

// Post sends in as JSON and decodes the JSON reply into out (skipped when
// out is nil).
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	body, _, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// Download streams a GET response body. The caller must close it. Error
// replies are drained and surfaced as a statusError.
func (c *Client) Download(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker unreachable: %w", err)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
		resp.Body.Close()
		return nil, &statusError{status: resp.StatusCode, msg: workerError(data)}
	}
	return resp.Body, nil
}

// Upload posts a raw body (e.g. a JSONL stream) and decodes the JSON reply
// into out.
func (c *Client) Upload(ctx context.Context, path string, query url.Values, contentType string, body io.Reader, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, query, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("worker unreachable: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return fmt.Errorf("reading worker response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &statusError{status: resp.StatusCode, msg: workerError(data)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("worker unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading worker response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, &statusError{status: resp.StatusCode, msg: workerError(data)}
	}
	return data, resp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// statusError carries the worker's HTTP status so tools can treat "not
// found" differently from a hard failure.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("worker replied %d: %s", e.status, e.msg)
}

// isStatus reports whether err is a worker reply with the given status.
func isStatus(err error, status int) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == status
}

// workerError extracts the sanitized message from an API error body, falling
// back to the raw body for anything that is not the usual JSON shape.
func workerError(data []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &e); err == nil && e.Error != "" {
		return e.Error
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "no detail"
	}
	return s
}
