package clash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Options configures a controller client.
type Options struct {
	BaseURL      string
	Secret       string
	Timeout      time.Duration
	SnapshotTTL  time.Duration
	DelayURL     string
	DelayTimeout time.Duration
	Locale       string
	Retry        RetryConfig
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client is the gateway to the core's external controller.
type Client struct {
	base         *url.URL
	secret       string
	http         *http.Client
	retry        RetryConfig
	delayURL     string
	delayTimeout time.Duration
	sorter       *sorter
	logger       *slog.Logger

	snapshotTTL time.Duration
	snapMu      sync.Mutex
	snapshot    map[string]proxyPayload
	snapshotAt  time.Time
	now         func() time.Time
}

// NewClient validates the controller address and builds a client.
func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		return nil, fmt.Errorf("clash: controller url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("clash: parse controller url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("clash: unsupported controller scheme %q", base.Scheme)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delayURL := opts.DelayURL
	if delayURL == "" {
		delayURL = "https://www.gstatic.com/generate_204"
	}
	delayTimeout := opts.DelayTimeout
	if delayTimeout <= 0 {
		delayTimeout = 5 * time.Second
	}

	return &Client{
		base:         base,
		secret:       opts.Secret,
		http:         httpClient,
		retry:        opts.Retry,
		delayURL:     delayURL,
		delayTimeout: delayTimeout,
		sorter:       newSorter(opts.Locale),
		logger:       logger.With("component", "clash"),
		snapshotTTL:  opts.SnapshotTTL,
		now:          time.Now,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("clash: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	return req, nil
}

// do performs a single request and decodes a JSON answer into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("clash: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("clash: decode %s %s: %w", method, path, err)
	}
	return nil
}

// get retries idempotent reads.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return doWithRetry(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, path, query, nil, out)
	})
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		apiErr.Message = payload.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func escapeName(name string) string {
	return "/" + url.PathEscape(name)
}

// Version returns the core's reported version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var payload struct {
		Version string `json:"version"`
		Meta    bool   `json:"meta"`
	}
	if err := c.get(ctx, "/version", nil, &payload); err != nil {
		return "", err
	}
	if payload.Meta {
		return payload.Version + " (meta)", nil
	}
	return payload.Version, nil
}
