// Package ollama is a client for a local Ollama inference server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/prepstack/enrich-cli/internal/resilience"
)

const defaultBaseURL = "http://localhost:11434"

// Client performs generation requests against a local Ollama server.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
	Ping(ctx context.Context) error
}

// GenerateOptions is the decoding options object sent with each request.
type GenerateOptions struct {
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p,omitempty"`
	NumPredict    int     `json:"num_predict,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

// GenerateRequest is the request body for POST /api/generate. Streaming is
// always disabled; the pipeline consumes whole responses.
type GenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options GenerateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// ModelInfo describes one locally available model.
type ModelInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified_at"`
	Digest   string `json:"digest"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default server URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRetry overrides the retry policy for generation calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates an Ollama client. Generation calls retry on connection
// failure, non-2xx status and timeout with exponential backoff.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	req.Stream = false

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("ollama", "generate")
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		return c.generateOnce(ctx, req)
	})
}

func (c *httpClient) generateOnce(ctx context.Context, req GenerateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", eris.Wrap(err, "ollama: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "ollama: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "ollama: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resilience.NewBackendError(resilience.KindBadStatus, resp.StatusCode,
			eris.Errorf("ollama: unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", eris.Wrap(err, "ollama: unmarshal response")
	}

	return result.Response, nil
}

func (c *httpClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, eris.Wrap(err, "ollama: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.NewBackendError(resilience.KindBadStatus, resp.StatusCode,
			eris.Errorf("ollama: unexpected status %d", resp.StatusCode))
	}

	var result tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, eris.Wrap(err, "ollama: unmarshal tags")
	}

	return result.Models, nil
}

// Ping verifies the server is reachable by listing models.
func (c *httpClient) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return resilience.NewBackendError(resilience.KindTimeout, 0, eris.Wrap(err, "ollama: request timed out"))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.NewBackendError(resilience.KindTimeout, 0, eris.Wrap(err, "ollama: request timed out"))
	}
	return resilience.NewBackendError(resilience.KindConnection, 0, eris.Wrap(err, "ollama: send request"))
}
