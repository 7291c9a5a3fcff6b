// Package gateway issues generate, chat and model listing requests to an
// Ollama-compatible model server.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/papercomputeco/imagepipe/pkg/llm"
)

const maxErrorBody = 4 << 10

// Config configures a Client.
type Config struct {
	// BaseURL of the model server (e.g., "http://localhost:11434"). A trailing
	// "/v1" is accepted and stripped for the native API.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds a whole request including reading the stream. Zero
	// means no timeout.
	Timeout time.Duration
}

// Client talks to the model server. It holds no per-request state.
type Client struct {
	apiRoot    *url.URL
	apiKey     string
	httpClient *http.Client
	models     *openai.Client
	logger     *zap.Logger
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	root, err := apiRoot(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	openaiConfig := openai.DefaultConfig(cfg.APIKey)
	openaiConfig.BaseURL = root.JoinPath("v1").String()
	openaiConfig.HTTPClient = httpClient

	return &Client{
		apiRoot:    root,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		models:     openai.NewClientWithConfig(openaiConfig),
		logger:     logger,
	}, nil
}

func apiRoot(base string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", base)
	}

	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/v1")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// Generate posts a generate request and returns the response stream.
// The caller must close it.
func (c *Client) Generate(ctx context.Context, req *llm.GenerateRequest) (io.ReadCloser, error) {
	c.logger.Debug("sending generate request",
		zap.String("model", req.Model),
		zap.Int("images", len(req.Images)),
		zap.Int("prompt_length", len(req.Prompt)),
	)
	return c.post(ctx, "api/generate", req)
}

// Chat posts a chat request and returns the response stream.
// The caller must close it.
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (io.ReadCloser, error) {
	c.logger.Debug("sending chat request",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)
	return c.post(ctx, "api/chat", req)
}

// ListModels returns the identifiers served by the OpenAI-compatible
// model listing endpoint.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.models.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	upstreamURL := c.apiRoot.JoinPath(path).String()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError{URL: upstreamURL, Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		c.logger.Error("upstream returned error",
			zap.String("url", upstreamURL),
			zap.Int("status", httpResp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, llm.TransportError{URL: upstreamURL, StatusCode: httpResp.StatusCode, Body: string(body)}
	}

	return httpResp.Body, nil
}
