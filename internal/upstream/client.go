// Package upstream talks to OpenAI-compatible chat completion endpoints and
// turns their streamed responses into content fragments.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// HTTPClient is an interface for making HTTP requests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the tunables of the upstream call.
type Config struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// ReadTimeout bounds the whole exchange, from sending the request to
	// the last byte of the stream.
	ReadTimeout       time.Duration
	Temperature       float64
	MaxTokens         int
	ErrorSnippetLimit int
	// MaxEventSize bounds a single `data:` line in bytes.
	MaxEventSize int
}

// DefaultConfig mirrors the limits the add-in backend has always used.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       300 * time.Second,
		Temperature:       0.7,
		MaxTokens:         8000,
		ErrorSnippetLimit: 500,
		MaxEventSize:      10 * 1024 * 1024,
	}
}

// Request describes one streamed completion call.
type Request struct {
	URL    string
	Model  string
	APIKey string
	System string
	Prompt string
}

type Client struct {
	httpClient HTTPClient
	cfg        Config
	logger     zerolog.Logger
}

// NewClient returns a Client. A nil httpClient gets one built from cfg.
func NewClient(httpClient HTTPClient, cfg Config, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg)
	}
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
	}
}

// Open sends the completion request and returns the response stream once
// the upstream has answered with a success status. The caller must consume
// or Close the returned Stream.
func (c *Client) Open(ctx context.Context, req Request) (*Stream, error) {
	body, err := json.Marshal(c.buildBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	var (
		exchangeCtx context.Context
		cancel      context.CancelFunc
	)
	if c.cfg.ReadTimeout > 0 {
		exchangeCtx, cancel = context.WithTimeout(ctx, c.cfg.ReadTimeout)
	} else {
		exchangeCtx, cancel = context.WithCancel(ctx)
	}

	httpReq, err := http.NewRequestWithContext(exchangeCtx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}

	// Normalize token to avoid double "Bearer "
	bareToken := strings.TrimSpace(req.APIKey)
	if len(bareToken) >= 7 && strings.EqualFold(bareToken[:7], "Bearer ") {
		bareToken = strings.TrimSpace(bareToken[7:])
	}
	httpReq.Header.Set("Authorization", "Bearer "+bareToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	c.logger.Info().
		Str("url", req.URL).
		Str("model", req.Model).
		Str("authorization_preview", "Bearer "+maskToken(bareToken)).
		Int("prompt_length", utf8.RuneCountInString(req.Prompt)).
		Msg("Calling AI API (streaming)")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyError(ctx, exchangeCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := readSnippet(resp.Body, c.cfg.ErrorSnippetLimit)
		resp.Body.Close()
		cancel()
		c.logger.Warn().
			Int("status_code", resp.StatusCode).
			Str("content_type", resp.Header.Get("Content-Type")).
			Str("response_body", snippet).
			Msg("Received error response from upstream API")
		return nil, &Error{Kind: KindHTTP, StatusCode: resp.StatusCode, Body: snippet}
	}

	c.logger.Debug().
		Int("status_code", resp.StatusCode).
		Str("content_type", resp.Header.Get("Content-Type")).
		Msg("Received response from upstream API")

	maxLine := c.cfg.MaxEventSize
	if maxLine <= 0 {
		maxLine = DefaultConfig().MaxEventSize
	}
	return &Stream{
		body:        resp.Body,
		parent:      ctx,
		exchange:    exchangeCtx,
		cancel:      cancel,
		maxLineSize: maxLine,
		logger:      c.logger,
	}, nil
}

func (c *Client) buildBody(req Request) ChatCompletionRequest {
	temperature := c.cfg.Temperature
	maxTokens := c.cfg.MaxTokens

	messages := make([]ChatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: req.Prompt})

	body := ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: &temperature,
		Stream:      true,
	}
	if maxTokens > 0 {
		body.MaxTokens = &maxTokens
	}
	return body
}

// readSnippet drains body best effort and returns at most limit characters.
func readSnippet(body io.Reader, limit int) string {
	if body == nil {
		return ""
	}
	r := body
	if limit > 0 {
		// A character is at most four bytes of UTF-8.
		r = io.LimitReader(body, int64(limit)*utf8.UTFMax+1)
	}
	raw, _ := io.ReadAll(r)
	text := strings.ToValidUTF8(string(raw), "")
	if limit > 0 && utf8.RuneCountInString(text) > limit {
		return string([]rune(text)[:limit])
	}
	return text
}

func maskToken(token string) string {
	if len(token) > 12 {
		return token[:6] + "…" + token[len(token)-6:]
	}
	return token
}
