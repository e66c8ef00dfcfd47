// Package openai implements llm.Provider against OpenAI's chat
// completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/voiceloop/voiceloop/internal/httpclient"
	"github.com/voiceloop/voiceloop/obs"
)

// Client calls the chat completions endpoint with a single user message.
type Client struct {
	httpClient *http.Client
	opts       options
}

// New constructs a new OpenAI client.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.New(httpclient.WithTimeout(o.timeout))
	}
	return &Client{httpClient: o.httpClient, opts: o}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Complete implements llm.Provider.
func (c *Client) Complete(ctx context.Context, prompt string) (_ string, err error) {
	ctx, recorder := obs.StartRequest(ctx, "llm.openai.Complete",
		attribute.String("ai.provider", "openai"),
		attribute.String("ai.model", c.opts.model),
	)
	defer func() { recorder.End(err) }()

	payload := chatCompletionRequest{
		Model:       c.opts.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.opts.temperature,
		MaxTokens:   c.opts.maxTokens,
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/chat/completions", payload)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var resp chatCompletionResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) (io.ReadCloser, error) {
	buf := &bytes.Buffer{}
	if payload != nil {
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.opts.baseURL, "/")+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai: %s: %s", resp.Status, data)
	}
	return resp.Body, nil
}
